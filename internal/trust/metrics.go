package trust

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the trust scorer.
type Metrics struct {
	UpdatesTotal *prometheus.CounterVec
	ScoreGauge   *prometheus.GaugeVec
}

// NewMetrics creates and registers trust metrics on the given registry.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		UpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "trust",
			Name:      "updates_total",
			Help:      "Total trust score updates by reason.",
		}, []string{"reason"}),

		ScoreGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kundi",
			Subsystem: "trust",
			Name:      "score",
			Help:      "Current trust score per subject.",
		}, []string{"subject_id"}),
	}

	reg.MustRegister(m.UpdatesTotal, m.ScoreGauge)
	return m
}
