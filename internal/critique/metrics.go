package critique

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the critique engine.
// All metrics use the kundi_critique_ namespace.
type Metrics struct {
	RoundsTotal         *prometheus.CounterVec
	FindingsTotal       *prometheus.CounterVec
	CriticFailuresTotal *prometheus.CounterVec
	RevisionsTotal      prometheus.Counter
	EscalationsTotal    prometheus.Counter
}

// NewMetrics creates and registers critique metrics on the given registry.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		RoundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "critique",
			Name:      "rounds_total",
			Help:      "Total review rounds by verdict.",
		}, []string{"verdict"}),

		FindingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "critique",
			Name:      "findings_total",
			Help:      "Total findings recorded by severity.",
		}, []string{"severity"}),

		CriticFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "critique",
			Name:      "critic_failures_total",
			Help:      "Total critic errors or timeouts by critic.",
		}, []string{"critic"}),

		RevisionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "critique",
			Name:      "revisions_total",
			Help:      "Total revision rounds performed after NOGO verdicts.",
		}),

		EscalationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "critique",
			Name:      "escalations_total",
			Help:      "Total sessions escalated to human intervention.",
		}),
	}

	reg.MustRegister(
		m.RoundsTotal,
		m.FindingsTotal,
		m.CriticFailuresTotal,
		m.RevisionsTotal,
		m.EscalationsTotal,
	)

	return m
}
