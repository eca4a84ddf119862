package mailbox

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for mailbox delivery.
// All metrics use the kundi_mailbox_ namespace.
type Metrics struct {
	SentTotal     *prometheus.CounterVec
	ReceivedTotal prometheus.Counter
	UnreadGauge   *prometheus.GaugeVec
}

// NewMetrics creates and registers mailbox metrics on the given registry.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		SentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "mailbox",
			Name:      "sent_total",
			Help:      "Total messages sent by message type.",
		}, []string{"type"}),

		ReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "mailbox",
			Name:      "received_total",
			Help:      "Total messages delivered to agents.",
		}),

		UnreadGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kundi",
			Subsystem: "mailbox",
			Name:      "unread",
			Help:      "Unread messages per agent.",
		}, []string{"agent_id"}),
	}

	reg.MustRegister(m.SentTotal, m.ReceivedTotal, m.UnreadGauge)
	return m
}
