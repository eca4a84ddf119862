package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the background sweeps.
type Metrics struct {
	DispatchSweeps   prometheus.Counter
	SubtasksResent   prometheus.Counter
	AgentsMarkedDown prometheus.Counter
	TrustRecoveries  prometheus.Counter
	SweepDuration    *prometheus.HistogramVec
}

// NewMetrics creates and registers sweep metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		DispatchSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "scheduler",
			Name:      "dispatch_sweeps_total",
			Help:      "Total dispatch sweep runs.",
		}),
		SubtasksResent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "scheduler",
			Name:      "subtasks_resent_total",
			Help:      "Total subtasks re-dispatched by the sweep.",
		}),
		AgentsMarkedDown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "scheduler",
			Name:      "agents_marked_down_total",
			Help:      "Total agents marked unhealthy by the stale sweep.",
		}),
		TrustRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "scheduler",
			Name:      "trust_recoveries_total",
			Help:      "Total clean-period trust recoveries applied.",
		}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kundi",
			Subsystem: "scheduler",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of each sweep run.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"sweep"}),
	}

	reg.MustRegister(
		m.DispatchSweeps,
		m.SubtasksResent,
		m.AgentsMarkedDown,
		m.TrustRecoveries,
		m.SweepDuration,
	)

	return m
}
