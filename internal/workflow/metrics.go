package workflow

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the workflow engine.
// All metrics use the kundi_workflow_ namespace.
type Metrics struct {
	SubmittedTotal   prometheus.Counter
	FinishedTotal    *prometheus.CounterVec
	DispatchedTotal  prometheus.Counter
	RetriedTotal     prometheus.Counter
	CompletedTotal   *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	ActiveWorkflows  prometheus.Gauge
}

// NewMetrics creates and registers workflow metrics on the given registry.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		SubmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "workflow",
			Name:      "submitted_total",
			Help:      "Total workflows submitted.",
		}),

		FinishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "workflow",
			Name:      "finished_total",
			Help:      "Total workflows by final status.",
		}, []string{"status"}),

		DispatchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "workflow",
			Name:      "subtasks_dispatched_total",
			Help:      "Total subtask dispatch messages sent.",
		}),

		RetriedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "workflow",
			Name:      "subtasks_retried_total",
			Help:      "Total subtask failures scheduled for retry.",
		}),

		CompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "workflow",
			Name:      "subtasks_finished_total",
			Help:      "Total subtasks by terminal status.",
		}, []string{"status"}),

		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kundi",
			Subsystem: "workflow",
			Name:      "subtask_transitions_total",
			Help:      "Total subtask state transitions by target state.",
		}, []string{"to"}),

		ActiveWorkflows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kundi",
			Subsystem: "workflow",
			Name:      "active_workflows",
			Help:      "Number of currently running workflows.",
		}),
	}

	reg.MustRegister(
		m.SubmittedTotal,
		m.FinishedTotal,
		m.DispatchedTotal,
		m.RetriedTotal,
		m.CompletedTotal,
		m.TransitionsTotal,
		m.ActiveWorkflows,
	)

	return m
}
