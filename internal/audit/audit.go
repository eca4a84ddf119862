// Package audit defines the append-only audit sink for Kundi.
// Every subtask transition, mailbox send, finding, trust update, purpose
// transition, and policy violation is recorded with actor, timestamp, and
// before/after state. The sink is a write-only dependency of the core:
// nothing in the coordination path ever reads it back.
package audit

import (
	"context"
	"time"
)

// Action names recorded in the audit log.
const (
	ActionSubtaskTransition  = "subtask.transition"
	ActionWorkflowTransition = "workflow.transition"
	ActionMailboxSend        = "mailbox.send"
	ActionMailboxReceive     = "mailbox.receive"
	ActionCritiqueFinding    = "critique.finding"
	ActionCritiqueConsensus  = "critique.consensus"
	ActionCritiqueEscalation = "critique.escalation"
	ActionTrustUpdate        = "trust.update"
	ActionPurposeDeclared    = "purpose.declared"
	ActionPurposeClosed      = "purpose.closed"
	ActionPolicyViolation    = "policy.violation"
	ActionToolInvocation     = "tool.invocation"
)

// Event is a single entry in the append-only audit log.
// Before/After carry the state transition when one applies.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Actor         string    `json:"actor"`   // Agent ID or "system".
	Action        string    `json:"action"`  // One of the Action* constants.
	Subject       string    `json:"subject"` // Workflow, subtask, message, or agent ID.
	Before        string    `json:"before,omitempty"`
	After         string    `json:"after,omitempty"`
	Result        string    `json:"result"` // "success", "failure", "denied".
	Detail        string    `json:"detail,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Sink is the append-only audit contract.
// No update or delete methods — immutability enforced at the interface level.
type Sink interface {
	// Record appends a single audit event. Never updates or deletes.
	Record(ctx context.Context, event Event) error
}

// NopSink discards all events. Used in tests and when auditing is disabled
// at the component level (the composed system always wires a real sink).
type NopSink struct{}

func (NopSink) Record(context.Context, Event) error { return nil }

// Stamp fills in the timestamp if the caller left it zero.
func Stamp(e Event) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}

// multiSink fans one Record out to several sinks. The first error is
// returned after every sink has been given the event.
type multiSink []Sink

func (m multiSink) Record(ctx context.Context, event Event) error {
	event = Stamp(event)
	var first error
	for _, s := range m {
		if err := s.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Multi combines sinks into one. Nil sinks are skipped; zero usable
// sinks collapse to NopSink and a single sink is returned as-is.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return NopSink{}
	case 1:
		return out[0]
	}
	return out
}
