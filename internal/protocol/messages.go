// Package protocol defines the typed payloads carried by mailbox messages
// and the envelope used on the WebSocket agent transport.
// Payloads are a tagged union keyed by MessageType: each variant is a
// concrete struct validated at construction time, not at consumption.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies a mailbox message.
type MessageType string

const (
	MsgTask         MessageType = "task"         // Engine -> agent: subtask assignment.
	MsgResult       MessageType = "result"       // Agent -> engine: subtask outcome.
	MsgAsyncResult  MessageType = "async_result" // Long-running work delivered at inject priority.
	MsgIntervention MessageType = "intervention" // Escalation requiring a human decision.
	MsgSystem       MessageType = "system"       // Lifecycle notices (cancellation, reload).
)

// ErrInvalidPayload is returned when a payload fails construction-time validation.
var ErrInvalidPayload = errors.New("invalid message payload")

// Payload is one variant of the mailbox message tagged union.
type Payload interface {
	// Type returns the MessageType this payload belongs to.
	Type() MessageType
	// Validate checks structural invariants. Called once, at construction.
	Validate() error
}

// TaskPayload assigns a subtask to an agent.
type TaskPayload struct {
	SubtaskID   uuid.UUID `json:"subtask_id"`
	WorkflowID  uuid.UUID `json:"workflow_id"`
	Description string    `json:"description"`
	Input       string    `json:"input,omitempty"`
	Attempt     int       `json:"attempt"` // 1-based attempt number.
}

func (p TaskPayload) Type() MessageType { return MsgTask }

func (p TaskPayload) Validate() error {
	if p.SubtaskID == uuid.Nil {
		return fmt.Errorf("%w: task payload missing subtask_id", ErrInvalidPayload)
	}
	if p.WorkflowID == uuid.Nil {
		return fmt.Errorf("%w: task payload missing workflow_id", ErrInvalidPayload)
	}
	if p.Description == "" {
		return fmt.Errorf("%w: task payload missing description", ErrInvalidPayload)
	}
	if p.Attempt < 1 {
		return fmt.Errorf("%w: task payload attempt must be >= 1, got %d", ErrInvalidPayload, p.Attempt)
	}
	return nil
}

// ResultStatus is the agent-reported outcome of a subtask.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
)

// ResultPayload reports the outcome of an assigned subtask.
type ResultPayload struct {
	SubtaskID  uuid.UUID    `json:"subtask_id"`
	WorkflowID uuid.UUID    `json:"workflow_id"`
	Status     ResultStatus `json:"status"`
	Output     string       `json:"output,omitempty"`
	Error      string       `json:"error,omitempty"`
	Duration   string       `json:"duration,omitempty"`
}

func (p ResultPayload) Type() MessageType { return MsgResult }

func (p ResultPayload) Validate() error {
	if p.SubtaskID == uuid.Nil {
		return fmt.Errorf("%w: result payload missing subtask_id", ErrInvalidPayload)
	}
	switch p.Status {
	case ResultCompleted, ResultFailed:
	default:
		return fmt.Errorf("%w: result payload status %q", ErrInvalidPayload, p.Status)
	}
	if p.Status == ResultFailed && p.Error == "" {
		return fmt.Errorf("%w: failed result requires an error description", ErrInvalidPayload)
	}
	return nil
}

// AsyncResultPayload delivers the result of long-running asynchronous work.
// It is sent at the reserved inject priority so it is surfaced on the
// recipient's very next turn, ahead of any normal-priority backlog.
type AsyncResultPayload struct {
	RequestID uuid.UUID `json:"request_id"`
	Origin    string    `json:"origin"` // Agent that produced the result.
	Summary   string    `json:"summary"`
	Output    string    `json:"output,omitempty"`
}

func (p AsyncResultPayload) Type() MessageType { return MsgAsyncResult }

func (p AsyncResultPayload) Validate() error {
	if p.RequestID == uuid.Nil {
		return fmt.Errorf("%w: async result missing request_id", ErrInvalidPayload)
	}
	if p.Summary == "" {
		return fmt.Errorf("%w: async result missing summary", ErrInvalidPayload)
	}
	return nil
}

// InterventionPayload escalates a decision to a human gateway.
// Produced on consensus failure and on trust collapse; never auto-resolved.
type InterventionPayload struct {
	Reason     string     `json:"reason"`
	Severity   string     `json:"severity"` // "critical" or "high".
	SessionID  *uuid.UUID `json:"session_id,omitempty"`
	WorkflowID *uuid.UUID `json:"workflow_id,omitempty"`
}

func (p InterventionPayload) Type() MessageType { return MsgIntervention }

func (p InterventionPayload) Validate() error {
	if p.Reason == "" {
		return fmt.Errorf("%w: intervention missing reason", ErrInvalidPayload)
	}
	if p.Severity != "critical" && p.Severity != "high" {
		return fmt.Errorf("%w: intervention severity %q", ErrInvalidPayload, p.Severity)
	}
	return nil
}

// SystemEvent enumerates the lifecycle notices carried by system messages.
type SystemEvent string

const (
	SystemCancelRequested SystemEvent = "cancel_requested"
	SystemConfigReloaded  SystemEvent = "config_reloaded"
	SystemAgentUnhealthy  SystemEvent = "agent_unhealthy"
)

// SystemPayload carries a lifecycle notice.
type SystemPayload struct {
	Event      SystemEvent `json:"event"`
	SubtaskID  *uuid.UUID  `json:"subtask_id,omitempty"`
	WorkflowID *uuid.UUID  `json:"workflow_id,omitempty"`
	Detail     string      `json:"detail,omitempty"`
}

func (p SystemPayload) Type() MessageType { return MsgSystem }

func (p SystemPayload) Validate() error {
	switch p.Event {
	case SystemCancelRequested, SystemConfigReloaded, SystemAgentUnhealthy:
		return nil
	default:
		return fmt.Errorf("%w: unknown system event %q", ErrInvalidPayload, p.Event)
	}
}

// Encode validates the payload and marshals it for storage.
func Encode(p Payload) (json.RawMessage, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", p.Type(), err)
	}
	return data, nil
}

// Decode unmarshals a stored payload back into its typed variant.
func Decode(t MessageType, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case MsgTask:
		var v TaskPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decoding task payload: %w", err)
		}
		p = v
	case MsgResult:
		var v ResultPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decoding result payload: %w", err)
		}
		p = v
	case MsgAsyncResult:
		var v AsyncResultPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decoding async result payload: %w", err)
		}
		p = v
	case MsgIntervention:
		var v InterventionPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decoding intervention payload: %w", err)
		}
		p = v
	case MsgSystem:
		var v SystemPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decoding system payload: %w", err)
		}
		p = v
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidPayload, t)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// --- WebSocket transport envelope ---

// FrameType identifies the kind of frame on the agent WebSocket transport.
type FrameType string

const (
	// Agent -> coordinator
	FrameRegister  FrameType = "agent.register"
	FrameHeartbeat FrameType = "agent.heartbeat"
	FrameResult    FrameType = "task.result"
	FrameCancelAck FrameType = "task.cancel_ack"

	// Coordinator -> agent
	FrameRegistered FrameType = "coordinator.registered"
	FrameDeliver    FrameType = "mailbox.deliver"
	FrameError      FrameType = "error"
)

// Frame is the top-level wrapper for all WebSocket communication.
type Frame struct {
	Type      FrameType       `json:"type"`
	ID        string          `json:"id"` // Frame ID for correlation and deduplication.
	AgentID   string          `json:"agent_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewFrame creates a Frame with a fresh ID and current timestamp.
func NewFrame(frameType FrameType, payload any) (*Frame, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Frame{
		Type:      frameType,
		ID:        uuid.New().String(),
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// DecodePayload unmarshals the frame payload into the given target.
func (f *Frame) DecodePayload(target any) error {
	return json.Unmarshal(f.Payload, target)
}

// RegisterFrame is sent with FrameRegister when an agent connects.
type RegisterFrame struct {
	AgentID      string   `json:"agent_id"`
	Role         string   `json:"role"`
	Tier         string   `json:"tier"`
	Capabilities []string `json:"capabilities"`
	Version      string   `json:"version"`
}

// HeartbeatFrame is sent with FrameHeartbeat periodically.
type HeartbeatFrame struct {
	ActiveSubtasks int `json:"active_subtasks"`
}

// DeliverFrame pushes a mailbox message to a connected agent.
type DeliverFrame struct {
	MessageID string          `json:"message_id"`
	Kind      MessageType     `json:"kind"`
	Priority  int             `json:"priority"`
	Payload   json.RawMessage `json:"payload"`
}

// ErrorFrame is sent with FrameError for protocol-level errors.
type ErrorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
