// Package workflow implements DAG-based decomposition and dispatch of
// agent work. A workflow is a goal broken into subtasks with explicit
// dependencies; the engine dispatches subtasks to agent mailboxes as
// their dependencies complete, retries transient failures, and cascades
// terminal failures to dependents.
package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Status is the aggregate workflow state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// SubtaskStatus is the per-subtask lifecycle state.
type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "pending"
	SubtaskDispatched SubtaskStatus = "dispatched" // Task message sent, not yet picked up.
	SubtaskRunning    SubtaskStatus = "running"
	SubtaskCompleted  SubtaskStatus = "completed"
	SubtaskFailed     SubtaskStatus = "failed"
	SubtaskSkipped    SubtaskStatus = "skipped" // Upstream failure or cancellation.
)

// Terminal reports whether the subtask will never run again.
func (s SubtaskStatus) Terminal() bool {
	return s == SubtaskCompleted || s == SubtaskFailed || s == SubtaskSkipped
}

// Workflow is the top-level unit of coordinated work.
type Workflow struct {
	ID            uuid.UUID
	SessionID     string
	CorrelationID string
	Goal          string
	Status        Status
	SubtaskCount  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
	Error         string
}

// Subtask is one node of the workflow DAG.
type Subtask struct {
	ID          uuid.UUID
	WorkflowID  uuid.UUID
	AgentRole   string
	AgentID     string // Assigned agent; resolved at dispatch.
	Description string
	Input       string
	Output      string
	Status      SubtaskStatus
	DependsOn   []uuid.UUID
	Order       int // Position in the decomposition; dispatch tie-break.

	// RequiresReview holds the subtask until the workflow's latest
	// critique session decided go.
	RequiresReview bool

	Attempts      int // Dispatch attempts consumed.
	NextAttemptAt *time.Time

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
}

// SubtaskSpec is one planned subtask before IDs exist. DependsOn holds
// indices into the spec slice.
type SubtaskSpec struct {
	AgentRole      string `json:"agent_role"`
	AgentID        string `json:"agent_id,omitempty"`
	Description    string `json:"description"`
	Input          string `json:"input,omitempty"`
	DependsOn      []int  `json:"depends_on,omitempty"`
	RequiresReview bool   `json:"requires_review,omitempty"`
}

// Request is the input to Submit.
type Request struct {
	SessionID     string
	CorrelationID string
	Goal          string
	Subtasks      []SubtaskSpec // Empty = run the configured Decomposer.
}
