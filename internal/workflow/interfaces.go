package workflow

import (
	"context"

	"github.com/google/uuid"
)

// Engine is the public API for workflow coordination.
type Engine interface {
	// Submit creates a workflow from a goal, validates its DAG, and
	// dispatches the initial ready set.
	Submit(ctx context.Context, req *Request) (*Workflow, error)

	// Status returns the current state of a workflow.
	Status(ctx context.Context, workflowID uuid.UUID) (*Workflow, error)

	// OnStarted records that an agent picked up a dispatched subtask.
	OnStarted(ctx context.Context, subtaskID uuid.UUID, agentID string) error

	// OnResult applies a subtask result reported by an agent: success
	// unlocks dependents, failure retries or cascades.
	OnResult(ctx context.Context, subtaskID uuid.UUID, success bool, output, errMsg string) error

	// Cancel requests best-effort cancellation of a running workflow.
	Cancel(ctx context.Context, workflowID uuid.UUID) error

	// AckCancel records that an agent stopped work on a subtask after a
	// cancel notice.
	AckCancel(ctx context.Context, subtaskID uuid.UUID) error

	// ListSubtasks returns all subtasks for a workflow in creation order.
	ListSubtasks(ctx context.Context, workflowID uuid.UUID) ([]Subtask, error)

	// DispatchReady sends task messages for every ready subtask of the
	// workflow. Idempotent: a subtask already dispatched is not re-sent.
	DispatchReady(ctx context.Context, workflowID uuid.UUID) (int, error)

	// WithReviewGate attaches the gate consulted before dispatching
	// review-gated subtasks. Without one they dispatch ungated.
	WithReviewGate(gate ReviewGate) Engine
}

// ReviewGate reports whether a workflow's adversarial review reached a
// binding go. Subtasks marked RequiresReview stay pending until it does.
type ReviewGate interface {
	Cleared(ctx context.Context, workflowID uuid.UUID) (bool, error)
}

// Store persists workflow and subtask state.
type Store interface {
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	UpdateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error)
	ListWorkflows(ctx context.Context, statuses []Status) ([]Workflow, error)

	CreateSubtask(ctx context.Context, st *Subtask) error
	UpdateSubtask(ctx context.Context, st *Subtask) error
	GetSubtask(ctx context.Context, id uuid.UUID) (*Subtask, error)
	ListSubtasks(ctx context.Context, workflowID uuid.UUID) ([]Subtask, error)

	// TransitionSubtask atomically moves the subtask from one status to
	// another, applying mutate to the row inside the same critical
	// section. Returns false with no error when the subtask is not in
	// the from status — the caller lost the race and must not resend.
	TransitionSubtask(ctx context.Context, id uuid.UUID, from, to SubtaskStatus, mutate func(*Subtask)) (bool, error)
}

// Decomposer plans a goal into subtask specs when the caller supplies
// none. Implementations typically prompt a planner-role model.
type Decomposer interface {
	Decompose(ctx context.Context, goal string) ([]SubtaskSpec, error)
}

// DecomposerFunc adapts a function to the Decomposer interface.
type DecomposerFunc func(ctx context.Context, goal string) ([]SubtaskSpec, error)

func (f DecomposerFunc) Decompose(ctx context.Context, goal string) ([]SubtaskSpec, error) {
	return f(ctx, goal)
}
