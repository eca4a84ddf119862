package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/kundi/internal/audit"
	"github.com/jkaninda/kundi/internal/mailbox"
	"github.com/jkaninda/kundi/internal/protocol"
)

var (
	ErrEmptyGoal    = errors.New("workflow goal is empty")
	ErrEmptyPlan    = errors.New("workflow plan contains no subtasks")
	ErrTooManyTasks = errors.New("workflow plan exceeds the subtask limit")
)

// Config bounds engine behavior. Zero values use defaults.
type Config struct {
	MaxAttempts  int           // Dispatch attempts per subtask before permanent failure.
	RetryBackoff time.Duration // Base delay before a retry becomes eligible.
	MaxSubtasks  int           // Upper bound on plan size.
}

func (c Config) maxAttempts() int {
	if c.MaxAttempts <= 0 {
		return 3
	}
	return c.MaxAttempts
}

func (c Config) retryBackoff() time.Duration {
	if c.RetryBackoff <= 0 {
		return 5 * time.Second
	}
	return c.RetryBackoff
}

func (c Config) maxSubtasks() int {
	if c.MaxSubtasks <= 0 {
		return 100
	}
	return c.MaxSubtasks
}

// engine coordinates decomposition, dispatch, and result handling.
type engine struct {
	store      Store
	mbox       *mailbox.Mailbox
	decomposer Decomposer
	gate       ReviewGate
	sink       audit.Sink
	metrics    *Metrics
	logger     *slog.Logger
	config     Config
	now        func() time.Time
}

var _ Engine = (*engine)(nil)

// NewEngine wires a workflow engine. decomposer may be nil when callers
// always submit explicit plans.
func NewEngine(
	store Store,
	mbox *mailbox.Mailbox,
	decomposer Decomposer,
	sink audit.Sink,
	metrics *Metrics,
	logger *slog.Logger,
	config Config,
) Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &engine{
		store:      store,
		mbox:       mbox,
		decomposer: decomposer,
		sink:       sink,
		metrics:    metrics,
		logger:     logger,
		config:     config,
		now:        time.Now,
	}
}

func (e *engine) WithReviewGate(gate ReviewGate) Engine {
	e.gate = gate
	return e
}

func (e *engine) Submit(ctx context.Context, req *Request) (*Workflow, error) {
	if strings.TrimSpace(req.Goal) == "" {
		return nil, ErrEmptyGoal
	}

	specs := req.Subtasks
	if len(specs) == 0 {
		if e.decomposer == nil {
			return nil, ErrEmptyPlan
		}
		var err error
		specs, err = e.decomposer.Decompose(ctx, req.Goal)
		if err != nil {
			return nil, fmt.Errorf("decomposing goal: %w", err)
		}
	}
	if len(specs) == 0 {
		return nil, ErrEmptyPlan
	}
	if len(specs) > e.config.maxSubtasks() {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyTasks, len(specs), e.config.maxSubtasks())
	}

	// Validation happens before anything is persisted: a rejected plan
	// leaves no partial workflow behind.
	if err := ValidateDAG(specs); err != nil {
		return nil, fmt.Errorf("invalid subtask graph: %w", err)
	}

	now := e.now().UTC()
	wf := &Workflow{
		ID:            uuid.New(),
		SessionID:     req.SessionID,
		CorrelationID: req.CorrelationID,
		Goal:          req.Goal,
		Status:        StatusPending,
		SubtaskCount:  len(specs),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("creating workflow: %w", err)
	}

	ids := make([]uuid.UUID, len(specs))
	for i := range specs {
		ids[i] = uuid.New()
	}
	deps := ResolveDependencies(specs, ids)

	for i, spec := range specs {
		agentID := spec.AgentID
		if agentID == "" {
			agentID = spec.AgentRole
		}
		st := &Subtask{
			ID:             ids[i],
			WorkflowID:     wf.ID,
			AgentRole:      spec.AgentRole,
			AgentID:        agentID,
			Description:    spec.Description,
			Input:          spec.Input,
			Status:         SubtaskPending,
			DependsOn:      deps[i],
			Order:          i,
			RequiresReview: spec.RequiresReview,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.store.CreateSubtask(ctx, st); err != nil {
			return nil, fmt.Errorf("creating subtask %d: %w", i, err)
		}
	}

	wf.Status = StatusRunning
	wf.UpdatedAt = now
	if err := e.store.UpdateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("starting workflow: %w", err)
	}
	e.auditWorkflow(ctx, wf, StatusPending, StatusRunning, "submitted")

	if e.metrics != nil {
		e.metrics.SubmittedTotal.Inc()
		e.metrics.ActiveWorkflows.Inc()
	}
	e.logger.InfoContext(ctx, "workflow submitted",
		slog.String("workflow_id", wf.ID.String()),
		slog.String("session_id", req.SessionID),
		slog.String("correlation_id", req.CorrelationID),
		slog.Int("subtasks", len(specs)),
	)

	if _, err := e.DispatchReady(ctx, wf.ID); err != nil {
		return nil, fmt.Errorf("initial dispatch: %w", err)
	}
	return wf, nil
}

func (e *engine) Status(ctx context.Context, workflowID uuid.UUID) (*Workflow, error) {
	return e.store.GetWorkflow(ctx, workflowID)
}

func (e *engine) ListSubtasks(ctx context.Context, workflowID uuid.UUID) ([]Subtask, error) {
	return e.store.ListSubtasks(ctx, workflowID)
}

// DispatchReady sends a task message for every pending subtask whose
// dependencies are complete and whose retry backoff has elapsed. The
// pending->dispatched transition is a compare-and-swap, so concurrent
// dispatchers cannot double-send a subtask.
func (e *engine) DispatchReady(ctx context.Context, workflowID uuid.UUID) (int, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	if wf.Status != StatusRunning {
		return 0, nil
	}

	subtasks, err := e.store.ListSubtasks(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	completed := make(map[uuid.UUID]bool, len(subtasks))
	for _, st := range subtasks {
		if st.Status == SubtaskCompleted {
			completed[st.ID] = true
		}
	}

	ready := FilterReady(subtasks, completed, e.now())
	sort.SliceStable(ready, func(i, j int) bool { return ready[i].Order < ready[j].Order })

	// The gate is consulted at most once per sweep; an uncleared review
	// leaves gated subtasks pending for a later sweep.
	reviewCleared, reviewChecked := false, false
	dispatched := 0
	for _, st := range ready {
		if st.RequiresReview && e.gate != nil {
			if !reviewChecked {
				reviewCleared, err = e.gate.Cleared(ctx, workflowID)
				if err != nil {
					return dispatched, fmt.Errorf("consulting review gate: %w", err)
				}
				reviewChecked = true
			}
			if !reviewCleared {
				e.logger.DebugContext(ctx, "subtask held for review",
					slog.String("workflow_id", workflowID.String()),
					slog.String("subtask_id", st.ID.String()),
				)
				continue
			}
		}
		var snapshot Subtask
		ok, err := e.store.TransitionSubtask(ctx, st.ID, SubtaskPending, SubtaskDispatched, func(s *Subtask) {
			s.Attempts++
			s.NextAttemptAt = nil
			s.UpdatedAt = e.now().UTC()
			snapshot = *s
		})
		if err != nil {
			return dispatched, fmt.Errorf("dispatching subtask %s: %w", st.ID, err)
		}
		if !ok {
			// Another dispatcher won the race.
			continue
		}

		payload := protocol.TaskPayload{
			SubtaskID:   snapshot.ID,
			WorkflowID:  workflowID,
			Description: snapshot.Description,
			Input:       snapshot.Input,
			Attempt:     snapshot.Attempts,
		}
		if _, err := e.mbox.Send(ctx, "workflow-engine", snapshot.AgentID, payload, mailbox.PriorityDefault); err != nil {
			// Roll the subtask back so a later sweep can retry the send.
			_, _ = e.store.TransitionSubtask(ctx, st.ID, SubtaskDispatched, SubtaskPending, func(s *Subtask) {
				s.Attempts--
				s.UpdatedAt = e.now().UTC()
			})
			return dispatched, fmt.Errorf("sending task to %s: %w", snapshot.AgentID, err)
		}

		e.auditSubtask(ctx, &snapshot, SubtaskPending, SubtaskDispatched, "")
		if e.metrics != nil {
			e.metrics.DispatchedTotal.Inc()
		}
		dispatched++
	}

	if dispatched > 0 {
		e.logger.DebugContext(ctx, "subtasks dispatched",
			slog.String("workflow_id", workflowID.String()),
			slog.Int("count", dispatched),
		)
	}
	return dispatched, nil
}

func (e *engine) OnStarted(ctx context.Context, subtaskID uuid.UUID, agentID string) error {
	ok, err := e.store.TransitionSubtask(ctx, subtaskID, SubtaskDispatched, SubtaskRunning, func(s *Subtask) {
		started := e.now().UTC()
		s.StartedAt = &started
		s.UpdatedAt = started
		if agentID != "" {
			s.AgentID = agentID
		}
	})
	if err != nil {
		return err
	}
	if !ok {
		// Late or duplicate start report; current state wins.
		return nil
	}
	st, err := e.store.GetSubtask(ctx, subtaskID)
	if err == nil {
		e.auditSubtask(ctx, st, SubtaskDispatched, SubtaskRunning, "")
	}
	return nil
}

// OnResult applies an agent's report. Results for subtasks already in a
// terminal state are ignored: delivery is at-most-once but agents may
// still re-report after a reconnect.
func (e *engine) OnResult(ctx context.Context, subtaskID uuid.UUID, success bool, output, errMsg string) error {
	st, err := e.store.GetSubtask(ctx, subtaskID)
	if err != nil {
		return err
	}
	if st.Status.Terminal() {
		return nil
	}
	from := st.Status

	if success {
		ok, err := e.store.TransitionSubtask(ctx, subtaskID, from, SubtaskCompleted, func(s *Subtask) {
			done := e.now().UTC()
			s.Output = output
			s.CompletedAt = &done
			s.UpdatedAt = done
			s.Error = ""
		})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		e.auditSubtask(ctx, st, from, SubtaskCompleted, "")
		if e.metrics != nil {
			e.metrics.CompletedTotal.WithLabelValues("completed").Inc()
		}
		if _, err := e.DispatchReady(ctx, st.WorkflowID); err != nil {
			return err
		}
		return e.finalizeIfDone(ctx, st.WorkflowID)
	}

	if st.Attempts < e.config.maxAttempts() {
		// Retry budget remains: park the subtask with a backoff window.
		next := e.now().UTC().Add(retryDelay(e.config.retryBackoff(), st.Attempts))
		ok, err := e.store.TransitionSubtask(ctx, subtaskID, from, SubtaskPending, func(s *Subtask) {
			s.NextAttemptAt = &next
			s.Error = errMsg
			s.UpdatedAt = e.now().UTC()
		})
		if err != nil {
			return err
		}
		if ok {
			e.auditSubtask(ctx, st, from, SubtaskPending, errMsg)
			if e.metrics != nil {
				e.metrics.RetriedTotal.Inc()
			}
			e.logger.WarnContext(ctx, "subtask failed, scheduled for retry",
				slog.String("subtask_id", subtaskID.String()),
				slog.Int("attempt", st.Attempts),
				slog.Time("next_attempt_at", next),
				slog.String("error", errMsg),
			)
		}
		return nil
	}

	// Retry budget exhausted: permanent failure, cascade to dependents.
	ok, err := e.store.TransitionSubtask(ctx, subtaskID, from, SubtaskFailed, func(s *Subtask) {
		done := e.now().UTC()
		s.Error = errMsg
		s.CompletedAt = &done
		s.UpdatedAt = done
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	e.auditSubtask(ctx, st, from, SubtaskFailed, errMsg)
	if e.metrics != nil {
		e.metrics.CompletedTotal.WithLabelValues("failed").Inc()
	}
	if err := e.skipDependents(ctx, st.WorkflowID, subtaskID); err != nil {
		return err
	}
	return e.finalizeIfDone(ctx, st.WorkflowID)
}

// skipDependents marks every transitive dependent of failedID as skipped.
func (e *engine) skipDependents(ctx context.Context, workflowID, failedID uuid.UUID) error {
	subtasks, err := e.store.ListSubtasks(ctx, workflowID)
	if err != nil {
		return err
	}

	dead := map[uuid.UUID]bool{failedID: true}
	for changed := true; changed; {
		changed = false
		for _, st := range subtasks {
			if dead[st.ID] {
				continue
			}
			for _, dep := range st.DependsOn {
				if dead[dep] {
					dead[st.ID] = true
					changed = true
					break
				}
			}
		}
	}

	for _, st := range subtasks {
		if st.ID == failedID || !dead[st.ID] || st.Status.Terminal() {
			continue
		}
		from := st.Status
		ok, err := e.store.TransitionSubtask(ctx, st.ID, from, SubtaskSkipped, func(s *Subtask) {
			s.Error = fmt.Sprintf("upstream subtask %s failed", failedID)
			s.UpdatedAt = e.now().UTC()
		})
		if err != nil {
			return err
		}
		if ok {
			e.auditSubtask(ctx, &st, from, SubtaskSkipped, "upstream failure")
		}
	}
	return nil
}

// finalizeIfDone closes the workflow once every subtask is terminal.
func (e *engine) finalizeIfDone(ctx context.Context, workflowID uuid.UUID) error {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status.Terminal() {
		return nil
	}

	subtasks, err := e.store.ListSubtasks(ctx, workflowID)
	if err != nil {
		return err
	}
	failed := false
	for _, st := range subtasks {
		if !st.Status.Terminal() {
			return nil
		}
		if st.Status == SubtaskFailed || st.Status == SubtaskSkipped {
			failed = true
		}
	}

	from := wf.Status
	now := e.now().UTC()
	wf.UpdatedAt = now
	wf.CompletedAt = &now
	if failed {
		wf.Status = StatusFailed
		wf.Error = "one or more subtasks failed"
	} else {
		wf.Status = StatusCompleted
	}
	if err := e.store.UpdateWorkflow(ctx, wf); err != nil {
		return err
	}
	e.auditWorkflow(ctx, wf, from, wf.Status, wf.Error)
	if e.metrics != nil {
		e.metrics.ActiveWorkflows.Dec()
		e.metrics.FinishedTotal.WithLabelValues(string(wf.Status)).Inc()
	}
	e.logger.InfoContext(ctx, "workflow finished",
		slog.String("workflow_id", wf.ID.String()),
		slog.String("status", string(wf.Status)),
	)
	return nil
}

// Cancel marks the workflow cancelled, skips everything not yet running,
// and notifies agents holding in-flight subtasks. Notification is
// best-effort: agents confirm via AckCancel when they stop.
func (e *engine) Cancel(ctx context.Context, workflowID uuid.UUID) error {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status.Terminal() {
		return nil
	}

	subtasks, err := e.store.ListSubtasks(ctx, workflowID)
	if err != nil {
		return err
	}
	for _, st := range subtasks {
		switch st.Status {
		case SubtaskPending:
			from := st.Status
			ok, err := e.store.TransitionSubtask(ctx, st.ID, from, SubtaskSkipped, func(s *Subtask) {
				s.Error = "workflow cancelled"
				s.UpdatedAt = e.now().UTC()
			})
			if err != nil {
				return err
			}
			if ok {
				e.auditSubtask(ctx, &st, from, SubtaskSkipped, "workflow cancelled")
			}
		case SubtaskDispatched, SubtaskRunning:
			subtaskID := st.ID
			payload := protocol.SystemPayload{
				Event:      protocol.SystemCancelRequested,
				SubtaskID:  &subtaskID,
				WorkflowID: &workflowID,
				Detail:     "workflow cancelled",
			}
			if _, err := e.mbox.Send(ctx, "workflow-engine", st.AgentID, payload, mailbox.PriorityHigh); err != nil {
				e.logger.WarnContext(ctx, "cancel notice failed",
					slog.String("subtask_id", st.ID.String()),
					slog.String("agent_id", st.AgentID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	from := wf.Status
	now := e.now().UTC()
	wf.Status = StatusCancelled
	wf.UpdatedAt = now
	wf.CompletedAt = &now
	if err := e.store.UpdateWorkflow(ctx, wf); err != nil {
		return err
	}
	e.auditWorkflow(ctx, wf, from, StatusCancelled, "cancel requested")
	if e.metrics != nil {
		e.metrics.ActiveWorkflows.Dec()
		e.metrics.FinishedTotal.WithLabelValues(string(StatusCancelled)).Inc()
	}
	e.logger.InfoContext(ctx, "workflow cancelled",
		slog.String("workflow_id", workflowID.String()),
	)
	return nil
}

func (e *engine) AckCancel(ctx context.Context, subtaskID uuid.UUID) error {
	st, err := e.store.GetSubtask(ctx, subtaskID)
	if err != nil {
		return err
	}
	if st.Status.Terminal() {
		return nil
	}
	from := st.Status
	ok, err := e.store.TransitionSubtask(ctx, subtaskID, from, SubtaskSkipped, func(s *Subtask) {
		s.Error = "cancelled by agent acknowledgement"
		s.UpdatedAt = e.now().UTC()
	})
	if err != nil {
		return err
	}
	if ok {
		e.auditSubtask(ctx, st, from, SubtaskSkipped, "cancel acknowledged")
	}
	return nil
}

// retryDelay returns base * 2^(attempt-1) with up to 25% jitter.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

func (e *engine) auditSubtask(ctx context.Context, st *Subtask, from, to SubtaskStatus, detail string) {
	_ = e.sink.Record(ctx, audit.Event{
		Actor:         "workflow-engine",
		Action:        audit.ActionSubtaskTransition,
		Subject:       st.ID.String(),
		CorrelationID: st.WorkflowID.String(),
		Before:        string(from),
		After:         string(to),
		Result:        "ok",
		Detail:        detail,
	})
	if e.metrics != nil {
		e.metrics.TransitionsTotal.WithLabelValues(string(to)).Inc()
	}
}

func (e *engine) auditWorkflow(ctx context.Context, wf *Workflow, from, to Status, detail string) {
	_ = e.sink.Record(ctx, audit.Event{
		Actor:         "workflow-engine",
		Action:        audit.ActionWorkflowTransition,
		Subject:       wf.ID.String(),
		CorrelationID: wf.CorrelationID,
		Before:        string(from),
		After:         string(to),
		Result:        "ok",
		Detail:        detail,
	})
}
