package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jkaninda/kundi/internal/mailbox"
	"github.com/jkaninda/kundi/internal/protocol"
	"github.com/jkaninda/kundi/internal/workflow"
)

// Executor runs the substance of one assigned subtask and returns its
// output. Implementations wrap an LLM provider, a tool pipeline, or
// both.
type Executor interface {
	Execute(ctx context.Context, task protocol.TaskPayload) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task protocol.TaskPayload) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, task protocol.TaskPayload) (string, error) {
	return f(ctx, task)
}

// Worker is an in-process fleet member: it polls its mailbox, executes
// task messages, reports results back to the workflow engine, and
// honors cancellation notices.
type Worker struct {
	agent    Agent
	mbox     *mailbox.Mailbox
	engine   workflow.Engine
	executor Executor
	registry *Registry
	logger   *slog.Logger

	pollInterval time.Duration
	batchSize    int
	active       int
}

// WorkerConfig bounds the worker loop. Zero values use defaults.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// NewWorker wires a worker for the given agent identity. registry may be
// nil when the worker runs outside a managed fleet.
func NewWorker(
	a Agent,
	mbox *mailbox.Mailbox,
	engine workflow.Engine,
	executor Executor,
	registry *Registry,
	logger *slog.Logger,
	cfg WorkerConfig,
) *Worker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Worker{
		agent:        a,
		mbox:         mbox,
		engine:       engine,
		executor:     executor,
		registry:     registry,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
	}
}

// Run polls the mailbox until ctx is cancelled. The worker registers
// itself on start and heartbeats on every poll cycle.
func (w *Worker) Run(ctx context.Context) error {
	if w.registry != nil {
		w.registry.Register(w.agent)
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Drain(ctx); err != nil {
				w.logger.WarnContext(ctx, "mailbox drain failed",
					slog.String("agent_id", w.agent.ID),
					slog.String("error", err.Error()),
				)
			}
			if w.registry != nil {
				w.registry.Heartbeat(w.agent.ID, w.active)
			}
		}
	}
}

// Drain receives one batch from the mailbox and processes each message.
// Exported so tests and sweep jobs can run a single cycle synchronously.
func (w *Worker) Drain(ctx context.Context) error {
	msgs, err := w.mbox.Receive(ctx, w.agent.ID, w.batchSize)
	if err != nil {
		return fmt.Errorf("receiving for %s: %w", w.agent.ID, err)
	}
	for _, msg := range msgs {
		if err := w.handle(ctx, msg); err != nil {
			w.logger.ErrorContext(ctx, "message handling failed",
				slog.String("agent_id", w.agent.ID),
				slog.String("message_id", msg.ID.String()),
				slog.String("kind", string(msg.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, msg mailbox.Message) error {
	payload, err := msg.Decoded()
	if err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}

	switch p := payload.(type) {
	case protocol.TaskPayload:
		return w.runTask(ctx, p)
	case protocol.SystemPayload:
		return w.handleSystem(ctx, p)
	case protocol.AsyncResultPayload:
		// Injected results surface in the agent's working context; the
		// substrate only guarantees delivery order.
		w.logger.InfoContext(ctx, "async result surfaced",
			slog.String("agent_id", w.agent.ID),
			slog.String("origin", p.Origin),
			slog.String("summary", p.Summary),
		)
		return nil
	case protocol.InterventionPayload:
		w.logger.WarnContext(ctx, "intervention received",
			slog.String("agent_id", w.agent.ID),
			slog.String("severity", p.Severity),
			slog.String("reason", p.Reason),
		)
		return nil
	default:
		w.logger.DebugContext(ctx, "ignoring message",
			slog.String("kind", string(msg.Kind)),
		)
		return nil
	}
}

func (w *Worker) runTask(ctx context.Context, task protocol.TaskPayload) error {
	if err := w.engine.OnStarted(ctx, task.SubtaskID, w.agent.ID); err != nil {
		return fmt.Errorf("reporting start: %w", err)
	}
	w.active++
	defer func() { w.active-- }()

	w.logger.InfoContext(ctx, "subtask started",
		slog.String("agent_id", w.agent.ID),
		slog.String("subtask_id", task.SubtaskID.String()),
		slog.Int("attempt", task.Attempt),
	)

	output, err := w.executor.Execute(ctx, task)
	if err != nil {
		return w.engine.OnResult(ctx, task.SubtaskID, false, "", err.Error())
	}
	return w.engine.OnResult(ctx, task.SubtaskID, true, output, "")
}

func (w *Worker) handleSystem(ctx context.Context, p protocol.SystemPayload) error {
	switch p.Event {
	case protocol.SystemCancelRequested:
		if p.SubtaskID == nil {
			return nil
		}
		w.logger.InfoContext(ctx, "cancel notice received",
			slog.String("agent_id", w.agent.ID),
			slog.String("subtask_id", p.SubtaskID.String()),
		)
		return w.engine.AckCancel(ctx, *p.SubtaskID)
	default:
		w.logger.DebugContext(ctx, "system notice",
			slog.String("event", string(p.Event)),
			slog.String("detail", p.Detail),
		)
		return nil
	}
}
