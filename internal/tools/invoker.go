package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/kundi/internal/audit"
	"github.com/jkaninda/kundi/internal/policy"
	"github.com/jkaninda/kundi/internal/trust"
)

// ErrUnknownTool is returned when the requested tool is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// ErrTrustDenied is returned when an agent's trust level blocks execution.
var ErrTrustDenied = errors.New("trust level denies tool execution")

// PolicyChecker is the (role, tool) gate. Satisfied by both the plain
// and the cached enforcer.
type PolicyChecker interface {
	CheckTool(ctx context.Context, agentID, role, tool string) error
}

// TrustGate consults and updates an agent's standing. Satisfied by
// *trust.Scorer.
type TrustGate interface {
	Score(ctx context.Context, subjectID string) (float64, trust.Level, error)
	OnViolation(ctx context.Context, subjectID string) (trust.Sample, error)
}

// Invoker is the single entry point for tool execution. Order of checks:
// parameter validation, role policy, file tiers, trust standing, then
// Execute. Every invocation lands in the audit trail; policy denials are
// recorded by the policy layer itself and fed back into the trust score.
type Invoker struct {
	registry *Registry
	checker  PolicyChecker
	guard    *policy.FileGuard
	gate     TrustGate
	sink     audit.Sink
	logger   *slog.Logger
}

// NewInvoker wires the gated invoker. guard may be nil when no file
// tiers are configured.
func NewInvoker(registry *Registry, checker PolicyChecker, guard *policy.FileGuard, sink audit.Sink, logger *slog.Logger) *Invoker {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Invoker{
		registry: registry,
		checker:  checker,
		guard:    guard,
		sink:     sink,
		logger:   logger,
	}
}

// WithTrust attaches a trust gate. Without one, invocations are gated by
// policy and file tiers only.
func (inv *Invoker) WithTrust(gate TrustGate) *Invoker {
	inv.gate = gate
	return inv
}

// Invoke runs the named tool on behalf of an agent.
func (inv *Invoker) Invoke(ctx context.Context, agentID, role, name string, params map[string]any) (*Result, error) {
	tool := inv.registry.Get(name)
	if tool == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if err := tool.Validate(params); err != nil {
		return nil, fmt.Errorf("invalid parameters for %s: %w", name, err)
	}
	if err := inv.checker.CheckTool(ctx, agentID, role, name); err != nil {
		inv.recordViolation(ctx, agentID)
		return nil, err
	}
	if pa, ok := tool.(PathAccessor); ok && inv.guard != nil {
		if path, op, touches := pa.PathAccess(params); touches {
			if err := inv.guard.CheckFile(ctx, agentID, path, op); err != nil {
				inv.recordViolation(ctx, agentID)
				return nil, err
			}
		}
	}
	if err := inv.checkTrust(ctx, agentID, tool, name, params); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := tool.Execute(ctx, params)
	elapsed := time.Since(start)

	ev := audit.Event{
		Actor:   agentID,
		Action:  audit.ActionToolInvocation,
		Subject: name,
		Detail:  fmt.Sprintf("role=%s duration=%s", role, elapsed.Round(time.Millisecond)),
	}
	if err != nil {
		ev.Result = "error"
		ev.Error = err.Error()
	} else if result != nil && !result.Success {
		ev.Result = "failed"
	} else {
		ev.Result = "ok"
	}
	_ = inv.sink.Record(ctx, ev)

	if err != nil {
		inv.logger.WarnContext(ctx, "tool execution failed",
			slog.String("agent_id", agentID),
			slog.String("tool", name),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	inv.logger.DebugContext(ctx, "tool executed",
		slog.String("agent_id", agentID),
		slog.String("tool", name),
		slog.Duration("duration", elapsed),
	)
	return result, nil
}

// checkTrust denies execution when the agent's standing is too low.
// Untrusted agents lose the whole tool surface; degraded agents keep
// read-only tools but lose file mutation. A trust denial is audited but
// does not itself count as a violation.
func (inv *Invoker) checkTrust(ctx context.Context, agentID string, tool Tool, name string, params map[string]any) error {
	if inv.gate == nil {
		return nil
	}
	_, level, err := inv.gate.Score(ctx, agentID)
	if err != nil {
		return fmt.Errorf("score trust for %s: %w", agentID, err)
	}
	deny := level == trust.LevelUntrusted
	if !deny && level == trust.LevelDegraded {
		if pa, ok := tool.(PathAccessor); ok {
			if _, op, touches := pa.PathAccess(params); touches && op != policy.FileOpRead {
				deny = true
			}
		}
	}
	if !deny {
		return nil
	}
	_ = inv.sink.Record(ctx, audit.Event{
		Actor:   agentID,
		Action:  audit.ActionToolInvocation,
		Subject: name,
		Result:  "denied",
		Detail:  fmt.Sprintf("trust level %s", level),
	})
	inv.logger.WarnContext(ctx, "tool denied by trust level",
		slog.String("agent_id", agentID),
		slog.String("tool", name),
		slog.String("level", string(level)),
	)
	return fmt.Errorf("%w: agent %s is %s", ErrTrustDenied, agentID, level)
}

func (inv *Invoker) recordViolation(ctx context.Context, agentID string) {
	if inv.gate == nil {
		return
	}
	if _, err := inv.gate.OnViolation(ctx, agentID); err != nil {
		inv.logger.WarnContext(ctx, "trust decay failed",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()),
		)
	}
}
