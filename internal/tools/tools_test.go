package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/jkaninda/kundi/internal/audit"
	"github.com/jkaninda/kundi/internal/policy"
	"github.com/jkaninda/kundi/internal/trust"
)

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(_ context.Context, ev audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) byAction(action string) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	for _, ev := range s.events {
		if ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTool struct {
	name     string
	validate error
	execute  func(ctx context.Context, params map[string]any) (*Result, error)
	path     string
	op       policy.FileOp
}

func (t *fakeTool) Name() string                { return t.name }
func (t *fakeTool) Description() string         { return "fake" }
func (t *fakeTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (t *fakeTool) Validate(map[string]any) error {
	return t.validate
}

func (t *fakeTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	if t.execute != nil {
		return t.execute(ctx, params)
	}
	return &Result{Output: "done", Success: true}, nil
}

func (t *fakeTool) PathAccess(map[string]any) (string, policy.FileOp, bool) {
	if t.path == "" {
		return "", "", false
	}
	return t.path, t.op, true
}

func newInvoker(t *testing.T, sink audit.Sink, rules []policy.FileRule, tools ...Tool) *Invoker {
	t.Helper()
	reg := NewRegistry()
	for _, tool := range tools {
		reg.Register(tool)
	}
	enf, err := policy.NewEnforcer(policy.Config{}, sink, testLogger())
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}
	var guard *policy.FileGuard
	if len(rules) > 0 {
		guard, err = policy.NewFileGuard(rules, sink, testLogger())
		if err != nil {
			t.Fatalf("NewFileGuard: %v", err)
		}
	}
	return NewInvoker(reg, enf, guard, sink, testLogger())
}

func TestTruncateOutput(t *testing.T) {
	long := strings.Repeat("x", 100)
	got := TruncateOutput(long, 50)
	if len(got) > 50 {
		t.Errorf("len = %d, want <= 50", len(got))
	}
	if !strings.Contains(got, "truncated") {
		t.Error("truncation notice missing")
	}
	if TruncateOutput("short", 50) != "short" {
		t.Error("short output modified")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "x"})
	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	reg.Register(&fakeTool{name: "x"})
}

func TestInvokeRunsAndAudits(t *testing.T) {
	sink := &recordingSink{}
	inv := newInvoker(t, sink, nil, &fakeTool{name: "echo"})

	res, err := inv.Invoke(context.Background(), "builder-1", "builder", "echo", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.Success || res.Output != "done" {
		t.Errorf("result = %+v", res)
	}
	invocations := sink.byAction(audit.ActionToolInvocation)
	if len(invocations) != 1 || invocations[0].Result != "ok" {
		t.Fatalf("invocation audit = %+v", invocations)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	inv := newInvoker(t, &recordingSink{}, nil)
	if _, err := inv.Invoke(context.Background(), "a", "builder", "nope", nil); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestOrchestratorCannotInvokeExecutionTools(t *testing.T) {
	sink := &recordingSink{}
	executed := false
	inv := newInvoker(t, sink, nil, &fakeTool{
		name: "scaffold",
		execute: func(context.Context, map[string]any) (*Result, error) {
			executed = true
			return &Result{Success: true}, nil
		},
	})

	_, err := inv.Invoke(context.Background(), "orch-1", policy.RoleOrchestrator, "scaffold", nil)
	if !errors.Is(err, policy.ErrPolicyDenied) {
		t.Fatalf("expected ErrPolicyDenied, got %v", err)
	}
	if executed {
		t.Error("tool executed despite denial")
	}
	// Exactly one policy violation entry and no invocation entry.
	if n := len(sink.byAction(audit.ActionPolicyViolation)); n != 1 {
		t.Errorf("policy violation entries = %d, want 1", n)
	}
	if n := len(sink.byAction(audit.ActionToolInvocation)); n != 0 {
		t.Errorf("invocation entries = %d, want 0", n)
	}
}

func TestValidationRunsBeforePolicy(t *testing.T) {
	sink := &recordingSink{}
	bad := errors.New("missing parameter")
	inv := newInvoker(t, sink, nil, &fakeTool{name: "scaffold", validate: bad})

	_, err := inv.Invoke(context.Background(), "orch-1", policy.RoleOrchestrator, "scaffold", nil)
	if !errors.Is(err, bad) {
		t.Fatalf("expected validation error, got %v", err)
	}
	// Malformed requests fail fast without producing a policy violation.
	if n := len(sink.byAction(audit.ActionPolicyViolation)); n != 0 {
		t.Errorf("policy violation entries = %d, want 0", n)
	}
}

func TestFileTierBlocksPathTouchingTool(t *testing.T) {
	sink := &recordingSink{}
	inv := newInvoker(t, sink, []policy.FileRule{
		{Pattern: "secrets/**", Tier: policy.TierZeroAccess},
	}, &fakeTool{name: "file_read", path: "secrets/token", op: policy.FileOpRead})

	_, err := inv.Invoke(context.Background(), "builder-1", "builder", "file_read", nil)
	if !errors.Is(err, policy.ErrPolicyDenied) {
		t.Fatalf("expected ErrPolicyDenied, got %v", err)
	}
}

func testScorer(t *testing.T, store trust.Store) *trust.Scorer {
	t.Helper()
	return trust.NewScorer(store, audit.NopSink{}, nil, testLogger(), trust.Config{})
}

func TestPolicyDenialDecaysTrust(t *testing.T) {
	sink := &recordingSink{}
	store := trust.NewInMemoryStore()
	scorer := testScorer(t, store)
	inv := newInvoker(t, sink, nil, &fakeTool{name: "scaffold"}).WithTrust(scorer)

	_, err := inv.Invoke(context.Background(), "orch-1", policy.RoleOrchestrator, "scaffold", nil)
	if !errors.Is(err, policy.ErrPolicyDenied) {
		t.Fatalf("expected ErrPolicyDenied, got %v", err)
	}
	score, level, err := scorer.Score(context.Background(), "orch-1")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score >= 0.70 {
		t.Errorf("score = %.2f, want decayed below initial", score)
	}
	if level != trust.LevelCautious {
		t.Errorf("level = %q, want %q", level, trust.LevelCautious)
	}
}

func TestUntrustedAgentLosesTools(t *testing.T) {
	sink := &recordingSink{}
	store := trust.NewInMemoryStore()
	if err := store.AppendSample(context.Background(), trust.Sample{
		SubjectID: "builder-1",
		Score:     0.12,
		Level:     trust.LevelFor(0.12),
	}); err != nil {
		t.Fatalf("AppendSample: %v", err)
	}
	executed := false
	inv := newInvoker(t, sink, nil, &fakeTool{
		name: "echo",
		execute: func(context.Context, map[string]any) (*Result, error) {
			executed = true
			return &Result{Success: true}, nil
		},
	}).WithTrust(testScorer(t, store))

	_, err := inv.Invoke(context.Background(), "builder-1", "builder", "echo", nil)
	if !errors.Is(err, ErrTrustDenied) {
		t.Fatalf("expected ErrTrustDenied, got %v", err)
	}
	if executed {
		t.Error("tool executed despite trust denial")
	}
	denials := sink.byAction(audit.ActionToolInvocation)
	if len(denials) != 1 || denials[0].Result != "denied" {
		t.Fatalf("denial audit = %+v", denials)
	}
	// A trust denial is not itself a violation: the score must not decay.
	score, _, err := testScorer(t, store).Score(context.Background(), "builder-1")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != 0.12 {
		t.Errorf("score = %.2f, want unchanged 0.12", score)
	}
}

func TestDegradedAgentKeepsReadsLosesWrites(t *testing.T) {
	sink := &recordingSink{}
	store := trust.NewInMemoryStore()
	if err := store.AppendSample(context.Background(), trust.Sample{
		SubjectID: "builder-1",
		Score:     0.40,
		Level:     trust.LevelFor(0.40),
	}); err != nil {
		t.Fatalf("AppendSample: %v", err)
	}
	inv := newInvoker(t, sink, nil,
		&fakeTool{name: "file_read", path: "src/main.go", op: policy.FileOpRead},
		&fakeTool{name: "file_write", path: "src/main.go", op: policy.FileOpWrite},
	).WithTrust(testScorer(t, store))

	if _, err := inv.Invoke(context.Background(), "builder-1", "builder", "file_read", nil); err != nil {
		t.Fatalf("read should pass at degraded level: %v", err)
	}
	_, err := inv.Invoke(context.Background(), "builder-1", "builder", "file_write", nil)
	if !errors.Is(err, ErrTrustDenied) {
		t.Fatalf("expected ErrTrustDenied for write, got %v", err)
	}
}

func TestToolErrorIsAudited(t *testing.T) {
	sink := &recordingSink{}
	inv := newInvoker(t, sink, nil, &fakeTool{
		name: "flaky",
		execute: func(context.Context, map[string]any) (*Result, error) {
			return nil, errors.New("backend down")
		},
	})

	if _, err := inv.Invoke(context.Background(), "a", "builder", "flaky", nil); err == nil {
		t.Fatal("expected execution error")
	}
	invocations := sink.byAction(audit.ActionToolInvocation)
	if len(invocations) != 1 || invocations[0].Result != "error" {
		t.Fatalf("invocation audit = %+v", invocations)
	}
}
