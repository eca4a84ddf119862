package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jkaninda/kundi/internal/agent"
	"github.com/jkaninda/kundi/internal/config"
	"github.com/jkaninda/kundi/internal/mailbox"
	"github.com/jkaninda/kundi/internal/trust"
	"github.com/jkaninda/kundi/internal/workflow"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFixtures(t *testing.T) (workflow.Engine, workflow.Store, *mailbox.Mailbox, *agent.Registry, *trust.Scorer) {
	t.Helper()
	logger := discardLogger()
	store := workflow.NewInMemoryStore()
	mb := mailbox.New(mailbox.NewInMemoryStore(), nil, nil, logger)
	engine := workflow.NewEngine(store, mb, nil, nil, nil, logger, workflow.Config{
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
	})
	registry := agent.NewRegistry(50*time.Millisecond, logger)
	scorer := trust.NewScorer(trust.NewInMemoryStore(), nil, nil, logger, trust.Config{})
	return engine, store, mb, registry, scorer
}

func TestDispatchSweepResendsAfterBackoff(t *testing.T) {
	engine, store, mb, registry, scorer := testFixtures(t)
	ctx := context.Background()

	wf, err := engine.Submit(ctx, &workflow.Request{
		Goal: "rebuild the search index",
		Subtasks: []workflow.SubtaskSpec{
			{AgentRole: "builder", AgentID: "builder-1", Description: "reindex"},
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Drain the initial dispatch and fail it so a retry parks with backoff.
	msgs, err := mb.Receive(ctx, "builder-1", 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("initial dispatch: msgs=%d err=%v", len(msgs), err)
	}
	subtasks, err := engine.ListSubtasks(ctx, wf.ID)
	if err != nil {
		t.Fatalf("list subtasks: %v", err)
	}
	if err := engine.OnStarted(ctx, subtasks[0].ID, "builder-1"); err != nil {
		t.Fatalf("on started: %v", err)
	}
	if err := engine.OnResult(ctx, subtasks[0].ID, false, "", "index corrupt"); err != nil {
		t.Fatalf("on result: %v", err)
	}

	s := New(engine, store, registry, scorer, nil, discardLogger(), &config.SchedulerConfig{})

	time.Sleep(5 * time.Millisecond) // let the backoff expire
	s.dispatchSweep(ctx)

	msgs, err = mb.Receive(ctx, "builder-1", 10)
	if err != nil {
		t.Fatalf("receive after sweep: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 re-dispatched task, got %d", len(msgs))
	}
}

func TestHeartbeatSweepNotifiesOperator(t *testing.T) {
	engine, store, mb, registry, scorer := testFixtures(t)
	ctx := context.Background()

	registry.Register(agent.Agent{ID: "builder-1", Role: "builder"})
	time.Sleep(60 * time.Millisecond) // exceed the 50ms heartbeat TTL

	s := New(engine, store, registry, scorer, nil, discardLogger(), &config.SchedulerConfig{}).
		WithUnhealthyNotices(mb, "orchestrator-1")

	s.heartbeatSweep(ctx)

	msgs, err := mb.Receive(ctx, "orchestrator-1", 10)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 unhealthy notice, got %d", len(msgs))
	}
	if msgs[0].Priority != mailbox.PriorityHigh {
		t.Errorf("notice priority = %d, want %d", msgs[0].Priority, mailbox.PriorityHigh)
	}

	// A second sweep does not repeat the notice.
	s.heartbeatSweep(ctx)
	msgs, _ = mb.Receive(ctx, "orchestrator-1", 10)
	if len(msgs) != 0 {
		t.Fatalf("expected no repeat notice, got %d", len(msgs))
	}
}

func TestTrustSweepRecoversHealthyAgentsOnly(t *testing.T) {
	engine, store, _, registry, scorer := testFixtures(t)
	ctx := context.Background()

	registry.Register(agent.Agent{ID: "builder-1", Role: "builder"})
	registry.Heartbeat("builder-1", 0)

	// Knock the score down so recovery has headroom.
	if _, err := scorer.OnViolation(ctx, "builder-1"); err != nil {
		t.Fatalf("violation: %v", err)
	}
	before, _, err := scorer.Score(ctx, "builder-1")
	if err != nil {
		t.Fatalf("score: %v", err)
	}

	s := New(engine, store, registry, scorer, nil, discardLogger(), &config.SchedulerConfig{})
	s.lastTrustSweep = time.Now().UTC().Add(-2 * time.Hour)

	s.trustSweep(ctx)

	after, _, err := scorer.Score(ctx, "builder-1")
	if err != nil {
		t.Fatalf("score after sweep: %v", err)
	}
	if after <= before {
		t.Fatalf("expected recovery: before=%v after=%v", before, after)
	}
}

func TestStartAndStop(t *testing.T) {
	engine, store, _, registry, scorer := testFixtures(t)

	s := New(engine, store, registry, scorer, nil, discardLogger(), &config.SchedulerConfig{
		DispatchSpec:     "@every 1h",
		HeartbeatSpec:    "@every 1h",
		TrustRecoverSpec: "@every 1h",
	})

	stop, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	stop()
}

func TestStartRejectsBadSpec(t *testing.T) {
	engine, store, _, _, _ := testFixtures(t)

	s := New(engine, store, nil, nil, nil, discardLogger(), &config.SchedulerConfig{
		DispatchSpec: "not a cron spec",
	})
	if _, err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}
