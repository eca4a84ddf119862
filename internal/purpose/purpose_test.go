package purpose

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func newTestLedger() *Ledger {
	return NewLedger(NewInMemoryStore(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDeclareAndActive(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	d, err := l.Declare(ctx, ScopeSession, "sess-1", "migrate billing jobs to the new queue")
	if err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if d.State != StateActive {
		t.Errorf("state = %q, want active", d.State)
	}
	if d.Hash != HashStatement("migrate billing jobs to the new queue") {
		t.Error("hash does not commit to the statement")
	}

	got, err := l.Active(ctx, ScopeSession, "sess-1")
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if got.ID != d.ID {
		t.Errorf("Active returned %s, want %s", got.ID, d.ID)
	}
}

func TestDeclareRejectsEmptyStatement(t *testing.T) {
	l := newTestLedger()
	if _, err := l.Declare(context.Background(), ScopeSession, "s", "   "); !errors.Is(err, ErrEmptyStatement) {
		t.Fatalf("expected ErrEmptyStatement, got %v", err)
	}
}

func TestSingleActiveDeclarationPerScope(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	if _, err := l.Declare(ctx, ScopeSession, "s", "first"); err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if _, err := l.Declare(ctx, ScopeSession, "s", "second"); !errors.Is(err, ErrActiveDeclared) {
		t.Fatalf("expected ErrActiveDeclared, got %v", err)
	}
}

func TestScopesAreIndependent(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	sess, err := l.Declare(ctx, ScopeSession, "id-1", "session goal")
	if err != nil {
		t.Fatalf("Declare session: %v", err)
	}
	wf, err := l.Declare(ctx, ScopeWorkflow, "id-1", "workflow goal")
	if err != nil {
		t.Fatalf("Declare workflow with same key: %v", err)
	}
	task, err := l.Declare(ctx, ScopeTask, "id-1", "task goal")
	if err != nil {
		t.Fatalf("Declare task with same key: %v", err)
	}

	for _, tc := range []struct {
		scope Scope
		want  string
	}{
		{ScopeSession, sess.ID},
		{ScopeWorkflow, wf.ID},
		{ScopeTask, task.ID},
	} {
		got, err := l.Active(ctx, tc.scope, "id-1")
		if err != nil {
			t.Fatalf("Active(%s): %v", tc.scope, err)
		}
		if got.ID != tc.want {
			t.Errorf("Active(%s) = %s, want %s", tc.scope, got.ID, tc.want)
		}
	}
}

func TestDeclareRejectsUnknownScope(t *testing.T) {
	l := newTestLedger()
	if _, err := l.Declare(context.Background(), Scope("project"), "p-1", "goal"); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
}

func TestCompleteIsTerminal(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	d, _ := l.Declare(ctx, ScopeSession, "s", "ship the thing")

	closed, err := l.Complete(ctx, d.ID, "shipped")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if closed.State != StateCompleted || closed.ClosedAt == nil {
		t.Errorf("unexpected closed row: %+v", closed)
	}

	if _, err := l.Complete(ctx, d.ID, "again"); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("second Complete: expected ErrAlreadyClosed, got %v", err)
	}
	if _, err := l.Abandon(ctx, d.ID, "nope"); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("Abandon after Complete: expected ErrAlreadyClosed, got %v", err)
	}
}

func TestAbandonThenRedeclare(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	d, _ := l.Declare(ctx, ScopeSession, "s", "original plan")
	if _, err := l.Abandon(ctx, d.ID, "requirements changed"); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if _, err := l.Active(ctx, ScopeSession, "s"); !errors.Is(err, ErrNoActivePurpose) {
		t.Fatalf("expected ErrNoActivePurpose, got %v", err)
	}
	if _, err := l.Declare(ctx, ScopeSession, "s", "new plan"); err != nil {
		t.Fatalf("redeclaration after abandon failed: %v", err)
	}
	hist, err := l.History(ctx, ScopeSession, "s")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history rows = %d, want 2 (ledger never deletes)", len(hist))
	}
}

func TestVerifyDetectsDrift(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	d, _ := l.Declare(ctx, ScopeSession, "s", "audit the access logs")

	ok, err := l.Verify(ctx, d.ID, "audit the access logs")
	if err != nil || !ok {
		t.Fatalf("Verify(original) = %v, %v; want true", ok, err)
	}
	ok, err = l.Verify(ctx, d.ID, "delete the access logs")
	if err != nil || ok {
		t.Fatalf("Verify(drifted) = %v, %v; want false", ok, err)
	}
}

func TestVerifyUnknownID(t *testing.T) {
	l := newTestLedger()
	if _, err := l.Verify(context.Background(), "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
