// Package purpose maintains the purpose ledger: every working session,
// workflow, or task declares its goal up front, and the declaration is
// hashed so later drift can be detected against the original statement.
package purpose

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/kundi/internal/audit"
)

// Declaration states. Completed and Abandoned are terminal.
const (
	StateActive    = "active"
	StateCompleted = "completed"
	StateAbandoned = "abandoned"
)

// Scope names the level a declaration binds to. Each (scope, scope ID)
// pair holds at most one active declaration.
type Scope string

const (
	ScopeSession  Scope = "session"
	ScopeWorkflow Scope = "workflow"
	ScopeTask     Scope = "task"
)

// ParseScope validates a scope label.
func ParseScope(label string) (Scope, error) {
	switch Scope(label) {
	case ScopeSession, ScopeWorkflow, ScopeTask:
		return Scope(label), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScope, label)
}

var (
	ErrEmptyStatement  = errors.New("purpose statement is empty")
	ErrInvalidScope    = errors.New("invalid purpose scope")
	ErrNotFound        = errors.New("purpose declaration not found")
	ErrAlreadyClosed   = errors.New("purpose declaration already closed")
	ErrActiveDeclared  = errors.New("scope already has an active declaration")
	ErrNoActivePurpose = errors.New("scope has no active declaration")
)

// Declaration is one ledger row. Statement is immutable after Declare;
// Hash commits to it.
type Declaration struct {
	ID         string     `json:"id"`
	Scope      Scope      `json:"scope"`
	ScopeID    string     `json:"scope_id"`
	Statement  string     `json:"statement"`
	Hash       string     `json:"hash"`
	State      string     `json:"state"`
	Outcome    string     `json:"outcome,omitempty"`
	DeclaredAt time.Time  `json:"declared_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

// Store persists declarations. Rows are never deleted; closing a
// declaration updates its state in place.
type Store interface {
	Insert(ctx context.Context, d *Declaration) error
	Update(ctx context.Context, d *Declaration) error
	Get(ctx context.Context, id string) (*Declaration, error)
	ActiveFor(ctx context.Context, scope Scope, scopeID string) (*Declaration, error)
	ListByScope(ctx context.Context, scope Scope, scopeID string) ([]*Declaration, error)
}

// Ledger is the purpose API used by session bootstrap and shutdown.
type Ledger struct {
	store  Store
	sink   audit.Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewLedger(store Store, sink audit.Sink, logger *slog.Logger) *Ledger {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Ledger{store: store, sink: sink, logger: logger, now: time.Now}
}

// HashStatement returns the hex SHA-256 of the trimmed statement.
func HashStatement(statement string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(statement)))
	return hex.EncodeToString(sum[:])
}

// Declare records a new active declaration for the scope. A scope may
// hold at most one active declaration at a time.
func (l *Ledger) Declare(ctx context.Context, scope Scope, scopeID, statement string) (*Declaration, error) {
	if strings.TrimSpace(statement) == "" {
		return nil, ErrEmptyStatement
	}
	if _, err := ParseScope(string(scope)); err != nil {
		return nil, err
	}
	if existing, err := l.store.ActiveFor(ctx, scope, scopeID); err != nil {
		return nil, fmt.Errorf("check active declaration: %w", err)
	} else if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrActiveDeclared, existing.ID)
	}

	d := &Declaration{
		ID:         uuid.NewString(),
		Scope:      scope,
		ScopeID:    scopeID,
		Statement:  statement,
		Hash:       HashStatement(statement),
		State:      StateActive,
		DeclaredAt: l.now().UTC(),
	}
	if err := l.store.Insert(ctx, d); err != nil {
		return nil, fmt.Errorf("insert declaration: %w", err)
	}

	_ = l.sink.Record(ctx, audit.Event{
		Actor:   scopeID,
		Action:  audit.ActionPurposeDeclared,
		Subject: d.ID,
		After:   d.Hash,
		Result:  "ok",
		Detail:  string(scope),
	})
	l.logger.InfoContext(ctx, "purpose declared",
		slog.String("scope", string(scope)),
		slog.String("scope_id", scopeID),
		slog.String("declaration_id", d.ID),
		slog.String("hash", d.Hash[:12]),
	)
	return d, nil
}

// Complete closes the declaration as achieved. Terminal; a second close
// of any kind fails.
func (l *Ledger) Complete(ctx context.Context, id, outcome string) (*Declaration, error) {
	return l.close(ctx, id, StateCompleted, outcome)
}

// Abandon closes the declaration without achievement, recording why.
func (l *Ledger) Abandon(ctx context.Context, id, reason string) (*Declaration, error) {
	return l.close(ctx, id, StateAbandoned, reason)
}

func (l *Ledger) close(ctx context.Context, id, state, outcome string) (*Declaration, error) {
	d, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.State != StateActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyClosed, id, d.State)
	}
	closed := l.now().UTC()
	d.State = state
	d.Outcome = outcome
	d.ClosedAt = &closed
	if err := l.store.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("close declaration: %w", err)
	}

	_ = l.sink.Record(ctx, audit.Event{
		Actor:   d.ScopeID,
		Action:  audit.ActionPurposeClosed,
		Subject: d.ID,
		Before:  StateActive,
		After:   state,
		Result:  "ok",
		Detail:  outcome,
	})
	l.logger.InfoContext(ctx, "purpose closed",
		slog.String("declaration_id", d.ID),
		slog.String("state", state),
	)
	return d, nil
}

// Active returns the scope's active declaration, or ErrNoActivePurpose.
func (l *Ledger) Active(ctx context.Context, scope Scope, scopeID string) (*Declaration, error) {
	d, err := l.store.ActiveFor(ctx, scope, scopeID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNoActivePurpose, scope, scopeID)
	}
	return d, nil
}

// Verify reports whether the statement still hashes to the ledger value.
// A mismatch means the in-memory purpose drifted from what was declared.
func (l *Ledger) Verify(ctx context.Context, id, statement string) (bool, error) {
	d, err := l.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return d.Hash == HashStatement(statement), nil
}

// History returns every declaration for the scope, oldest first.
func (l *Ledger) History(ctx context.Context, scope Scope, scopeID string) ([]*Declaration, error) {
	return l.store.ListByScope(ctx, scope, scopeID)
}
