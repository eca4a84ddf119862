package critique

import (
	"context"

	"github.com/google/uuid"
)

// Gate adapts the review ledger to dispatch decisions: a workflow is
// cleared only when its most recent session closed with a binding go.
// A workflow with no sessions, an in-progress review, or any other
// verdict stays blocked.
type Gate struct {
	store Store
}

// NewGate creates a Gate over the session store.
func NewGate(store Store) *Gate {
	return &Gate{store: store}
}

// Cleared reports whether the workflow's latest review decided go.
func (g *Gate) Cleared(ctx context.Context, workflowID uuid.UUID) (bool, error) {
	sessions, err := g.store.ListSessionsByWorkflow(ctx, workflowID)
	if err != nil {
		return false, err
	}
	if len(sessions) == 0 {
		return false, nil
	}
	latest := sessions[0]
	for _, s := range sessions[1:] {
		if s.CreatedAt.After(latest.CreatedAt) ||
			(s.CreatedAt.Equal(latest.CreatedAt) && s.Round > latest.Round) {
			latest = s
		}
	}
	return latest.State == SessionDecided && latest.Verdict == VerdictGo, nil
}
