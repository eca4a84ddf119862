package purpose

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryStore keeps declarations in process memory. Used by tests and
// single-node deployments without a configured database.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Declaration
	byScope map[scopeKey][]string
}

type scopeKey struct {
	scope Scope
	id    string
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[string]*Declaration),
		byScope: make(map[scopeKey][]string),
	}
}

func (s *InMemoryStore) Insert(_ context.Context, d *Declaration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[d.ID]; exists {
		return fmt.Errorf("declaration %s already exists", d.ID)
	}
	cp := *d
	s.byID[d.ID] = &cp
	k := scopeKey{d.Scope, d.ScopeID}
	s.byScope[k] = append(s.byScope[k], d.ID)
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, d *Declaration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[d.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, d.ID)
	}
	cp := *d
	s.byID[d.ID] = &cp
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Declaration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *d
	return &cp, nil
}

func (s *InMemoryStore) ActiveFor(_ context.Context, scope Scope, scopeID string) (*Declaration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.byScope[scopeKey{scope, scopeID}] {
		if d := s.byID[id]; d.State == StateActive {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListByScope(_ context.Context, scope Scope, scopeID string) ([]*Declaration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byScope[scopeKey{scope, scopeID}]
	out := make([]*Declaration, 0, len(ids))
	for _, id := range ids {
		cp := *s.byID[id]
		out = append(out, &cp)
	}
	return out, nil
}
