package critique

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore keeps sessions and findings in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	findings map[uuid.UUID][]Finding // Keyed by session ID, append order.
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[uuid.UUID]*Session),
		findings: make(map[uuid.UUID][]Finding),
	}
}

func (s *InMemoryStore) CreateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("critique session %s already exists", sess.ID)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *InMemoryStore) UpdateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; !exists {
		return fmt.Errorf("critique session %s not found", sess.ID)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetSession(_ context.Context, id uuid.UUID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("critique session %s not found", id)
	}
	cp := *sess
	return &cp, nil
}

func (s *InMemoryStore) ListSessionsByWorkflow(_ context.Context, workflowID uuid.UUID) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Session
	for _, sess := range s.sessions {
		if sess.WorkflowID == workflowID {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) AppendFinding(_ context.Context, f *Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings[f.SessionID] = append(s.findings[f.SessionID], *f)
	return nil
}

func (s *InMemoryStore) ListFindings(_ context.Context, sessionID uuid.UUID) ([]Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Finding(nil), s.findings[sessionID]...), nil
}
