package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore is a mutex-guarded Store for tests and single-node
// deployments without a configured database.
type InMemoryStore struct {
	mu        sync.RWMutex
	workflows map[uuid.UUID]*Workflow
	subtasks  map[uuid.UUID]*Subtask
	byWF      map[uuid.UUID][]uuid.UUID // Subtask IDs in creation order.
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		workflows: make(map[uuid.UUID]*Workflow),
		subtasks:  make(map[uuid.UUID]*Subtask),
		byWF:      make(map[uuid.UUID][]uuid.UUID),
	}
}

func (s *InMemoryStore) CreateWorkflow(_ context.Context, wf *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[wf.ID]; exists {
		return fmt.Errorf("workflow %s already exists", wf.ID)
	}
	cp := *wf
	s.workflows[wf.ID] = &cp
	return nil
}

func (s *InMemoryStore) UpdateWorkflow(_ context.Context, wf *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[wf.ID]; !exists {
		return fmt.Errorf("workflow %s not found", wf.ID)
	}
	cp := *wf
	s.workflows[wf.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetWorkflow(_ context.Context, id uuid.UUID) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s not found", id)
	}
	cp := *wf
	return &cp, nil
}

func (s *InMemoryStore) ListWorkflows(_ context.Context, statuses []Status) ([]Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []Workflow
	for _, wf := range s.workflows {
		if len(statuses) == 0 || want[wf.Status] {
			out = append(out, *wf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) CreateSubtask(_ context.Context, st *Subtask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subtasks[st.ID]; exists {
		return fmt.Errorf("subtask %s already exists", st.ID)
	}
	cp := *st
	cp.DependsOn = append([]uuid.UUID(nil), st.DependsOn...)
	s.subtasks[st.ID] = &cp
	s.byWF[st.WorkflowID] = append(s.byWF[st.WorkflowID], st.ID)
	return nil
}

func (s *InMemoryStore) UpdateSubtask(_ context.Context, st *Subtask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subtasks[st.ID]; !exists {
		return fmt.Errorf("subtask %s not found", st.ID)
	}
	cp := *st
	cp.DependsOn = append([]uuid.UUID(nil), st.DependsOn...)
	s.subtasks[st.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetSubtask(_ context.Context, id uuid.UUID) (*Subtask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.subtasks[id]
	if !ok {
		return nil, fmt.Errorf("subtask %s not found", id)
	}
	cp := *st
	cp.DependsOn = append([]uuid.UUID(nil), st.DependsOn...)
	return &cp, nil
}

func (s *InMemoryStore) ListSubtasks(_ context.Context, workflowID uuid.UUID) ([]Subtask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byWF[workflowID]
	out := make([]Subtask, 0, len(ids))
	for _, id := range ids {
		cp := *s.subtasks[id]
		cp.DependsOn = append([]uuid.UUID(nil), cp.DependsOn...)
		out = append(out, cp)
	}
	return out, nil
}

// TransitionSubtask performs the compare-and-swap under the store lock,
// which is what a SQL implementation achieves with a conditional UPDATE.
func (s *InMemoryStore) TransitionSubtask(_ context.Context, id uuid.UUID, from, to SubtaskStatus, mutate func(*Subtask)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.subtasks[id]
	if !ok {
		return false, fmt.Errorf("subtask %s not found", id)
	}
	if st.Status != from {
		return false, nil
	}
	st.Status = to
	if mutate != nil {
		mutate(st)
	}
	st.Status = to // Status is owned by the transition, not the mutator.
	return true, nil
}
