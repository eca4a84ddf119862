package trust

import (
	"context"
	"sync"
)

// InMemoryStore implements Store using per-subject slices.
type InMemoryStore struct {
	mu      sync.RWMutex
	samples map[string][]Sample
}

// NewInMemoryStore creates an empty in-memory trust store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{samples: make(map[string][]Sample)}
}

func (s *InMemoryStore) AppendSample(_ context.Context, sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[sample.SubjectID] = append(s.samples[sample.SubjectID], sample)
	return nil
}

func (s *InMemoryStore) LatestSample(_ context.Context, subjectID string) (*Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.samples[subjectID]
	if len(rows) == 0 {
		return nil, nil
	}
	cp := rows[len(rows)-1]
	return &cp, nil
}

func (s *InMemoryStore) History(_ context.Context, subjectID string, limit int) ([]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.samples[subjectID]
	out := make([]Sample, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, rows[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Compile-time check.
var _ Store = (*InMemoryStore)(nil)
