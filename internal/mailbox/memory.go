package mailbox

import (
	"context"
	"sort"
	"sync"
	"time"
)

// storedMessage carries the arrival sequence next to the immutable
// message. The sequence breaks ties between equal timestamps.
type storedMessage struct {
	Message
	seq int64
}

// InMemoryStore implements Store using in-memory slices per agent.
// Used when persistent storage is not configured and in tests.
type InMemoryStore struct {
	mu       sync.Mutex
	byAgent  map[string][]*storedMessage
	sequence int64
}

// NewInMemoryStore creates an empty in-memory mailbox store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byAgent: make(map[string][]*storedMessage),
	}
}

func (s *InMemoryStore) Append(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	s.byAgent[msg.ToAgent] = append(s.byAgent[msg.ToAgent], &storedMessage{
		Message: *msg,
		seq:     s.sequence,
	})
	return nil
}

func (s *InMemoryStore) ReceiveUnread(_ context.Context, agentID string, max int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unread []*storedMessage
	for _, m := range s.byAgent[agentID] {
		if m.ReadAt == nil {
			unread = append(unread, m)
		}
	}

	// Priority desc, then FIFO by creation time; arrival sequence breaks
	// timestamp ties.
	sort.SliceStable(unread, func(i, j int) bool {
		if unread[i].Priority != unread[j].Priority {
			return unread[i].Priority > unread[j].Priority
		}
		if !unread[i].CreatedAt.Equal(unread[j].CreatedAt) {
			return unread[i].CreatedAt.Before(unread[j].CreatedAt)
		}
		return unread[i].seq < unread[j].seq
	})

	if len(unread) > max {
		unread = unread[:max]
	}

	now := time.Now().UTC()
	out := make([]Message, 0, len(unread))
	for _, m := range unread {
		readAt := now
		m.ReadAt = &readAt
		out = append(out, m.Message)
	}
	return out, nil
}

func (s *InMemoryStore) UnreadCount(_ context.Context, agentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, m := range s.byAgent[agentID] {
		if m.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) ListByAgent(_ context.Context, agentID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.byAgent[agentID]
	sorted := make([]*storedMessage, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].seq < sorted[j].seq
	})
	out := make([]Message, 0, len(sorted))
	for _, m := range sorted {
		out = append(out, m.Message)
	}
	return out, nil
}

// Compile-time check.
var _ Store = (*InMemoryStore)(nil)
