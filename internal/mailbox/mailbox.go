// Package mailbox implements the per-agent durable, priority-ordered
// message channel through which agents receive work and deliver results.
//
// Delivery contract: for a single agent, unread messages are returned
// ordered by (priority desc, created_at asc) and marked read atomically —
// at-most-once delivery per message. Messages are never physically deleted;
// consumption sets ReadAt, preserving the full audit trail.
package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/kundi/internal/audit"
	"github.com/jkaninda/kundi/internal/protocol"
)

// Priority bands. PriorityInject is reserved: a message carrying it is
// drained before any lower-priority message on the recipient's next turn.
const (
	PriorityDefault = 0
	PriorityHigh    = 10
	PriorityInject  = 100
)

// Message is one immutable mailbox entry. Only ReadAt mutates, once.
type Message struct {
	ID        uuid.UUID
	FromAgent string
	ToAgent   string
	Kind      protocol.MessageType
	Priority  int
	Payload   json.RawMessage
	CreatedAt time.Time
	ReadAt    *time.Time // nil until consumed.
}

// Decoded returns the typed payload variant for this message.
func (m *Message) Decoded() (protocol.Payload, error) {
	return protocol.Decode(m.Kind, m.Payload)
}

// Store persists mailbox messages.
// Implementations: gorm-backed or in-memory.
type Store interface {
	// Append writes a new message. Messages are immutable once appended.
	Append(ctx context.Context, msg *Message) error

	// ReceiveUnread returns up to max unread messages for the agent,
	// ordered by (priority desc, created_at asc), atomically setting
	// ReadAt on each returned message. Two concurrent callers never
	// both receive the same message.
	ReceiveUnread(ctx context.Context, agentID string, max int) ([]Message, error)

	// UnreadCount returns the number of unread messages for the agent.
	UnreadCount(ctx context.Context, agentID string) (int, error)

	// ListByAgent returns all messages (read and unread) for the agent,
	// oldest first. Used for audit correlation.
	ListByAgent(ctx context.Context, agentID string) ([]Message, error)
}

// Mailbox is the delivery façade over a Store. It validates payloads at
// construction time and writes an audit entry for every send and receive.
type Mailbox struct {
	store   Store
	sink    audit.Sink
	metrics *Metrics
	logger  *slog.Logger
}

// New creates a Mailbox. A nil sink disables auditing (tests only);
// metrics may be nil.
func New(store Store, sink audit.Sink, metrics *Metrics, logger *slog.Logger) *Mailbox {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Mailbox{
		store:   store,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
	}
}

// Send validates and appends a message at the given priority.
func (m *Mailbox) Send(ctx context.Context, from, to string, p protocol.Payload, priority int) (*Message, error) {
	if to == "" {
		return nil, fmt.Errorf("mailbox send: recipient agent is required")
	}
	raw, err := protocol.Encode(p)
	if err != nil {
		return nil, fmt.Errorf("mailbox send to %s: %w", to, err)
	}

	msg := &Message{
		ID:        uuid.New(),
		FromAgent: from,
		ToAgent:   to,
		Kind:      p.Type(),
		Priority:  priority,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}

	if err := m.store.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("appending message for %s: %w", to, err)
	}

	if m.metrics != nil {
		m.metrics.SentTotal.WithLabelValues(string(p.Type())).Inc()
	}

	_ = m.sink.Record(ctx, audit.Event{
		Actor:   from,
		Action:  audit.ActionMailboxSend,
		Subject: msg.ID.String(),
		Result:  "success",
		Detail:  fmt.Sprintf("type=%s to=%s priority=%d", p.Type(), to, priority),
	})

	m.logger.DebugContext(ctx, "mailbox message sent",
		slog.String("message_id", msg.ID.String()),
		slog.String("from", from),
		slog.String("to", to),
		slog.String("type", string(p.Type())),
		slog.Int("priority", priority),
	)

	return msg, nil
}

// SendPriorityResult appends an async result at the reserved inject
// priority so it preempts the recipient's normal work queue.
func (m *Mailbox) SendPriorityResult(ctx context.Context, from, to string, p protocol.AsyncResultPayload) (*Message, error) {
	return m.Send(ctx, from, to, p, PriorityInject)
}

// Receive returns up to max unread messages for the agent in delivery
// order, marking them read. At-most-once: the mailbox does not redeliver
// on caller crash; retry discipline belongs to the caller.
func (m *Mailbox) Receive(ctx context.Context, agentID string, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	msgs, err := m.store.ReceiveUnread(ctx, agentID, max)
	if err != nil {
		return nil, fmt.Errorf("receiving for %s: %w", agentID, err)
	}

	if m.metrics != nil && len(msgs) > 0 {
		m.metrics.ReceivedTotal.Add(float64(len(msgs)))
	}
	for i := range msgs {
		_ = m.sink.Record(ctx, audit.Event{
			Actor:   agentID,
			Action:  audit.ActionMailboxReceive,
			Subject: msgs[i].ID.String(),
			Result:  "success",
		})
	}

	return msgs, nil
}

// PeekUnreadCount returns the number of pending messages without
// consuming any.
func (m *Mailbox) PeekUnreadCount(ctx context.Context, agentID string) (int, error) {
	return m.store.UnreadCount(ctx, agentID)
}
