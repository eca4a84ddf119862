package mailbox

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/kundi/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTask() protocol.TaskPayload {
	return protocol.TaskPayload{
		SubtaskID:   uuid.New(),
		WorkflowID:  uuid.New(),
		Description: "run checks",
		Attempt:     1,
	}
}

func TestSend_InvalidPayloadRejected(t *testing.T) {
	mb := New(NewInMemoryStore(), nil, nil, testLogger())

	// Missing description fails at construction, not at consumption.
	_, err := mb.Send(context.Background(), "engine", "builder-1", protocol.TaskPayload{
		SubtaskID:  uuid.New(),
		WorkflowID: uuid.New(),
		Attempt:    1,
	}, PriorityDefault)
	if err == nil {
		t.Fatal("expected validation error for payload without description")
	}

	count, _ := mb.PeekUnreadCount(context.Background(), "builder-1")
	if count != 0 {
		t.Errorf("unread count = %d, want 0 after rejected send", count)
	}
}

func TestSend_MissingRecipient(t *testing.T) {
	mb := New(NewInMemoryStore(), nil, nil, testLogger())
	if _, err := mb.Send(context.Background(), "engine", "", testTask(), PriorityDefault); err == nil {
		t.Fatal("expected error for empty recipient")
	}
}

func TestReceive_PriorityOrder(t *testing.T) {
	ctx := context.Background()
	mb := New(NewInMemoryStore(), nil, nil, testLogger())

	// Enqueue priorities [3,3,9,1] in that order.
	var ids []uuid.UUID
	for _, prio := range []int{3, 3, 9, 1} {
		msg, err := mb.Send(ctx, "engine", "builder-1", testTask(), prio)
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		ids = append(ids, msg.ID)
	}

	got, err := mb.Receive(ctx, "builder-1", 10)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("received %d messages, want 4", len(got))
	}

	// Expect [9,3,3,1]: priority desc, FIFO within equal priority.
	wantOrder := []uuid.UUID{ids[2], ids[0], ids[1], ids[3]}
	for i, msg := range got {
		if msg.ID != wantOrder[i] {
			t.Errorf("position %d: got message priority %d, want id %s", i, msg.Priority, wantOrder[i])
		}
	}
}

func TestAppendKeepsTimestampsImmutable(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	stamp := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Equal timestamps within one priority: arrival order must hold
	// without the store touching CreatedAt.
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		msg := &Message{
			ID:        uuid.New(),
			FromAgent: "engine",
			ToAgent:   "builder-1",
			Priority:  PriorityDefault,
			CreatedAt: stamp,
		}
		if err := store.Append(ctx, msg); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		ids = append(ids, msg.ID)
	}

	got, err := store.ReceiveUnread(ctx, "builder-1", 10)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("received %d messages, want 3", len(got))
	}
	for i, msg := range got {
		if msg.ID != ids[i] {
			t.Errorf("position %d: got %s, want %s (arrival order)", i, msg.ID, ids[i])
		}
		if !msg.CreatedAt.Equal(stamp) {
			t.Errorf("position %d: CreatedAt = %v, want untouched %v", i, msg.CreatedAt, stamp)
		}
	}
}

func TestReceive_InjectPreemptsEarlierBacklog(t *testing.T) {
	ctx := context.Background()
	mb := New(NewInMemoryStore(), nil, nil, testLogger())

	// Backlog first, async result second. The async result still wins.
	if _, err := mb.Send(ctx, "engine", "builder-1", testTask(), PriorityDefault); err != nil {
		t.Fatalf("send backlog: %v", err)
	}
	asyncMsg, err := mb.SendPriorityResult(ctx, "researcher-1", "builder-1", protocol.AsyncResultPayload{
		RequestID: uuid.New(),
		Origin:    "researcher-1",
		Summary:   "scan finished",
	})
	if err != nil {
		t.Fatalf("send priority result: %v", err)
	}
	if asyncMsg.Priority != PriorityInject {
		t.Errorf("priority = %d, want %d", asyncMsg.Priority, PriorityInject)
	}

	got, err := mb.Receive(ctx, "builder-1", 1)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(got) != 1 || got[0].ID != asyncMsg.ID {
		t.Fatalf("next-turn message = %v, want the injected async result", got)
	}
}

func TestReceive_AtMostOnce(t *testing.T) {
	ctx := context.Background()
	mb := New(NewInMemoryStore(), nil, nil, testLogger())

	if _, err := mb.Send(ctx, "engine", "builder-1", testTask(), PriorityDefault); err != nil {
		t.Fatalf("send: %v", err)
	}

	first, _ := mb.Receive(ctx, "builder-1", 5)
	if len(first) != 1 {
		t.Fatalf("first receive = %d messages, want 1", len(first))
	}
	if first[0].ReadAt == nil {
		t.Error("delivered message should carry ReadAt")
	}

	second, _ := mb.Receive(ctx, "builder-1", 5)
	if len(second) != 0 {
		t.Errorf("second receive = %d messages, want 0 (no redelivery)", len(second))
	}
}

func TestMessagesNeverDeleted(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	mb := New(store, nil, nil, testLogger())

	for i := 0; i < 3; i++ {
		if _, err := mb.Send(ctx, "engine", "builder-1", testTask(), PriorityDefault); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if _, err := mb.Receive(ctx, "builder-1", 3); err != nil {
		t.Fatalf("receive: %v", err)
	}

	// Consumed messages are marked read, not removed.
	all, err := store.ListByAgent(ctx, "builder-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("history = %d messages, want 3", len(all))
	}
	for _, m := range all {
		if m.ReadAt == nil {
			t.Errorf("message %s should be marked read", m.ID)
		}
	}
}

func TestPeekUnreadCount(t *testing.T) {
	ctx := context.Background()
	mb := New(NewInMemoryStore(), nil, nil, testLogger())

	for i := 0; i < 4; i++ {
		_, _ = mb.Send(ctx, "engine", "builder-1", testTask(), PriorityDefault)
	}
	_, _ = mb.Receive(ctx, "builder-1", 1)

	count, err := mb.PeekUnreadCount(ctx, "builder-1")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if count != 3 {
		t.Errorf("unread = %d, want 3", count)
	}
}

func TestMessage_DecodedRoundTrip(t *testing.T) {
	ctx := context.Background()
	mb := New(NewInMemoryStore(), nil, nil, testLogger())

	task := testTask()
	if _, err := mb.Send(ctx, "engine", "builder-1", task, PriorityHigh); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, _ := mb.Receive(ctx, "builder-1", 1)
	if len(got) != 1 {
		t.Fatalf("receive = %d, want 1", len(got))
	}

	decoded, err := got[0].Decoded()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tp, ok := decoded.(protocol.TaskPayload)
	if !ok {
		t.Fatalf("decoded type = %T, want TaskPayload", decoded)
	}
	if tp.SubtaskID != task.SubtaskID {
		t.Errorf("subtask_id = %s, want %s", tp.SubtaskID, task.SubtaskID)
	}
}
