package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/jkaninda/kundi/internal/agent"
	"github.com/jkaninda/kundi/internal/config"
	"github.com/jkaninda/kundi/internal/mailbox"
	"github.com/jkaninda/kundi/internal/protocol"
	"github.com/jkaninda/kundi/internal/workflow"
)

// stubEngine records engine callbacks triggered by the transport.
type stubEngine struct {
	mu       sync.Mutex
	started  []uuid.UUID
	results  []uuid.UUID
	canceled []uuid.UUID
}

func (e *stubEngine) Submit(ctx context.Context, req *workflow.Request) (*workflow.Workflow, error) {
	return nil, nil
}

func (e *stubEngine) Status(ctx context.Context, id uuid.UUID) (*workflow.Workflow, error) {
	return nil, nil
}

func (e *stubEngine) OnStarted(ctx context.Context, subtaskID uuid.UUID, agentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, subtaskID)
	return nil
}

func (e *stubEngine) OnResult(ctx context.Context, subtaskID uuid.UUID, success bool, output, errMsg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, subtaskID)
	return nil
}

func (e *stubEngine) Cancel(ctx context.Context, id uuid.UUID) error { return nil }

func (e *stubEngine) AckCancel(ctx context.Context, subtaskID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.canceled = append(e.canceled, subtaskID)
	return nil
}

func (e *stubEngine) ListSubtasks(ctx context.Context, id uuid.UUID) ([]workflow.Subtask, error) {
	return nil, nil
}

func (e *stubEngine) DispatchReady(ctx context.Context, id uuid.UUID) (int, error) {
	return 0, nil
}

func (e *stubEngine) WithReviewGate(workflow.ReviewGate) workflow.Engine { return e }

var _ workflow.Engine = (*stubEngine)(nil)

func testServer(t *testing.T, token string) (*Server, *stubEngine, *mailbox.Mailbox, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := agent.NewRegistry(0, logger)
	mb := mailbox.New(mailbox.NewInMemoryStore(), nil, nil, logger)
	engine := &stubEngine{}

	cfg := &config.WebSocketGatewayConfig{AgentToken: token}
	srv := NewServer(registry, mb, engine, cfg, nil, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	return srv, engine, mb, wsURL
}

func dialAndRegister(t *testing.T, wsURL, agentID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })

	frame, err := protocol.NewFrame(protocol.FrameRegister, protocol.RegisterFrame{
		AgentID:      agentID,
		Role:         "builder",
		Tier:         "domain",
		Capabilities: []string{"code"},
	})
	if err != nil {
		t.Fatalf("register frame: %v", err)
	}
	writeTestFrame(t, ctx, conn, frame)

	reply := readTestFrame(t, ctx, conn)
	if reply.Type != protocol.FrameRegistered {
		t.Fatalf("expected %s, got %s", protocol.FrameRegistered, reply.Type)
	}
	return conn
}

func writeTestFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, frame *protocol.Frame) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readTestFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) *protocol.Frame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame protocol.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return &frame
}

func TestRegisterAndRoster(t *testing.T) {
	srv, _, _, wsURL := testServer(t, "")
	_ = dialAndRegister(t, wsURL, "builder-1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.Connected("builder-1") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !srv.Connected("builder-1") {
		t.Fatal("agent not tracked as connected")
	}

	roster := srv.Registry().List()
	if len(roster) != 1 || roster[0].ID != "builder-1" {
		t.Fatalf("unexpected roster: %+v", roster)
	}
	if roster[0].Role != "builder" {
		t.Errorf("role = %q, want builder", roster[0].Role)
	}
}

func TestTokenRequired(t *testing.T) {
	_, _, _, wsURL := testServer(t, "sekret")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// No token: the upgrade is rejected before the handshake completes.
	if _, _, err := websocket.Dial(ctx, wsURL, nil); err == nil {
		t.Fatal("expected dial without token to fail")
	}

	conn, _, err := websocket.Dial(ctx, wsURL+"?token=sekret", nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}

func TestMailboxDeliveryAndResult(t *testing.T) {
	_, engine, mb, wsURL := testServer(t, "")
	conn := dialAndRegister(t, wsURL, "builder-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	subtaskID := uuid.New()
	workflowID := uuid.New()
	if _, err := mb.Send(ctx, "coordinator", "builder-1", protocol.TaskPayload{
		SubtaskID:   subtaskID,
		WorkflowID:  workflowID,
		Description: "compile the report",
		Attempt:     1,
	}, mailbox.PriorityDefault); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Deliver loop ticks once per second.
	frame := readTestFrame(t, ctx, conn)
	if frame.Type != protocol.FrameDeliver {
		t.Fatalf("expected %s, got %s", protocol.FrameDeliver, frame.Type)
	}
	var del protocol.DeliverFrame
	if err := frame.DecodePayload(&del); err != nil {
		t.Fatalf("decode deliver: %v", err)
	}
	if del.Kind != protocol.MsgTask {
		t.Errorf("kind = %s, want %s", del.Kind, protocol.MsgTask)
	}

	// Delivery of a task marks it started.
	engine.mu.Lock()
	started := len(engine.started)
	engine.mu.Unlock()
	if started != 1 {
		t.Fatalf("started count = %d, want 1", started)
	}

	// Report the result back.
	result, err := protocol.NewFrame(protocol.FrameResult, protocol.ResultPayload{
		SubtaskID:  subtaskID,
		WorkflowID: workflowID,
		Status:     protocol.ResultCompleted,
		Output:     "done",
	})
	if err != nil {
		t.Fatalf("result frame: %v", err)
	}
	writeTestFrame(t, ctx, conn, result)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		engine.mu.Lock()
		n := len(engine.results)
		engine.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("result never reached the engine")
}

func TestMalformedResultGetsErrorFrame(t *testing.T) {
	_, _, _, wsURL := testServer(t, "")
	conn := dialAndRegister(t, wsURL, "builder-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bad, err := protocol.NewFrame(protocol.FrameResult, map[string]string{"status": "maybe"})
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	writeTestFrame(t, ctx, conn, bad)

	frame := readTestFrame(t, ctx, conn)
	if frame.Type != protocol.FrameError {
		t.Fatalf("expected %s, got %s", protocol.FrameError, frame.Type)
	}
	var ef protocol.ErrorFrame
	if err := frame.DecodePayload(&ef); err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if ef.Code == "" {
		t.Error("error frame missing code")
	}
}
