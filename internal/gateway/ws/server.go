// Package ws implements the WebSocket transport between the coordinator
// and remote agents. Agents connect, register their role and
// capabilities, and receive their mailbox backlog as push frames instead
// of polling over HTTP.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/jkaninda/kundi/internal/agent"
	"github.com/jkaninda/kundi/internal/config"
	"github.com/jkaninda/kundi/internal/mailbox"
	"github.com/jkaninda/kundi/internal/observability"
	"github.com/jkaninda/kundi/internal/protocol"
	"github.com/jkaninda/kundi/internal/workflow"
)

const (
	registrationTimeout = 10 * time.Second
	deliverInterval     = time.Second
	deliverBatch        = 10
)

// Server manages agent WebSocket connections.
type Server struct {
	registry *agent.Registry
	mailbox  *mailbox.Mailbox
	engine   workflow.Engine
	cfg      *config.WebSocketGatewayConfig
	metrics  *observability.MetricsCollector // nil-safe.
	logger   *slog.Logger

	connMu sync.RWMutex
	conns  map[string]*websocket.Conn
}

// NewServer creates a WebSocket server bridging the registry, mailboxes,
// and the workflow engine.
func NewServer(registry *agent.Registry, mb *mailbox.Mailbox, engine workflow.Engine, cfg *config.WebSocketGatewayConfig, metrics *observability.MetricsCollector, logger *slog.Logger) *Server {
	return &Server{
		registry: registry,
		mailbox:  mb,
		engine:   engine,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		conns:    make(map[string]*websocket.Conn),
	}
}

// Registry returns the fleet registry served by this transport.
func (s *Server) Registry() *agent.Registry {
	return s.registry
}

// Connected reports whether the agent currently holds a live connection.
func (s *Server) Connected(agentID string) bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	_, ok := s.conns[agentID]
	return ok
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	// Authenticate agent via shared token.
	if s.cfg != nil && s.cfg.AgentToken != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = r.Header.Get("Authorization")
			if len(token) > 7 && token[:7] == "Bearer " {
				token = token[7:]
			}
		}
		if token != s.cfg.AgentToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"kundi-agent-v1"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	s.handleConnection(r.Context(), conn)
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn) {
	var agentID string
	defer func() {
		if agentID != "" {
			s.dropConn(agentID)
		}
		conn.Close(websocket.StatusNormalClosure, "connection closed")
	}()

	// The first frame must be agent.register.
	agentID, err := s.waitForRegistration(ctx, conn)
	if err != nil {
		s.logger.Error("agent registration failed", slog.String("error", err.Error()))
		return
	}

	s.connMu.Lock()
	s.conns[agentID] = conn
	s.connMu.Unlock()
	if s.metrics != nil {
		s.metrics.WSConnectedAgents.Inc()
		defer s.metrics.WSConnectedAgents.Dec()
	}

	// Push mailbox backlog and heartbeat pings from a side loop.
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.deliverLoop(loopCtx, conn, agentID)

	// Main frame loop.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("agent disconnected normally", slog.String("agent_id", agentID))
			} else {
				s.logger.Warn("agent connection error",
					slog.String("agent_id", agentID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("invalid frame from agent",
				slog.String("agent_id", agentID),
				slog.String("error", err.Error()),
			)
			s.writeError(ctx, conn, "bad_frame", "frame is not valid JSON")
			continue
		}
		frame.AgentID = agentID

		s.handleFrame(ctx, conn, agentID, &frame)
	}
}

func (s *Server) waitForRegistration(ctx context.Context, conn *websocket.Conn) (string, error) {
	regCtx, cancel := context.WithTimeout(ctx, registrationTimeout)
	defer cancel()

	_, data, err := conn.Read(regCtx)
	if err != nil {
		return "", fmt.Errorf("reading registration: %w", err)
	}

	var frame protocol.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", fmt.Errorf("parsing registration: %w", err)
	}
	if frame.Type != protocol.FrameRegister {
		return "", fmt.Errorf("expected %s, got %s", protocol.FrameRegister, frame.Type)
	}

	var reg protocol.RegisterFrame
	if err := frame.DecodePayload(&reg); err != nil {
		return "", fmt.Errorf("parsing registration payload: %w", err)
	}
	if reg.AgentID == "" {
		return "", fmt.Errorf("agent_id is required")
	}

	s.registry.Register(agent.Agent{
		ID:           reg.AgentID,
		Role:         reg.Role,
		Tier:         agent.Tier(reg.Tier),
		Capabilities: reg.Capabilities,
	})
	s.countFrame(protocol.FrameRegister, "in")

	resp, err := protocol.NewFrame(protocol.FrameRegistered, map[string]string{
		"message": fmt.Sprintf("registered as %s", reg.AgentID),
	})
	if err != nil {
		return "", err
	}
	resp.AgentID = reg.AgentID
	if err := s.writeFrame(ctx, conn, resp); err != nil {
		return "", err
	}

	s.logger.Info("agent registered",
		slog.String("agent_id", reg.AgentID),
		slog.String("role", reg.Role),
	)
	return reg.AgentID, nil
}

func (s *Server) handleFrame(ctx context.Context, conn *websocket.Conn, agentID string, frame *protocol.Frame) {
	s.countFrame(frame.Type, "in")

	switch frame.Type {
	case protocol.FrameHeartbeat:
		var hb protocol.HeartbeatFrame
		if err := frame.DecodePayload(&hb); err == nil {
			s.registry.Heartbeat(agentID, hb.ActiveSubtasks)
		}

	case protocol.FrameResult:
		var result protocol.ResultPayload
		if err := frame.DecodePayload(&result); err != nil {
			s.writeError(ctx, conn, "bad_result", "result payload is malformed")
			return
		}
		if err := result.Validate(); err != nil {
			s.writeError(ctx, conn, "bad_result", err.Error())
			return
		}
		success := result.Status == protocol.ResultCompleted
		if err := s.engine.OnResult(ctx, result.SubtaskID, success, result.Output, result.Error); err != nil {
			s.logger.Warn("result rejected",
				slog.String("agent_id", agentID),
				slog.String("subtask_id", result.SubtaskID.String()),
				slog.String("error", err.Error()),
			)
			s.writeError(ctx, conn, "result_rejected", err.Error())
			return
		}
		s.logger.Info("subtask result received",
			slog.String("agent_id", agentID),
			slog.String("subtask_id", result.SubtaskID.String()),
			slog.Bool("success", success),
		)

	case protocol.FrameCancelAck:
		var ack struct {
			SubtaskID uuid.UUID `json:"subtask_id"`
		}
		if err := frame.DecodePayload(&ack); err != nil || ack.SubtaskID == uuid.Nil {
			s.writeError(ctx, conn, "bad_cancel_ack", "cancel ack requires subtask_id")
			return
		}
		if err := s.engine.AckCancel(ctx, ack.SubtaskID); err != nil {
			s.logger.Warn("cancel ack rejected",
				slog.String("agent_id", agentID),
				slog.String("subtask_id", ack.SubtaskID.String()),
				slog.String("error", err.Error()),
			)
		}

	default:
		s.logger.Warn("unknown frame type from agent",
			slog.String("agent_id", agentID),
			slog.String("type", string(frame.Type)),
		)
		s.writeError(ctx, conn, "unknown_type", string(frame.Type))
	}
}

// deliverLoop pushes the agent's mailbox backlog over the socket.
// Messages are claimed through the mailbox so a reconnecting agent never
// sees the same message twice; priority order is preserved end to end.
func (s *Server) deliverLoop(ctx context.Context, conn *websocket.Conn, agentID string) {
	ticker := time.NewTicker(deliverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgs, err := s.mailbox.Receive(ctx, agentID, deliverBatch)
			if err != nil {
				s.logger.Warn("mailbox receive failed",
					slog.String("agent_id", agentID),
					slog.String("error", err.Error()),
				)
				continue
			}
			for i := range msgs {
				if err := s.deliver(ctx, conn, agentID, &msgs[i]); err != nil {
					s.logger.Debug("delivery failed, dropping connection",
						slog.String("agent_id", agentID),
						slog.String("error", err.Error()),
					)
					return
				}
			}
		}
	}
}

func (s *Server) deliver(ctx context.Context, conn *websocket.Conn, agentID string, msg *mailbox.Message) error {
	frame, err := protocol.NewFrame(protocol.FrameDeliver, protocol.DeliverFrame{
		MessageID: msg.ID.String(),
		Kind:      msg.Kind,
		Priority:  msg.Priority,
		Payload:   msg.Payload,
	})
	if err != nil {
		return err
	}
	frame.AgentID = agentID

	if err := s.writeFrame(ctx, conn, frame); err != nil {
		return err
	}

	// A task delivered on a live socket counts as picked up.
	if msg.Kind == protocol.MsgTask {
		var task protocol.TaskPayload
		if err := json.Unmarshal(msg.Payload, &task); err == nil {
			if err := s.engine.OnStarted(ctx, task.SubtaskID, agentID); err != nil {
				s.logger.Debug("start not recorded",
					slog.String("subtask_id", task.SubtaskID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return nil
}

func (s *Server) dropConn(agentID string) {
	s.connMu.Lock()
	delete(s.conns, agentID)
	s.connMu.Unlock()
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, frame *protocol.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.countFrame(frame.Type, "out")
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) writeError(ctx context.Context, conn *websocket.Conn, code, message string) {
	frame, err := protocol.NewFrame(protocol.FrameError, protocol.ErrorFrame{
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	if err := s.writeFrame(ctx, conn, frame); err != nil {
		s.logger.Debug("error frame write failed", slog.String("error", err.Error()))
	}
}

func (s *Server) countFrame(t protocol.FrameType, direction string) {
	if s.metrics != nil {
		s.metrics.WSFramesTotal.WithLabelValues(string(t), direction).Inc()
	}
}
