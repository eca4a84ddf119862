// Package httpapi implements the HTTP control-plane gateway for Kundi.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-caller rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/jkaninda/kundi/internal/agent"
	"github.com/jkaninda/kundi/internal/critique"
	"github.com/jkaninda/kundi/internal/mailbox"
	"github.com/jkaninda/kundi/internal/observability"
	"github.com/jkaninda/kundi/internal/purpose"
	"github.com/jkaninda/kundi/internal/ratelimit"
	"github.com/jkaninda/kundi/internal/storage"
	"github.com/jkaninda/kundi/internal/trust"
	"github.com/jkaninda/kundi/internal/workflow"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKey         string // Shared operator key. Empty = unauthenticated.
	MaxRequestSize int64  // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP control-plane gateway.
type Gateway struct {
	config   Config
	engine   workflow.Engine
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	server   *http.Server
	registry *agent.Registry    // nil = roster endpoint disabled.
	mailbox  *mailbox.Mailbox   // nil = mailbox endpoints disabled.
	scorer   *trust.Scorer      // nil = trust endpoints disabled.
	ledger   *purpose.Ledger    // nil = purpose endpoints disabled.
	reviews  *critique.Engine   // nil = critique endpoints disabled.
	reviser  critique.Reviser   // Optional reviser for evaluation requests.
	audits   storage.AuditStore // nil = audit endpoint disabled.

	// Extra handlers mounted on the HTTP mux (e.g., the WebSocket agent endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, engine workflow.Engine, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	maxBody := cfg.MaxRequestSize
	if maxBody <= 0 {
		maxBody = defaultMaxRequestSize
	}
	return &Gateway{
		config:  cfg,
		engine:  engine,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(maxBody)),
	}
}

// WithRegistry attaches the fleet roster to the gateway.
func (g *Gateway) WithRegistry(r *agent.Registry) *Gateway {
	g.registry = r
	return g
}

// WithMailbox attaches mailbox peek and inject endpoints to the gateway.
func (g *Gateway) WithMailbox(mb *mailbox.Mailbox) *Gateway {
	g.mailbox = mb
	return g
}

// WithTrust attaches trust score endpoints to the gateway.
func (g *Gateway) WithTrust(s *trust.Scorer) *Gateway {
	g.scorer = s
	return g
}

// WithPurposes attaches the session purpose ledger to the gateway.
func (g *Gateway) WithPurposes(l *purpose.Ledger) *Gateway {
	g.ledger = l
	return g
}

// WithCritiques attaches critique session endpoints to the gateway.
// reviser may be nil; evaluation requests then run without revision
// rounds and any NOGO escalates directly.
func (g *Gateway) WithCritiques(e *critique.Engine, reviser critique.Reviser) *Gateway {
	g.reviews = e
	g.reviser = reviser
	return g
}

// WithAudit attaches the audit trail query endpoint to the gateway.
func (g *Gateway) WithAudit(store storage.AuditStore) *Gateway {
	g.audits = store
	return g
}

// WithOpenAPIDocs enables the interactive API documentation.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Kundi",
			Version: "v0.1.0",
		},
	)
	return g
}

// WithHandler mounts an additional handler on the HTTP mux at the given pattern.
// Useful for adding the WebSocket agent endpoint alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	// Workflow endpoints.
	g.group.Post("/workflows", g.handleWorkflowSubmit,
		okapi.DocSummary("Submit a new workflow"),
		okapi.DocTags("Workflows"),
		okapi.DocRequestBody(WorkflowSubmitRequest{}),
		okapi.DocResponse(http.StatusAccepted, WorkflowResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Get("/workflows/{id}", g.handleWorkflowStatus,
		okapi.DocSummary("Get workflow status"),
		okapi.DocTags("Workflows"),
		okapi.DocPathParam("id", "string", "Workflow ID (UUID)"),
		okapi.DocResponse(WorkflowResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/workflows/{id}/cancel", g.handleWorkflowCancel,
		okapi.DocSummary("Cancel a running workflow"),
		okapi.DocTags("Workflows"),
		okapi.DocPathParam("id", "string", "Workflow ID (UUID)"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Get("/workflows/{id}/subtasks", g.handleWorkflowSubtasks,
		okapi.DocSummary("List subtasks in a workflow"),
		okapi.DocTags("Workflows"),
		okapi.DocPathParam("id", "string", "Workflow ID (UUID)"),
		okapi.DocResponse([]SubtaskResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/workflows/{id}/dispatch", g.handleWorkflowDispatch,
		okapi.DocSummary("Re-dispatch ready subtasks"),
		okapi.DocTags("Workflows"),
		okapi.DocPathParam("id", "string", "Workflow ID (UUID)"),
		okapi.DocResponse(DispatchResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)

	// Fleet roster.
	if g.registry != nil {
		g.group.Get("/agents", g.handleAgentList,
			okapi.DocSummary("List registered agents"),
			okapi.DocTags("Fleet"),
			okapi.DocResponse([]agent.Agent{}),
		)
	}

	// Mailbox endpoints.
	if g.mailbox != nil {
		g.group.Get("/mailboxes/{agent}", g.handleMailboxPeek,
			okapi.DocSummary("Peek at an agent's unread message count"),
			okapi.DocTags("Mailboxes"),
			okapi.DocPathParam("agent", "string", "Agent ID"),
			okapi.DocResponse(MailboxPeekResponse{}),
		)
		g.group.Post("/mailboxes/{agent}/inject", g.handleMailboxInject,
			okapi.DocSummary("Inject an operator directive at reserved priority"),
			okapi.DocTags("Mailboxes"),
			okapi.DocPathParam("agent", "string", "Agent ID"),
			okapi.DocRequestBody(InjectRequest{}),
			okapi.DocResponse(http.StatusAccepted, InjectResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
	}

	// Trust endpoints.
	if g.scorer != nil {
		g.group.Get("/trust/{subject}", g.handleTrustScore,
			okapi.DocSummary("Get the current trust score for a subject"),
			okapi.DocTags("Trust"),
			okapi.DocPathParam("subject", "string", "Agent or session ID"),
			okapi.DocResponse(TrustResponse{}),
		)
		g.group.Get("/trust/{subject}/history", g.handleTrustHistory,
			okapi.DocSummary("Get trust score history for a subject"),
			okapi.DocTags("Trust"),
			okapi.DocPathParam("subject", "string", "Agent or session ID"),
			okapi.DocResponse([]TrustSampleResponse{}),
		)
	}

	// Purpose ledger endpoints.
	if g.ledger != nil {
		g.group.Post("/purposes", g.handlePurposeDeclare,
			okapi.DocSummary("Declare a purpose for a session, workflow, or task"),
			okapi.DocTags("Purposes"),
			okapi.DocRequestBody(PurposeDeclareRequest{}),
			okapi.DocResponse(http.StatusCreated, PurposeResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
			okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		)
		g.group.Post("/purposes/{id}/close", g.handlePurposeClose,
			okapi.DocSummary("Close a declared purpose"),
			okapi.DocTags("Purposes"),
			okapi.DocPathParam("id", "string", "Declaration ID"),
			okapi.DocRequestBody(PurposeCloseRequest{}),
			okapi.DocResponse(PurposeResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
		g.group.Get("/purposes/{scope_id}/history", g.handlePurposeHistory,
			okapi.DocSummary("List purpose declarations for a scope"),
			okapi.DocTags("Purposes"),
			okapi.DocPathParam("scope_id", "string", "Scope key (session, workflow, or task ID)"),
			okapi.DocResponse([]PurposeResponse{}),
		)
	}

	// Critique endpoints.
	if g.reviews != nil {
		g.group.Post("/critiques", g.handleCritiqueEvaluate,
			okapi.DocSummary("Run an adversarial critique session over an artifact"),
			okapi.DocTags("Critiques"),
			okapi.DocRequestBody(CritiqueEvaluateRequest{}),
			okapi.DocResponse(critique.Session{}),
		)
		g.group.Get("/workflows/{id}/critiques", g.handleCritiqueSessions,
			okapi.DocSummary("List critique sessions for a workflow"),
			okapi.DocTags("Critiques"),
			okapi.DocPathParam("id", "string", "Workflow ID (UUID)"),
			okapi.DocResponse([]critique.Session{}),
		)
		g.group.Get("/critiques/{id}/findings", g.handleCritiqueFindings,
			okapi.DocSummary("List findings for a critique session"),
			okapi.DocTags("Critiques"),
			okapi.DocPathParam("id", "string", "Critique session ID (UUID)"),
			okapi.DocResponse([]critique.Finding{}),
		)
	}

	// Audit trail.
	if g.audits != nil {
		g.group.Get("/audit", g.handleAuditQuery,
			okapi.DocSummary("Query the audit trail"),
			okapi.DocTags("Audit"),
			okapi.DocResponse([]AuditEventResponse{}),
		)
	}

	// Extra handlers (e.g., WebSocket agent endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Workflow handlers ---

// WorkflowSubmitRequest is the JSON body for POST /v1/workflows.
type WorkflowSubmitRequest struct {
	Goal      string                 `json:"goal"`
	SessionID string                 `json:"session_id,omitempty"`
	Subtasks  []workflow.SubtaskSpec `json:"subtasks,omitempty"` // Empty = planner decomposes the goal.
}

// WorkflowResponse is the JSON response for workflow endpoints.
type WorkflowResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Goal          string `json:"goal"`
	SessionID     string `json:"session_id,omitempty"`
	CorrelationID string `json:"correlation_id"`
	SubtaskCount  int    `json:"subtask_count"`
	Error         string `json:"error,omitempty"`
}

func toWorkflowResponse(wf *workflow.Workflow) WorkflowResponse {
	return WorkflowResponse{
		ID:            wf.ID.String(),
		Status:        string(wf.Status),
		Goal:          wf.Goal,
		SessionID:     wf.SessionID,
		CorrelationID: wf.CorrelationID,
		SubtaskCount:  wf.SubtaskCount,
		Error:         wf.Error,
	}
}

func (g *Gateway) handleWorkflowSubmit(c *okapi.Context) error {
	callerID := c.GetString("callerID")
	if g.limiter != nil {
		if err := g.limiter.Allow(callerID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req WorkflowSubmitRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Goal == "" {
		return c.AbortBadRequest("goal is required")
	}

	correlationID := newCorrelationID()

	g.logger.Info("http workflow submit",
		slog.String("caller", callerID),
		slog.String("correlation_id", correlationID),
	)

	wf, err := g.engine.Submit(c.Context(), &workflow.Request{
		SessionID:     req.SessionID,
		CorrelationID: correlationID,
		Goal:          req.Goal,
		Subtasks:      req.Subtasks,
	})
	if err != nil {
		g.logger.Error("workflow submission failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortBadRequest("workflow submission failed: " + err.Error())
	}

	return c.JSON(http.StatusAccepted, toWorkflowResponse(wf))
}

func (g *Gateway) handleWorkflowStatus(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid workflow ID")
	}

	wf, err := g.engine.Status(c.Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "workflow not found"})
	}
	return c.OK(toWorkflowResponse(wf))
}

func (g *Gateway) handleWorkflowCancel(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid workflow ID")
	}

	if err := g.engine.Cancel(c.Context(), id); err != nil {
		return c.AbortBadRequest("cancellation failed: " + err.Error())
	}
	return c.OK(map[string]string{"status": "cancelled"})
}

// SubtaskResponse is a single subtask in the workflow listing.
type SubtaskResponse struct {
	ID          string   `json:"id"`
	AgentRole   string   `json:"agent_role"`
	AgentID     string   `json:"agent_id,omitempty"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Attempts    int      `json:"attempts"`
	Output      string   `json:"output,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func (g *Gateway) handleWorkflowSubtasks(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid workflow ID")
	}

	subtasks, err := g.engine.ListSubtasks(c.Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "workflow not found"})
	}

	resp := make([]SubtaskResponse, len(subtasks))
	for i, st := range subtasks {
		deps := make([]string, len(st.DependsOn))
		for j, d := range st.DependsOn {
			deps[j] = d.String()
		}
		resp[i] = SubtaskResponse{
			ID:          st.ID.String(),
			AgentRole:   st.AgentRole,
			AgentID:     st.AgentID,
			Description: st.Description,
			Status:      string(st.Status),
			DependsOn:   deps,
			Attempts:    st.Attempts,
			Output:      st.Output,
			Error:       st.Error,
		}
	}
	return c.OK(resp)
}

// DispatchResponse reports how many subtasks were sent.
type DispatchResponse struct {
	Dispatched int `json:"dispatched"`
}

func (g *Gateway) handleWorkflowDispatch(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid workflow ID")
	}

	n, err := g.engine.DispatchReady(c.Context(), id)
	if err != nil {
		return c.AbortBadRequest("dispatch failed: " + err.Error())
	}
	return c.OK(DispatchResponse{Dispatched: n})
}

// --- Health handlers ---

// HealthResponse is the JSON response for liveness probes.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the shared API key with a constant-time compare
// and records the caller for rate limiting.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if g.config.APIKey == "" {
			// Unauthenticated deployments rate-limit by remote host.
			c.Set("callerID", remoteHost(c.Request()))
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(g.config.APIKey)) != 1 {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("callerID", remoteHost(c.Request()))
		return next(c)
	}
}

// --- Helpers ---

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
