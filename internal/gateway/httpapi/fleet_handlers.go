package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/kundi/internal/audit"
	"github.com/jkaninda/kundi/internal/critique"
	"github.com/jkaninda/kundi/internal/mailbox"
	"github.com/jkaninda/kundi/internal/protocol"
	"github.com/jkaninda/kundi/internal/purpose"
	"github.com/jkaninda/okapi"
)

// **** Fleet roster ****

func (g *Gateway) handleAgentList(c *okapi.Context) error {
	return c.OK(g.registry.List())
}

// **** Mailboxes ****

// MailboxPeekResponse reports the unread backlog without consuming it.
type MailboxPeekResponse struct {
	AgentID string `json:"agent_id"`
	Unread  int    `json:"unread"`
}

func (g *Gateway) handleMailboxPeek(c *okapi.Context) error {
	agentID := c.Param("agent")
	if agentID == "" {
		return c.AbortBadRequest("agent is required")
	}

	n, err := g.mailbox.PeekUnreadCount(c.Context(), agentID)
	if err != nil {
		return c.AbortInternalServerError("mailbox peek failed")
	}
	return c.OK(MailboxPeekResponse{AgentID: agentID, Unread: n})
}

// InjectRequest is the JSON body for POST /v1/mailboxes/{agent}/inject.
type InjectRequest struct {
	Detail     string `json:"detail"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// InjectResponse confirms the queued directive.
type InjectResponse struct {
	MessageID string `json:"message_id"`
	Priority  int    `json:"priority"`
}

// handleMailboxInject queues an operator notice at the reserved inject
// priority so the agent sees it on its very next turn.
func (g *Gateway) handleMailboxInject(c *okapi.Context) error {
	agentID := c.Param("agent")
	if agentID == "" {
		return c.AbortBadRequest("agent is required")
	}

	var req InjectRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Detail == "" {
		return c.AbortBadRequest("detail is required")
	}

	payload := protocol.SystemPayload{
		Event:  protocol.SystemConfigReloaded,
		Detail: req.Detail,
	}
	if req.WorkflowID != "" {
		wfID, err := uuid.Parse(req.WorkflowID)
		if err != nil {
			return c.AbortBadRequest("invalid workflow_id")
		}
		payload.WorkflowID = &wfID
		payload.Event = protocol.SystemCancelRequested
	}

	msg, err := g.mailbox.Send(c.Context(), "operator", agentID, payload, mailbox.PriorityInject)
	if err != nil {
		return c.AbortBadRequest("inject failed: " + err.Error())
	}

	return c.JSON(http.StatusAccepted, InjectResponse{
		MessageID: msg.ID.String(),
		Priority:  msg.Priority,
	})
}

// **** Trust ****

// TrustResponse is the current score and band for a subject.
type TrustResponse struct {
	SubjectID string  `json:"subject_id"`
	Score     float64 `json:"score"`
	Level     string  `json:"level"`
}

func (g *Gateway) handleTrustScore(c *okapi.Context) error {
	subjectID := c.Param("subject")
	if subjectID == "" {
		return c.AbortBadRequest("subject is required")
	}

	score, level, err := g.scorer.Score(c.Context(), subjectID)
	if err != nil {
		return c.AbortInternalServerError("trust lookup failed")
	}
	return c.OK(TrustResponse{SubjectID: subjectID, Score: score, Level: string(level)})
}

// TrustSampleResponse is one row of a subject's score history.
type TrustSampleResponse struct {
	Score      float64   `json:"score"`
	Level      string    `json:"level"`
	Reason     string    `json:"reason"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (g *Gateway) handleTrustHistory(c *okapi.Context) error {
	subjectID := c.Param("subject")
	if subjectID == "" {
		return c.AbortBadRequest("subject is required")
	}

	limit := queryInt(c, "limit", 50)
	samples, err := g.scorer.History(c.Context(), subjectID, limit)
	if err != nil {
		return c.AbortInternalServerError("trust history failed")
	}

	resp := make([]TrustSampleResponse, len(samples))
	for i, s := range samples {
		resp[i] = TrustSampleResponse{
			Score:      s.Score,
			Level:      string(s.Level),
			Reason:     s.Reason,
			RecordedAt: s.RecordedAt,
		}
	}
	return c.OK(resp)
}

// **** Purpose ledger ****

// PurposeDeclareRequest is the JSON body for POST /v1/purposes.
// Scope defaults to "session" when omitted.
type PurposeDeclareRequest struct {
	Scope     string `json:"scope,omitempty"`
	ScopeID   string `json:"scope_id"`
	Statement string `json:"statement"`
}

// PurposeCloseRequest closes an active declaration.
type PurposeCloseRequest struct {
	Outcome   string `json:"outcome"`
	Abandoned bool   `json:"abandoned,omitempty"` // True marks the purpose abandoned rather than completed.
}

// PurposeResponse is one ledger row.
type PurposeResponse struct {
	ID         string     `json:"id"`
	Scope      string     `json:"scope"`
	ScopeID    string     `json:"scope_id"`
	Statement  string     `json:"statement"`
	Hash       string     `json:"hash"`
	State      string     `json:"state"`
	Outcome    string     `json:"outcome,omitempty"`
	DeclaredAt time.Time  `json:"declared_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

func toPurposeResponse(d *purpose.Declaration) PurposeResponse {
	return PurposeResponse{
		ID:         d.ID,
		Scope:      string(d.Scope),
		ScopeID:    d.ScopeID,
		Statement:  d.Statement,
		Hash:       d.Hash,
		State:      d.State,
		Outcome:    d.Outcome,
		DeclaredAt: d.DeclaredAt,
		ClosedAt:   d.ClosedAt,
	}
}

func (g *Gateway) handlePurposeDeclare(c *okapi.Context) error {
	var req PurposeDeclareRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.ScopeID == "" {
		return c.AbortBadRequest("scope_id is required")
	}
	if req.Scope == "" {
		req.Scope = string(purpose.ScopeSession)
	}
	scope, err := purpose.ParseScope(req.Scope)
	if err != nil {
		return c.AbortBadRequest("scope must be session, workflow, or task")
	}

	d, err := g.ledger.Declare(c.Context(), scope, req.ScopeID, req.Statement)
	switch {
	case errors.Is(err, purpose.ErrEmptyStatement):
		return c.AbortBadRequest("statement is required")
	case errors.Is(err, purpose.ErrActiveDeclared):
		return c.JSON(http.StatusConflict, okapi.M{"error": "scope already has an active declaration"})
	case err != nil:
		return c.AbortInternalServerError("declaration failed")
	}
	return c.JSON(http.StatusCreated, toPurposeResponse(d))
}

func (g *Gateway) handlePurposeClose(c *okapi.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.AbortBadRequest("id is required")
	}

	var req PurposeCloseRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	var (
		d   *purpose.Declaration
		err error
	)
	if req.Abandoned {
		d, err = g.ledger.Abandon(c.Context(), id, req.Outcome)
	} else {
		d, err = g.ledger.Complete(c.Context(), id, req.Outcome)
	}
	switch {
	case errors.Is(err, purpose.ErrNotFound):
		return c.JSON(http.StatusNotFound, okapi.M{"error": "declaration not found"})
	case errors.Is(err, purpose.ErrAlreadyClosed):
		return c.JSON(http.StatusConflict, okapi.M{"error": "declaration already closed"})
	case err != nil:
		return c.AbortInternalServerError("close failed")
	}
	return c.OK(toPurposeResponse(d))
}

func (g *Gateway) handlePurposeHistory(c *okapi.Context) error {
	scopeID := c.Param("scope_id")
	if scopeID == "" {
		return c.AbortBadRequest("scope_id is required")
	}
	scope := purpose.ScopeSession
	if raw := c.Query("scope"); raw != "" {
		parsed, err := purpose.ParseScope(raw)
		if err != nil {
			return c.AbortBadRequest("scope must be session, workflow, or task")
		}
		scope = parsed
	}

	decls, err := g.ledger.History(c.Context(), scope, scopeID)
	if err != nil {
		return c.AbortInternalServerError("history failed")
	}

	resp := make([]PurposeResponse, len(decls))
	for i, d := range decls {
		resp[i] = toPurposeResponse(d)
	}
	return c.OK(resp)
}

// **** Critiques ****

// CritiqueEvaluateRequest submits an artifact for adversarial review.
type CritiqueEvaluateRequest struct {
	WorkflowID string `json:"workflow_id"`
	SessionID  string `json:"session_id,omitempty"`
	Phase      string `json:"phase"`
	Content    string `json:"content"`
}

func (g *Gateway) handleCritiqueEvaluate(c *okapi.Context) error {
	var req CritiqueEvaluateRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	wfID, err := uuid.Parse(req.WorkflowID)
	if err != nil {
		return c.AbortBadRequest("invalid workflow_id")
	}
	if req.Phase == "" || req.Content == "" {
		return c.AbortBadRequest("phase and content are required")
	}

	session, err := g.reviews.Evaluate(c.Context(), &critique.Target{
		WorkflowID: wfID,
		SessionID:  req.SessionID,
		Phase:      req.Phase,
		Content:    req.Content,
	}, g.reviser)
	switch {
	case err == nil,
		errors.Is(err, critique.ErrConsensusFailed),
		errors.Is(err, critique.ErrSessionTimeout):
		// Escalated sessions are a decided outcome at the API level; the
		// session record carries the state.
		return c.OK(session)
	default:
		g.logger.ErrorContext(c.Context(), "critique evaluation failed",
			slog.String("workflow_id", req.WorkflowID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("critique evaluation failed")
	}
}

func (g *Gateway) handleCritiqueSessions(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid workflow ID")
	}

	sessions, err := g.reviews.Sessions(c.Context(), id)
	if err != nil {
		return c.AbortInternalServerError("listing critique sessions failed")
	}
	return c.OK(sessions)
}

func (g *Gateway) handleCritiqueFindings(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid session ID")
	}

	findings, err := g.reviews.Findings(c.Context(), id)
	if err != nil {
		return c.AbortInternalServerError("listing findings failed")
	}
	return c.OK(findings)
}

// **** Audit trail ****

// AuditEventResponse is one audit row.
type AuditEventResponse struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Actor         string    `json:"actor"`
	Action        string    `json:"action"`
	Subject       string    `json:"subject"`
	Before        string    `json:"before,omitempty"`
	After         string    `json:"after,omitempty"`
	Result        string    `json:"result"`
	Detail        string    `json:"detail,omitempty"`
	Error         string    `json:"error,omitempty"`
}

func toAuditEventResponse(e audit.Event) AuditEventResponse {
	return AuditEventResponse{
		Timestamp:     e.Timestamp,
		CorrelationID: e.CorrelationID,
		Actor:         e.Actor,
		Action:        e.Action,
		Subject:       e.Subject,
		Before:        e.Before,
		After:         e.After,
		Result:        e.Result,
		Detail:        e.Detail,
		Error:         e.Error,
	}
}

func (g *Gateway) handleAuditQuery(c *okapi.Context) error {
	correlationID := c.Request().URL.Query().Get("correlation_id")
	limit := queryInt(c, "limit", 100)

	events, err := g.audits.Query(c.Context(), correlationID, limit)
	if err != nil {
		return c.AbortInternalServerError("audit query failed")
	}

	resp := make([]AuditEventResponse, len(events))
	for i, e := range events {
		resp[i] = toAuditEventResponse(e)
	}
	return c.OK(resp)
}

// queryInt reads an integer query parameter, falling back to def when
// absent or malformed.
func queryInt(c *okapi.Context, name string, def int) int {
	raw := c.Request().URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
