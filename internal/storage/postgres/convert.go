package postgres

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/jkaninda/kundi/internal/audit"
	"github.com/jkaninda/kundi/internal/critique"
	"github.com/jkaninda/kundi/internal/mailbox"
	"github.com/jkaninda/kundi/internal/protocol"
	"github.com/jkaninda/kundi/internal/purpose"
	"github.com/jkaninda/kundi/internal/trust"
	"github.com/jkaninda/kundi/internal/workflow"
)

func uuidsToJSON(ids []uuid.UUID) JSONB {
	if len(ids) == 0 {
		return JSONB("[]")
	}
	data, _ := json.Marshal(ids)
	return JSONB(data)
}

func uuidsFromJSON(raw JSONB) []uuid.UUID {
	if len(raw) == 0 {
		return nil
	}
	var ids []uuid.UUID
	_ = json.Unmarshal(raw, &ids)
	return ids
}

// --- Workflow ---

func toWorkflowModel(wf *workflow.Workflow) WorkflowModel {
	return WorkflowModel{
		ID:            wf.ID,
		SessionID:     wf.SessionID,
		CorrelationID: wf.CorrelationID,
		Goal:          wf.Goal,
		Status:        string(wf.Status),
		SubtaskCount:  wf.SubtaskCount,
		Error:         wf.Error,
		CreatedAt:     wf.CreatedAt,
		UpdatedAt:     wf.UpdatedAt,
		CompletedAt:   wf.CompletedAt,
	}
}

func toWorkflowDomain(m *WorkflowModel) *workflow.Workflow {
	return &workflow.Workflow{
		ID:            m.ID,
		SessionID:     m.SessionID,
		CorrelationID: m.CorrelationID,
		Goal:          m.Goal,
		Status:        workflow.Status(m.Status),
		SubtaskCount:  m.SubtaskCount,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		CompletedAt:   m.CompletedAt,
	}
}

func toSubtaskModel(st *workflow.Subtask) SubtaskModel {
	return SubtaskModel{
		ID:             st.ID,
		WorkflowID:     st.WorkflowID,
		AgentRole:      st.AgentRole,
		AgentID:        st.AgentID,
		Description:    st.Description,
		Input:          st.Input,
		Output:         st.Output,
		Status:         string(st.Status),
		DependsOn:      uuidsToJSON(st.DependsOn),
		SeqNum:         st.Order,
		RequiresReview: st.RequiresReview,
		Attempts:       st.Attempts,
		NextAttemptAt:  st.NextAttemptAt,
		Error:          st.Error,
		CreatedAt:      st.CreatedAt,
		UpdatedAt:      st.UpdatedAt,
		StartedAt:      st.StartedAt,
		CompletedAt:    st.CompletedAt,
	}
}

func toSubtaskDomain(m *SubtaskModel) *workflow.Subtask {
	return &workflow.Subtask{
		ID:             m.ID,
		WorkflowID:     m.WorkflowID,
		AgentRole:      m.AgentRole,
		AgentID:        m.AgentID,
		Description:    m.Description,
		Input:          m.Input,
		Output:         m.Output,
		Status:         workflow.SubtaskStatus(m.Status),
		DependsOn:      uuidsFromJSON(m.DependsOn),
		Order:          m.SeqNum,
		RequiresReview: m.RequiresReview,
		Attempts:       m.Attempts,
		NextAttemptAt:  m.NextAttemptAt,
		Error:          m.Error,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
	}
}

// --- Mailbox ---

func toMessageModel(msg *mailbox.Message) MessageModel {
	payload := msg.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return MessageModel{
		ID:        msg.ID,
		FromAgent: msg.FromAgent,
		ToAgent:   msg.ToAgent,
		Kind:      string(msg.Kind),
		Priority:  msg.Priority,
		Payload:   JSONB(payload),
		CreatedAt: msg.CreatedAt,
		ReadAt:    msg.ReadAt,
	}
}

func toMessageDomain(m *MessageModel) *mailbox.Message {
	return &mailbox.Message{
		ID:        m.ID,
		FromAgent: m.FromAgent,
		ToAgent:   m.ToAgent,
		Kind:      protocol.MessageType(m.Kind),
		Priority:  m.Priority,
		Payload:   json.RawMessage(m.Payload),
		CreatedAt: m.CreatedAt,
		ReadAt:    m.ReadAt,
	}
}

// --- Trust ---

func toTrustModel(s trust.Sample) TrustSampleModel {
	return TrustSampleModel{
		SubjectID:  s.SubjectID,
		Score:      s.Score,
		Level:      string(s.Level),
		Reason:     s.Reason,
		RecordedAt: s.RecordedAt,
	}
}

func toTrustDomain(m *TrustSampleModel) trust.Sample {
	return trust.Sample{
		SubjectID:  m.SubjectID,
		Score:      m.Score,
		Level:      trust.Level(m.Level),
		Reason:     m.Reason,
		RecordedAt: m.RecordedAt,
	}
}

// --- Purpose ---

func toPurposeModel(d *purpose.Declaration) PurposeModel {
	return PurposeModel{
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

func toPurposeDomain(m *PurposeModel) *purpose.Declaration {
	return &purpose.Declaration{
		ID:         m.ID,
		Scope:      purpose.Scope(m.Scope),
		ScopeID:    m.ScopeID,
		Statement:  m.Statement,
		Hash:       m.Hash,
		State:      m.State,
		Outcome:    m.Outcome,
		DeclaredAt: m.DeclaredAt,
		ClosedAt:   m.ClosedAt,
	}
}

// --- Critique ---

func toCritiqueSessionModel(s *critique.Session) CritiqueSessionModel {
	return CritiqueSessionModel{
		ID:             s.ID,
		WorkflowID:     s.WorkflowID,
		PriorSessionID: s.PriorSessionID,
		Phase:          s.Phase,
		ContentHash:    s.ContentHash,
		Round:          s.Round,
		State:          string(s.State),
		Verdict:        string(s.Verdict),
		Content:        s.Content,
		CreatedAt:      s.CreatedAt,
		ClosedAt:       s.ClosedAt,
	}
}

func toCritiqueSessionDomain(m *CritiqueSessionModel) *critique.Session {
	return &critique.Session{
		ID:             m.ID,
		WorkflowID:     m.WorkflowID,
		PriorSessionID: m.PriorSessionID,
		Phase:          m.Phase,
		ContentHash:    m.ContentHash,
		Round:          m.Round,
		State:          critique.SessionState(m.State),
		Verdict:        critique.Verdict(m.Verdict),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		ClosedAt:       m.ClosedAt,
	}
}

func toFindingModel(f *critique.Finding) CritiqueFindingModel {
	return CritiqueFindingModel{
		ID:         f.ID,
		SessionID:  f.SessionID,
		Round:      f.Round,
		Critic:     f.Critic,
		Type:       string(f.Type),
		Severity:   string(f.Severity),
		Summary:    f.Summary,
		Detail:     f.Detail,
		Supersedes: f.Supersedes,
		CreatedAt:  f.CreatedAt,
	}
}

func toFindingDomain(m *CritiqueFindingModel) critique.Finding {
	return critique.Finding{
		ID:         m.ID,
		SessionID:  m.SessionID,
		Round:      m.Round,
		Critic:     m.Critic,
		Type:       critique.FindingType(m.Type),
		Severity:   critique.Severity(m.Severity),
		Summary:    m.Summary,
		Detail:     m.Detail,
		Supersedes: m.Supersedes,
		CreatedAt:  m.CreatedAt,
	}
}

// --- Audit ---

func toAuditModel(e audit.Event) AuditEventModel {
	return AuditEventModel{
		CorrelationID: e.CorrelationID,
		Actor:         e.Actor,
		Action:        e.Action,
		Subject:       e.Subject,
		Before:        e.Before,
		After:         e.After,
		Result:        e.Result,
		Detail:        e.Detail,
		Error:         e.Error,
		CreatedAt:     e.Timestamp,
	}
}

func toAuditDomain(m *AuditEventModel) audit.Event {
	return audit.Event{
		Timestamp:     m.CreatedAt,
		CorrelationID: m.CorrelationID,
		Actor:         m.Actor,
		Action:        m.Action,
		Subject:       m.Subject,
		Before:        m.Before,
		After:         m.After,
		Result:        m.Result,
		Detail:        m.Detail,
		Error:         m.Error,
	}
}
