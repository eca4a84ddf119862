// Package critique runs adversarial review of phase outputs. A panel of
// critics examines an artifact in parallel; their findings reduce to a
// GO / CONDITIONAL / NOGO verdict. NOGO is the binding rejection;
// CONDITIONAL mandates a revision round, up to a configured cap, after
// which the review escalates to a human. Each round is its own session
// referencing the one it revises.
package critique

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Verdict is the consensus outcome of one review round.
type Verdict string

const (
	VerdictGo          Verdict = "go"
	VerdictConditional Verdict = "conditional"
	VerdictNoGo        Verdict = "nogo"
)

// Severity ranks a finding. Critical blocks outright; high passes only
// after a mandated revision.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// FindingType classifies what kind of defect a critic is reporting.
type FindingType string

const (
	TypeSecurityVulnerability FindingType = "security_vulnerability"
	TypeComplianceGap         FindingType = "compliance_gap"
	TypeArchitectureFlaw      FindingType = "architecture_flaw"
	TypePerformanceRisk       FindingType = "performance_risk"
	TypeMaintainability       FindingType = "maintainability_concern"
	TypeTestingGap            FindingType = "testing_gap"
	TypeDeploymentRisk        FindingType = "deployment_risk"
	TypeDataHandling          FindingType = "data_handling_issue"
)

// ParseFindingType maps a label onto the known enum. Unknown labels fall
// back to maintainability_concern, the advisory catch-all, and report
// ok=false so callers can log the original.
func ParseFindingType(label string) (FindingType, bool) {
	switch t := FindingType(label); t {
	case TypeSecurityVulnerability, TypeComplianceGap, TypeArchitectureFlaw,
		TypePerformanceRisk, TypeMaintainability, TypeTestingGap,
		TypeDeploymentRisk, TypeDataHandling:
		return t, true
	}
	return TypeMaintainability, false
}

// SessionState is the lifecycle of a critique session.
type SessionState string

const (
	SessionInProgress SessionState = "in_progress"
	SessionDecided    SessionState = "decided"
	SessionRevised    SessionState = "revised" // Superseded by a successor session.
	SessionFailed     SessionState = "failed"  // Reviser error, cap exhaustion, or timeout.
)

// Finding is one critic observation. Findings are append-only and never
// edited: a retraction is a new Finding whose Supersedes references the
// original row.
type Finding struct {
	ID         uuid.UUID   `json:"id"`
	SessionID  uuid.UUID   `json:"session_id"`
	Round      int         `json:"round"`
	Critic     string      `json:"critic"`
	Type       FindingType `json:"type"`
	Severity   Severity    `json:"severity"`
	Summary    string      `json:"summary"`
	Detail     string      `json:"detail,omitempty"`
	Supersedes *uuid.UUID  `json:"supersedes,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Session records one review round. A revision closes the session as
// revised and opens a successor whose PriorSessionID points back here.
type Session struct {
	ID             uuid.UUID    `json:"id"`
	WorkflowID     uuid.UUID    `json:"workflow_id"`
	PriorSessionID *uuid.UUID   `json:"prior_session_id,omitempty"`
	Phase          string       `json:"phase"`
	ContentHash    string       `json:"content_hash"` // SHA-256 of the artifact under review.
	Round          int          `json:"round"`        // 1-based position in the revision chain.
	State          SessionState `json:"state"`
	Verdict        Verdict      `json:"verdict,omitempty"`
	Content        string       `json:"content"` // The artifact this round examined.
	CreatedAt      time.Time    `json:"created_at"`
	ClosedAt       *time.Time   `json:"closed_at,omitempty"`
}

// Target is the artifact submitted for review.
type Target struct {
	WorkflowID uuid.UUID
	SessionID  string // Owning work session, carried into escalations.
	Phase      string
	Content    string
}

// Critic reviews an artifact and returns findings. An empty slice means
// no objections. Critics must honor ctx: a critic that overruns its
// per-round timeout contributes nothing to that round.
type Critic interface {
	Name() string
	Review(ctx context.Context, target *Target) ([]Finding, error)
}

// CriticFunc adapts a function to the Critic interface.
type CriticFunc struct {
	CriticName string
	Fn         func(ctx context.Context, target *Target) ([]Finding, error)
}

func (c CriticFunc) Name() string { return c.CriticName }

func (c CriticFunc) Review(ctx context.Context, target *Target) ([]Finding, error) {
	return c.Fn(ctx, target)
}

// Reviser rewrites an artifact to address blocking findings.
type Reviser interface {
	Revise(ctx context.Context, content string, findings []Finding) (string, error)
}

// ReviserFunc adapts a function to the Reviser interface.
type ReviserFunc func(ctx context.Context, content string, findings []Finding) (string, error)

func (f ReviserFunc) Revise(ctx context.Context, content string, findings []Finding) (string, error) {
	return f(ctx, content, findings)
}

// Store persists sessions and findings. Findings are append-only; no
// update or delete methods exist for them.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	UpdateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	ListSessionsByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]Session, error)

	AppendFinding(ctx context.Context, f *Finding) error
	ListFindings(ctx context.Context, sessionID uuid.UUID) ([]Finding, error)
}
