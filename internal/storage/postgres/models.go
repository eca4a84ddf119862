package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JSONB is a json.RawMessage stored in a jsonb column (TEXT under SQLite).
type JSONB json.RawMessage

// WorkflowModel maps to the "workflows" table.
type WorkflowModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionID     string    `gorm:"index"`
	CorrelationID string    `gorm:"index"`
	Goal          string    `gorm:"type:text;not null"`
	Status        string    `gorm:"not null;default:'pending';index"`
	SubtaskCount  int       `gorm:"not null;default:0"`
	Error         string    `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

func (WorkflowModel) TableName() string { return "workflows" }

// SubtaskModel maps to the "subtasks" table. The decomposition position
// is stored as seq_num because ORDER is reserved in SQL.
type SubtaskModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkflowID     uuid.UUID `gorm:"type:uuid;not null;index"`
	AgentRole      string    `gorm:"not null"`
	AgentID        string
	Description    string     `gorm:"type:text;not null"`
	Input          string     `gorm:"type:text"`
	Output         string     `gorm:"type:text"`
	Status         string     `gorm:"not null;default:'pending';index"`
	DependsOn      JSONB      `gorm:"type:jsonb;not null;default:'[]'"`
	SeqNum         int        `gorm:"not null;default:0"`
	RequiresReview bool       `gorm:"not null;default:false"`
	Attempts       int        `gorm:"not null;default:0"`
	NextAttemptAt  *time.Time `gorm:"index"`
	Error          string     `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

func (SubtaskModel) TableName() string { return "subtasks" }

// MessageModel maps to the "mailbox_messages" table.
// Rows are immutable except for read_at, which is set exactly once on receive.
type MessageModel struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	FromAgent string     `gorm:"not null"`
	ToAgent   string     `gorm:"not null;index:idx_mailbox_unread"`
	Kind      string     `gorm:"not null"`
	Priority  int        `gorm:"not null;default:0"`
	Payload   JSONB      `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time  `gorm:"index"`
	ReadAt    *time.Time `gorm:"index:idx_mailbox_unread"`
}

func (MessageModel) TableName() string { return "mailbox_messages" }

// TrustSampleModel maps to the "trust_samples" table.
// Append-only. No UpdatedAt or DeletedAt — the score series is immutable.
type TrustSampleModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	SubjectID  string    `gorm:"not null;index:idx_trust_subject_time"`
	Score      float64   `gorm:"not null"`
	Level      string    `gorm:"not null"`
	Reason     string    `gorm:"not null"`
	RecordedAt time.Time `gorm:"not null;index:idx_trust_subject_time"`
}

func (TrustSampleModel) TableName() string { return "trust_samples" }

// PurposeModel maps to the "purpose_declarations" table.
type PurposeModel struct {
	ID         string `gorm:"primaryKey"`
	Scope      string `gorm:"not null;index:idx_purpose_scope"`
	ScopeID    string `gorm:"not null;index:idx_purpose_scope"`
	Statement  string `gorm:"type:text;not null"`
	Hash       string `gorm:"not null"`
	State      string `gorm:"not null;index"`
	Outcome    string `gorm:"type:text"`
	DeclaredAt time.Time
	ClosedAt   *time.Time
}

func (PurposeModel) TableName() string { return "purpose_declarations" }

// CritiqueSessionModel maps to the "critique_sessions" table.
// One row per review round; a revision chains sessions via PriorSessionID.
type CritiqueSessionModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	WorkflowID     uuid.UUID  `gorm:"type:uuid;not null;index"`
	PriorSessionID *uuid.UUID `gorm:"type:uuid"`
	Phase          string     `gorm:"not null"`
	ContentHash    string     `gorm:"not null"`
	Round          int        `gorm:"not null;default:1"`
	State          string     `gorm:"not null"`
	Verdict        string
	Content        string `gorm:"type:text"`
	CreatedAt      time.Time
	ClosedAt       *time.Time
}

func (CritiqueSessionModel) TableName() string { return "critique_sessions" }

// CritiqueFindingModel maps to the "critique_findings" table.
// Rows are never updated or deleted; a retraction is a new row whose
// Supersedes references the original finding.
type CritiqueFindingModel struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	SessionID  uuid.UUID  `gorm:"type:uuid;not null;index"`
	Round      int        `gorm:"not null"`
	Critic     string     `gorm:"not null"`
	Type       string     `gorm:"not null"`
	Severity   string     `gorm:"not null"`
	Summary    string     `gorm:"type:text;not null"`
	Detail     string     `gorm:"type:text"`
	Supersedes *uuid.UUID `gorm:"type:uuid"`
	CreatedAt  time.Time
}

func (CritiqueFindingModel) TableName() string { return "critique_findings" }

// AuditEventModel maps to the "audit_events" table.
// No UpdatedAt or DeletedAt — the audit log is append-only and immutable.
type AuditEventModel struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	CorrelationID string `gorm:"index"`
	Actor         string `gorm:"not null"`
	Action        string `gorm:"not null;index"`
	Subject       string `gorm:"not null;index"`
	Before        string
	After         string
	Result        string    `gorm:"not null"`
	Detail        string    `gorm:"type:text"`
	Error         string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"index"`
}

func (AuditEventModel) TableName() string { return "audit_events" }
