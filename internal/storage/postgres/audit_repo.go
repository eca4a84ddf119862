package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/jkaninda/kundi/internal/audit"
)

// AuditRepository implements the audit sink and query surface with GORM.
// Append-only: no Update or Delete methods exist on this type.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record inserts a single audit event. This is the only write method —
// immutability is enforced at the interface level.
func (r *AuditRepository) Record(ctx context.Context, event audit.Event) error {
	model := toAuditModel(audit.Stamp(event))
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("recording audit event: %w", err)
	}
	return nil
}

// Query returns events newest first. A non-empty correlationID filters
// to one causal chain. Limit defaults to 100.
func (r *AuditRepository) Query(ctx context.Context, correlationID string, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	q := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit)
	if correlationID != "" {
		q = q.Where("correlation_id = ?", correlationID)
	}

	var models []AuditEventModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}

	events := make([]audit.Event, len(models))
	for i := range models {
		events[i] = toAuditDomain(&models[i])
	}
	return events, nil
}

// Compile-time check.
var _ audit.Sink = (*AuditRepository)(nil)
