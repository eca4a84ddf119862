package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/kundi/internal/critique"
)

// CritiqueRepository implements critique.Store with GORM.
type CritiqueRepository struct {
	db *gorm.DB
}

// NewCritiqueRepository creates a CritiqueRepository.
func NewCritiqueRepository(db *gorm.DB) *CritiqueRepository {
	return &CritiqueRepository{db: db}
}

func (r *CritiqueRepository) CreateSession(ctx context.Context, s *critique.Session) error {
	model := toCritiqueSessionModel(s)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating critique session: %w", err)
	}
	return nil
}

func (r *CritiqueRepository) UpdateSession(ctx context.Context, s *critique.Session) error {
	model := toCritiqueSessionModel(s)
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("updating critique session: %w", err)
	}
	return nil
}

func (r *CritiqueRepository) GetSession(ctx context.Context, id uuid.UUID) (*critique.Session, error) {
	var model CritiqueSessionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("getting critique session %s: %w", id, err)
	}
	return toCritiqueSessionDomain(&model), nil
}

func (r *CritiqueRepository) ListSessionsByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]critique.Session, error) {
	var models []CritiqueSessionModel
	if err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing critique sessions for workflow %s: %w", workflowID, err)
	}
	sessions := make([]critique.Session, len(models))
	for i := range models {
		sessions[i] = *toCritiqueSessionDomain(&models[i])
	}
	return sessions, nil
}

func (r *CritiqueRepository) AppendFinding(ctx context.Context, f *critique.Finding) error {
	model := toFindingModel(f)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending finding: %w", err)
	}
	return nil
}

func (r *CritiqueRepository) ListFindings(ctx context.Context, sessionID uuid.UUID) ([]critique.Finding, error) {
	var models []CritiqueFindingModel
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("round ASC, created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing findings for session %s: %w", sessionID, err)
	}
	findings := make([]critique.Finding, len(models))
	for i := range models {
		findings[i] = toFindingDomain(&models[i])
	}
	return findings, nil
}

// Compile-time check.
var _ critique.Store = (*CritiqueRepository)(nil)
