package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jkaninda/kundi/internal/purpose"
)

// PurposeRepository implements purpose.Store with GORM.
type PurposeRepository struct {
	db *gorm.DB
}

// NewPurposeRepository creates a PurposeRepository.
func NewPurposeRepository(db *gorm.DB) *PurposeRepository {
	return &PurposeRepository{db: db}
}

func (r *PurposeRepository) Insert(ctx context.Context, d *purpose.Declaration) error {
	model := toPurposeModel(d)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("inserting declaration: %w", err)
	}
	return nil
}

func (r *PurposeRepository) Update(ctx context.Context, d *purpose.Declaration) error {
	model := toPurposeModel(d)
	result := r.db.WithContext(ctx).Save(&model)
	if result.Error != nil {
		return fmt.Errorf("updating declaration: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", purpose.ErrNotFound, d.ID)
	}
	return nil
}

func (r *PurposeRepository) Get(ctx context.Context, id string) (*purpose.Declaration, error) {
	var model PurposeModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", purpose.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting declaration %s: %w", id, err)
	}
	return toPurposeDomain(&model), nil
}

func (r *PurposeRepository) ActiveFor(ctx context.Context, scope purpose.Scope, scopeID string) (*purpose.Declaration, error) {
	var model PurposeModel
	err := r.db.WithContext(ctx).
		Where("scope = ? AND scope_id = ? AND state = ?", string(scope), scopeID, purpose.StateActive).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading active declaration for %s %s: %w", scope, scopeID, err)
	}
	return toPurposeDomain(&model), nil
}

func (r *PurposeRepository) ListByScope(ctx context.Context, scope purpose.Scope, scopeID string) ([]*purpose.Declaration, error) {
	var models []PurposeModel
	if err := r.db.WithContext(ctx).
		Where("scope = ? AND scope_id = ?", string(scope), scopeID).
		Order("declared_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing declarations for %s %s: %w", scope, scopeID, err)
	}
	decls := make([]*purpose.Declaration, len(models))
	for i := range models {
		decls[i] = toPurposeDomain(&models[i])
	}
	return decls, nil
}

// Compile-time check.
var _ purpose.Store = (*PurposeRepository)(nil)
