package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jkaninda/kundi/internal/trust"
)

// TrustRepository implements trust.Store with GORM.
// Append-only: no Update or Delete methods exist on this type.
type TrustRepository struct {
	db *gorm.DB
}

// NewTrustRepository creates a TrustRepository.
func NewTrustRepository(db *gorm.DB) *TrustRepository {
	return &TrustRepository{db: db}
}

func (r *TrustRepository) AppendSample(ctx context.Context, s trust.Sample) error {
	model := toTrustModel(s)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending trust sample: %w", err)
	}
	return nil
}

func (r *TrustRepository) LatestSample(ctx context.Context, subjectID string) (*trust.Sample, error) {
	var model TrustSampleModel
	err := r.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("recorded_at DESC, id DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest trust sample for %s: %w", subjectID, err)
	}
	sample := toTrustDomain(&model)
	return &sample, nil
}

func (r *TrustRepository) History(ctx context.Context, subjectID string, limit int) ([]trust.Sample, error) {
	q := r.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("recorded_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []TrustSampleModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("loading trust history for %s: %w", subjectID, err)
	}
	samples := make([]trust.Sample, len(models))
	for i := range models {
		samples[i] = toTrustDomain(&models[i])
	}
	return samples, nil
}

// Compile-time check.
var _ trust.Store = (*TrustRepository)(nil)
