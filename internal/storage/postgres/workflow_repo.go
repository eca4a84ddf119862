package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/kundi/internal/workflow"
)

// WorkflowRepository implements workflow.Store with GORM.
type WorkflowRepository struct {
	db *gorm.DB
}

// NewWorkflowRepository creates a WorkflowRepository.
func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

func (r *WorkflowRepository) CreateWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	model := toWorkflowModel(wf)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating workflow: %w", err)
	}
	return nil
}

func (r *WorkflowRepository) UpdateWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	model := toWorkflowModel(wf)
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("updating workflow: %w", err)
	}
	return nil
}

func (r *WorkflowRepository) GetWorkflow(ctx context.Context, id uuid.UUID) (*workflow.Workflow, error) {
	var model WorkflowModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("getting workflow %s: %w", id, err)
	}
	return toWorkflowDomain(&model), nil
}

func (r *WorkflowRepository) ListWorkflows(ctx context.Context, statuses []workflow.Status) ([]workflow.Workflow, error) {
	q := r.db.WithContext(ctx).Order("created_at ASC")
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, s := range statuses {
			values[i] = string(s)
		}
		q = q.Where("status IN ?", values)
	}
	var models []WorkflowModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	wfs := make([]workflow.Workflow, len(models))
	for i := range models {
		wfs[i] = *toWorkflowDomain(&models[i])
	}
	return wfs, nil
}

func (r *WorkflowRepository) CreateSubtask(ctx context.Context, st *workflow.Subtask) error {
	model := toSubtaskModel(st)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating subtask: %w", err)
	}
	return nil
}

func (r *WorkflowRepository) UpdateSubtask(ctx context.Context, st *workflow.Subtask) error {
	model := toSubtaskModel(st)
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("updating subtask: %w", err)
	}
	return nil
}

func (r *WorkflowRepository) GetSubtask(ctx context.Context, id uuid.UUID) (*workflow.Subtask, error) {
	var model SubtaskModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("getting subtask %s: %w", id, err)
	}
	return toSubtaskDomain(&model), nil
}

func (r *WorkflowRepository) ListSubtasks(ctx context.Context, workflowID uuid.UUID) ([]workflow.Subtask, error) {
	var models []SubtaskModel
	if err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("seq_num ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing subtasks for workflow %s: %w", workflowID, err)
	}
	subtasks := make([]workflow.Subtask, len(models))
	for i := range models {
		subtasks[i] = *toSubtaskDomain(&models[i])
	}
	return subtasks, nil
}

// TransitionSubtask applies the status move as a conditional UPDATE.
// The WHERE clause pins the expected from status, so a concurrent
// transition makes RowsAffected zero and the caller learns it lost
// the race without an error.
func (r *WorkflowRepository) TransitionSubtask(ctx context.Context, id uuid.UUID, from, to workflow.SubtaskStatus, mutate func(*workflow.Subtask)) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model SubtaskModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return fmt.Errorf("loading subtask %s: %w", id, err)
		}
		if model.Status != string(from) {
			return nil
		}

		st := toSubtaskDomain(&model)
		if mutate != nil {
			mutate(st)
		}
		// Status is owned by the transition, not the mutator.
		st.Status = to
		st.UpdatedAt = time.Now().UTC()

		updated := toSubtaskModel(st)
		result := tx.Model(&SubtaskModel{}).
			Where("id = ? AND status = ?", id, string(from)).
			Select("*").
			Omit("id", "created_at").
			Updates(&updated)
		if result.Error != nil {
			return fmt.Errorf("transitioning subtask %s: %w", id, result.Error)
		}
		applied = result.RowsAffected == 1
		return nil
	})
	return applied, err
}

// Compile-time check.
var _ workflow.Store = (*WorkflowRepository)(nil)
