package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/synthome-dev/synthome/pkg/database/model"
)

// ExecutionFacadeInterface defines the database operation interface for executions
type ExecutionFacadeInterface interface {
	// Create persists a new execution
	Create(ctx context.Context, execution *model.Execution) error

	// CreateWithJobs persists an execution and all its job rows in one transaction
	CreateWithJobs(ctx context.Context, execution *model.Execution, jobs []*model.ExecutionJob) error

	// Get retrieves an execution by ID, nil when absent
	Get(ctx context.Context, id string) (*model.Execution, error)

	// MarkProcessing moves a pending execution to processing
	MarkProcessing(ctx context.Context, id string) error

	// MarkTerminal writes the terminal state once; reports whether this call won
	MarkTerminal(ctx context.Context, id string, status string, result json.RawMessage, errMsg string) (bool, error)

	// MarkWebhookDelivered stamps webhook_delivered_at once; reports whether this call won
	MarkWebhookDelivered(ctx context.Context, id string) (bool, error)

	// ListNonTerminal lists executions still pending or processing
	ListNonTerminal(ctx context.Context) ([]*model.Execution, error)

	// WithDB binds the facade to an explicit connection
	WithDB(db *gorm.DB) ExecutionFacadeInterface
}

// ExecutionFacade implements ExecutionFacadeInterface
type ExecutionFacade struct {
	BaseFacade
}

// NewExecutionFacade creates a new ExecutionFacade instance
func NewExecutionFacade() ExecutionFacadeInterface {
	return &ExecutionFacade{}
}

func (f *ExecutionFacade) WithDB(db *gorm.DB) ExecutionFacadeInterface {
	return &ExecutionFacade{BaseFacade: f.withDB(db)}
}

func (f *ExecutionFacade) Create(ctx context.Context, execution *model.Execution) error {
	db := f.getDB().WithContext(ctx)
	return db.Create(execution).Error
}

func (f *ExecutionFacade) CreateWithJobs(ctx context.Context, execution *model.Execution, jobs []*model.ExecutionJob) error {
	db := f.getDB().WithContext(ctx)
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(execution).Error; err != nil {
			return err
		}
		if len(jobs) > 0 {
			if err := tx.Create(jobs).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (f *ExecutionFacade) Get(ctx context.Context, id string) (*model.Execution, error) {
	db := f.getDB().WithContext(ctx)
	var execution model.Execution
	err := db.Where("id = ?", id).First(&execution).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &execution, nil
}

func (f *ExecutionFacade) MarkProcessing(ctx context.Context, id string) error {
	db := f.getDB().WithContext(ctx)
	return db.Model(&model.Execution{}).
		Where("id = ? AND status = ?", id, model.ExecutionStatusPending).
		Update("status", model.ExecutionStatusProcessing).Error
}

// MarkTerminal freezes result and error. The status guard makes the
// write idempotent under racing reactions.
func (f *ExecutionFacade) MarkTerminal(ctx context.Context, id string, status string, result json.RawMessage, errMsg string) (bool, error) {
	db := f.getDB().WithContext(ctx)
	now := time.Now()

	res := db.Model(&model.Execution{}).
		Where("id = ? AND status IN ?", id, []string{model.ExecutionStatusPending, model.ExecutionStatusProcessing}).
		Updates(map[string]interface{}{
			"status":       status,
			"result":       result,
			"error":        errMsg,
			"completed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (f *ExecutionFacade) MarkWebhookDelivered(ctx context.Context, id string) (bool, error) {
	db := f.getDB().WithContext(ctx)
	now := time.Now()

	res := db.Model(&model.Execution{}).
		Where("id = ? AND webhook_delivered_at IS NULL", id).
		Update("webhook_delivered_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (f *ExecutionFacade) ListNonTerminal(ctx context.Context) ([]*model.Execution, error) {
	db := f.getDB().WithContext(ctx)
	var executions []model.Execution
	err := db.Where("status IN ?", []string{model.ExecutionStatusPending, model.ExecutionStatusProcessing}).
		Order("created_at ASC").
		Find(&executions).Error
	if err != nil {
		return nil, err
	}

	result := make([]*model.Execution, len(executions))
	for i := range executions {
		result[i] = &executions[i]
	}
	return result, nil
}
