package database

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/synthome-dev/synthome/pkg/database/model"
	dal "github.com/synthome-dev/synthome/pkg/sql/util"
)

// UsageRecordFacadeInterface defines the database operation interface for usage records
type UsageRecordFacadeInterface interface {
	// Create persists a usage record
	Create(ctx context.Context, record *model.UsageRecord) error

	// CreateIfAbsent persists a usage record unless one already exists
	// for the same job record. Reports whether a row was written.
	CreateIfAbsent(ctx context.Context, record *model.UsageRecord) (bool, error)

	// GetByJobRecordID retrieves the usage record for a job record, nil when absent
	GetByJobRecordID(ctx context.Context, jobRecordID string) (*model.UsageRecord, error)

	// ListByExecution lists usage records of an execution
	ListByExecution(ctx context.Context, executionID string) ([]*model.UsageRecord, error)

	// WithDB binds the facade to an explicit connection
	WithDB(db *gorm.DB) UsageRecordFacadeInterface
}

// UsageRecordFacade implements UsageRecordFacadeInterface
type UsageRecordFacade struct {
	BaseFacade
}

// NewUsageRecordFacade creates a new UsageRecordFacade instance
func NewUsageRecordFacade() UsageRecordFacadeInterface {
	return &UsageRecordFacade{}
}

func (f *UsageRecordFacade) WithDB(db *gorm.DB) UsageRecordFacadeInterface {
	return &UsageRecordFacade{BaseFacade: f.withDB(db)}
}

func (f *UsageRecordFacade) Create(ctx context.Context, record *model.UsageRecord) error {
	db := f.getDB().WithContext(ctx)
	return db.Create(record).Error
}

func (f *UsageRecordFacade) CreateIfAbsent(ctx context.Context, record *model.UsageRecord) (bool, error) {
	db := f.getDB().WithContext(ctx)
	err := db.Create(record).Error
	if err != nil {
		if dal.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *UsageRecordFacade) GetByJobRecordID(ctx context.Context, jobRecordID string) (*model.UsageRecord, error) {
	db := f.getDB().WithContext(ctx)
	var record model.UsageRecord
	err := db.Where("job_record_id = ?", jobRecordID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (f *UsageRecordFacade) ListByExecution(ctx context.Context, executionID string) ([]*model.UsageRecord, error) {
	db := f.getDB().WithContext(ctx)
	var records []model.UsageRecord
	err := db.Where("execution_id = ?", executionID).Order("created_at ASC").Find(&records).Error
	if err != nil {
		return nil, err
	}
	result := make([]*model.UsageRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}
