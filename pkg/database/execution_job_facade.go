package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/synthome-dev/synthome/pkg/database/model"
)

// ExecutionJobFacadeInterface defines the database operation interface for job rows
type ExecutionJobFacadeInterface interface {
	// Get retrieves a job row by record ID, nil when absent
	Get(ctx context.Context, id string) (*model.ExecutionJob, error)

	// GetByJobID retrieves a job row by execution and client-supplied job id
	GetByJobID(ctx context.Context, executionID, jobID string) (*model.ExecutionJob, error)

	// ListByExecution lists all job rows of an execution
	ListByExecution(ctx context.Context, executionID string) ([]*model.ExecutionJob, error)

	// ListByJobIDs lists job rows of an execution restricted to the given job ids
	ListByJobIDs(ctx context.Context, executionID string, jobIDs []string) ([]*model.ExecutionJob, error)

	// EmitTicket atomically moves a pending job to processing and inserts
	// its queue ticket. Reports whether this call performed the emission.
	EmitTicket(ctx context.Context, jobRecordID string, ticket *model.QueueTicket) (bool, error)

	// Complete moves a processing job to completed; reports whether this call won
	Complete(ctx context.Context, id string, result json.RawMessage) (bool, error)

	// Fail moves a pending or processing job to failed; reports whether this call won
	Fail(ctx context.Context, id string, errMsg string) (bool, error)

	// MarkWaiting parks a processing job on an external provider. The
	// model id is recorded so the gateway can route polls and callbacks.
	MarkWaiting(ctx context.Context, id string, strategy string, providerJobID string, modelID string, nextPollAt *time.Time) error

	// UpdateProgress stores the latest progress descriptor
	UpdateProgress(ctx context.Context, id string, progress model.ExtType) error

	// UpdateNextPoll pushes the next poll time forward
	UpdateNextPoll(ctx context.Context, id string, nextPollAt time.Time) error

	// ListPollable lists processing jobs whose poll time has come
	ListPollable(ctx context.Context, now time.Time, limit int) ([]*model.ExecutionJob, error)

	// ListStranded lists processing jobs whose queue ticket reached a
	// terminal failure, leaving nothing to deliver the job again
	ListStranded(ctx context.Context, limit int) ([]*model.ExecutionJob, error)

	// MarkActionLogged flips action_logged once; reports whether this call won
	MarkActionLogged(ctx context.Context, id string) (bool, error)

	// MarkWebhookDelivered stamps webhook_delivered_at once; reports whether this call won
	MarkWebhookDelivered(ctx context.Context, id string) (bool, error)

	// WithDB binds the facade to an explicit connection
	WithDB(db *gorm.DB) ExecutionJobFacadeInterface
}

// ExecutionJobFacade implements ExecutionJobFacadeInterface
type ExecutionJobFacade struct {
	BaseFacade
}

// NewExecutionJobFacade creates a new ExecutionJobFacade instance
func NewExecutionJobFacade() ExecutionJobFacadeInterface {
	return &ExecutionJobFacade{}
}

func (f *ExecutionJobFacade) WithDB(db *gorm.DB) ExecutionJobFacadeInterface {
	return &ExecutionJobFacade{BaseFacade: f.withDB(db)}
}

func (f *ExecutionJobFacade) Get(ctx context.Context, id string) (*model.ExecutionJob, error) {
	db := f.getDB().WithContext(ctx)
	var job model.ExecutionJob
	err := db.Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (f *ExecutionJobFacade) GetByJobID(ctx context.Context, executionID, jobID string) (*model.ExecutionJob, error) {
	db := f.getDB().WithContext(ctx)
	var job model.ExecutionJob
	err := db.Where("execution_id = ? AND job_id = ?", executionID, jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (f *ExecutionJobFacade) ListByExecution(ctx context.Context, executionID string) ([]*model.ExecutionJob, error) {
	db := f.getDB().WithContext(ctx)
	var jobs []model.ExecutionJob
	err := db.Where("execution_id = ?", executionID).Order("created_at ASC").Find(&jobs).Error
	if err != nil {
		return nil, err
	}

	result := make([]*model.ExecutionJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (f *ExecutionJobFacade) ListByJobIDs(ctx context.Context, executionID string, jobIDs []string) ([]*model.ExecutionJob, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}
	db := f.getDB().WithContext(ctx)
	var jobs []model.ExecutionJob
	err := db.Where("execution_id = ? AND job_id IN ?", executionID, jobIDs).Find(&jobs).Error
	if err != nil {
		return nil, err
	}

	result := make([]*model.ExecutionJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// EmitTicket performs the pending->processing transition and the ticket
// insert in a single transaction. The status guard prevents two
// concurrent reactions from emitting the same job twice.
func (f *ExecutionJobFacade) EmitTicket(ctx context.Context, jobRecordID string, ticket *model.QueueTicket) (bool, error) {
	db := f.getDB().WithContext(ctx)
	emitted := false

	err := db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&model.ExecutionJob{}).
			Where("id = ? AND status = ?", jobRecordID, model.JobStatusPending).
			Updates(map[string]interface{}{
				"status":          model.JobStatusProcessing,
				"queue_ticket_id": ticket.ID,
				"started_at":      now,
				"attempts":        gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Create(ticket).Error; err != nil {
			return err
		}
		emitted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return emitted, nil
}

func (f *ExecutionJobFacade) Complete(ctx context.Context, id string, result json.RawMessage) (bool, error) {
	db := f.getDB().WithContext(ctx)
	now := time.Now()

	res := db.Model(&model.ExecutionJob{}).
		Where("id = ? AND status = ?", id, model.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":       model.JobStatusCompleted,
			"result":       result,
			"error":        "",
			"completed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Fail also covers dependency-cascade failures, which hit jobs that
// never left pending.
func (f *ExecutionJobFacade) Fail(ctx context.Context, id string, errMsg string) (bool, error) {
	db := f.getDB().WithContext(ctx)
	now := time.Now()

	res := db.Model(&model.ExecutionJob{}).
		Where("id = ? AND status IN ?", id, []string{model.JobStatusPending, model.JobStatusProcessing}).
		Updates(map[string]interface{}{
			"status":       model.JobStatusFailed,
			"error":        errMsg,
			"completed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (f *ExecutionJobFacade) MarkWaiting(ctx context.Context, id string, strategy string, providerJobID string, modelID string, nextPollAt *time.Time) error {
	db := f.getDB().WithContext(ctx)

	res := db.Model(&model.ExecutionJob{}).
		Where("id = ? AND status = ?", id, model.JobStatusProcessing).
		Updates(map[string]interface{}{
			"waiting_strategy": strategy,
			"provider_job_id":  providerJobID,
			"model_id":         modelID,
			"next_poll_at":     nextPollAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (f *ExecutionJobFacade) UpdateProgress(ctx context.Context, id string, progress model.ExtType) error {
	db := f.getDB().WithContext(ctx)
	return db.Model(&model.ExecutionJob{}).
		Where("id = ? AND status = ?", id, model.JobStatusProcessing).
		Update("progress", progress).Error
}

func (f *ExecutionJobFacade) UpdateNextPoll(ctx context.Context, id string, nextPollAt time.Time) error {
	db := f.getDB().WithContext(ctx)
	return db.Model(&model.ExecutionJob{}).
		Where("id = ?", id).
		Update("next_poll_at", nextPollAt).Error
}

func (f *ExecutionJobFacade) ListPollable(ctx context.Context, now time.Time, limit int) ([]*model.ExecutionJob, error) {
	db := f.getDB().WithContext(ctx)
	query := db.Where("status = ? AND waiting_strategy = ? AND next_poll_at IS NOT NULL AND next_poll_at <= ?",
		model.JobStatusProcessing, model.WaitingStrategyPolling, now).
		Order("next_poll_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []model.ExecutionJob
	if err := query.Find(&jobs).Error; err != nil {
		return nil, err
	}

	result := make([]*model.ExecutionJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// ListStranded finds processing jobs pointing at a failed or expired
// ticket. Parked jobs stay out: their ticket completed when the
// provider job started, and in-flight jobs hold an active ticket.
func (f *ExecutionJobFacade) ListStranded(ctx context.Context, limit int) ([]*model.ExecutionJob, error) {
	db := f.getDB().WithContext(ctx)

	dead := db.Session(&gorm.Session{NewDB: true}).
		Model(&model.QueueTicket{}).
		Select("id").
		Where("state IN ?", []string{model.TicketStateFailed, model.TicketStateExpired})

	query := db.Where("status = ? AND queue_ticket_id IN (?)", model.JobStatusProcessing, dead).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []model.ExecutionJob
	if err := query.Find(&jobs).Error; err != nil {
		return nil, err
	}

	result := make([]*model.ExecutionJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (f *ExecutionJobFacade) MarkActionLogged(ctx context.Context, id string) (bool, error) {
	db := f.getDB().WithContext(ctx)

	res := db.Model(&model.ExecutionJob{}).
		Where("id = ? AND action_logged = ?", id, false).
		Update("action_logged", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (f *ExecutionJobFacade) MarkWebhookDelivered(ctx context.Context, id string) (bool, error) {
	db := f.getDB().WithContext(ctx)
	now := time.Now()

	res := db.Model(&model.ExecutionJob{}).
		Where("id = ? AND webhook_delivered_at IS NULL", id).
		Update("webhook_delivered_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
