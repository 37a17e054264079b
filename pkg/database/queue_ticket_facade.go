package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/synthome-dev/synthome/pkg/database/model"
)

// QueueTicketFacadeInterface defines the database operation interface for queue tickets
type QueueTicketFacadeInterface interface {
	// Create persists a new ticket
	Create(ctx context.Context, ticket *model.QueueTicket) error

	// Get retrieves a ticket by ID, nil when absent
	Get(ctx context.Context, id string) (*model.QueueTicket, error)

	// Claim atomically claims the oldest deliverable ticket on the given topics
	Claim(ctx context.Context, topics []string, workerID string, visibilityTimeout time.Duration) (*model.QueueTicket, error)

	// Complete marks an active ticket as completed
	Complete(ctx context.Context, id string) error

	// Fail records a handler failure: retried with backoff below the
	// attempt ceiling, failed permanently at it. Reports whether the
	// ticket will be redelivered.
	Fail(ctx context.Context, id string, errMsg string, backoffBase time.Duration) (bool, error)

	// Release returns an active ticket to the queue without counting a failure
	Release(ctx context.Context, id string) error

	// List lists tickets with optional filters
	List(ctx context.Context, filter *QueueTicketFilter) ([]*model.QueueTicket, error)

	// Count counts tickets matching filter
	Count(ctx context.Context, filter *QueueTicketFilter) (int64, error)

	// HandleTimeouts reclaims active tickets whose visibility window lapsed
	HandleTimeouts(ctx context.Context, backoffBase time.Duration) (int, error)

	// ExpireStale archives tickets past their expiry bound
	ExpireStale(ctx context.Context) (int, error)

	// Cleanup removes old terminal tickets
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	// WithDB binds the facade to an explicit connection
	WithDB(db *gorm.DB) QueueTicketFacadeInterface
}

// QueueTicketFilter defines filter conditions for querying tickets
type QueueTicketFilter struct {
	State         *string
	Topic         *string
	Topics        []string
	WorkerID      *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// QueueTicketFacade implements QueueTicketFacadeInterface
type QueueTicketFacade struct {
	BaseFacade
}

// NewQueueTicketFacade creates a new QueueTicketFacade instance
func NewQueueTicketFacade() QueueTicketFacadeInterface {
	return &QueueTicketFacade{}
}

func (f *QueueTicketFacade) WithDB(db *gorm.DB) QueueTicketFacadeInterface {
	return &QueueTicketFacade{BaseFacade: f.withDB(db)}
}

func (f *QueueTicketFacade) Create(ctx context.Context, ticket *model.QueueTicket) error {
	db := f.getDB().WithContext(ctx)
	return db.Create(ticket).Error
}

func (f *QueueTicketFacade) Get(ctx context.Context, id string) (*model.QueueTicket, error) {
	db := f.getDB().WithContext(ctx)
	var ticket model.QueueTicket
	err := db.Where("id = ?", id).First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ticket, nil
}

// Claim claims a deliverable ticket using SELECT FOR UPDATE SKIP LOCKED
func (f *QueueTicketFacade) Claim(ctx context.Context, topics []string, workerID string, visibilityTimeout time.Duration) (*model.QueueTicket, error) {
	db := f.getDB().WithContext(ctx)
	var ticket model.QueueTicket

	err := db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		query := tx.Clauses(clause.Locking{
			Strength: "UPDATE",
			Options:  "SKIP LOCKED",
		}).Where("state = ? AND next_attempt_at <= ?", model.TicketStateCreated, now)

		if len(topics) > 0 {
			query = query.Where("topic IN ?", topics)
		}

		result := query.Order("created_at ASC").First(&ticket)
		if result.Error != nil {
			return result.Error
		}

		timeoutAt := now.Add(visibilityTimeout)
		ticket.State = model.TicketStateActive
		ticket.WorkerID = workerID
		ticket.Attempts = ticket.Attempts + 1
		ticket.TimeoutAt = &timeoutAt
		if ticket.StartedAt == nil {
			ticket.StartedAt = &now
		}

		return tx.Save(&ticket).Error
	})

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // No deliverable tickets
		}
		return nil, err
	}

	return &ticket, nil
}

func (f *QueueTicketFacade) Complete(ctx context.Context, id string) error {
	db := f.getDB().WithContext(ctx)
	now := time.Now()

	result := db.Model(&model.QueueTicket{}).
		Where("id = ? AND state = ?", id, model.TicketStateActive).
		Updates(map[string]interface{}{
			"state":        model.TicketStateCompleted,
			"completed_at": now,
			"timeout_at":   nil,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTicketNotFound
	}
	return nil
}

func (f *QueueTicketFacade) Fail(ctx context.Context, id string, errMsg string, backoffBase time.Duration) (bool, error) {
	ticket, err := f.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if ticket == nil {
		return false, ErrTicketNotFound
	}

	db := f.getDB().WithContext(ctx)
	now := time.Now()

	if ticket.Attempts < ticket.MaxAttempts {
		// Back to the queue with exponential backoff.
		next := now.Add(Backoff(backoffBase, ticket.Attempts))
		result := db.Model(&model.QueueTicket{}).
			Where("id = ? AND state = ?", id, model.TicketStateActive).
			Updates(map[string]interface{}{
				"state":           model.TicketStateCreated,
				"error_message":   errMsg,
				"next_attempt_at": next,
				"timeout_at":      nil,
				"worker_id":       "",
			})
		if result.Error != nil {
			return false, result.Error
		}
		if result.RowsAffected == 0 {
			return false, ErrTicketNotFound
		}
		return true, nil
	}

	result := db.Model(&model.QueueTicket{}).
		Where("id = ? AND state = ?", id, model.TicketStateActive).
		Updates(map[string]interface{}{
			"state":         model.TicketStateFailed,
			"error_message": errMsg,
			"completed_at":  now,
			"timeout_at":    nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, ErrTicketNotFound
	}
	return false, nil
}

func (f *QueueTicketFacade) Release(ctx context.Context, id string) error {
	db := f.getDB().WithContext(ctx)
	now := time.Now()

	result := db.Model(&model.QueueTicket{}).
		Where("id = ? AND state = ?", id, model.TicketStateActive).
		Updates(map[string]interface{}{
			"state":           model.TicketStateCreated,
			"next_attempt_at": now,
			"timeout_at":      nil,
			"worker_id":       "",
			"attempts":        gorm.Expr("attempts - 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTicketNotFound
	}
	return nil
}

func (f *QueueTicketFacade) List(ctx context.Context, filter *QueueTicketFilter) ([]*model.QueueTicket, error) {
	db := f.getDB().WithContext(ctx)
	query := f.applyFilter(db.Model(&model.QueueTicket{}), filter)

	if filter != nil && filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}

	var tickets []model.QueueTicket
	if err := query.Order("created_at DESC").Find(&tickets).Error; err != nil {
		return nil, err
	}

	result := make([]*model.QueueTicket, len(tickets))
	for i := range tickets {
		result[i] = &tickets[i]
	}
	return result, nil
}

func (f *QueueTicketFacade) Count(ctx context.Context, filter *QueueTicketFilter) (int64, error) {
	db := f.getDB().WithContext(ctx)
	query := f.applyFilter(db.Model(&model.QueueTicket{}), filter)

	var count int64
	err := query.Count(&count).Error
	return count, err
}

func (f *QueueTicketFacade) applyFilter(query *gorm.DB, filter *QueueTicketFilter) *gorm.DB {
	if filter == nil {
		return query
	}
	if filter.State != nil {
		query = query.Where("state = ?", *filter.State)
	}
	if filter.Topic != nil {
		query = query.Where("topic = ?", *filter.Topic)
	}
	if len(filter.Topics) > 0 {
		query = query.Where("topic IN ?", filter.Topics)
	}
	if filter.WorkerID != nil {
		query = query.Where("worker_id = ?", *filter.WorkerID)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}

// HandleTimeouts requeues or fails active tickets whose visibility
// window lapsed, so work lost with a dead worker is redelivered.
func (f *QueueTicketFacade) HandleTimeouts(ctx context.Context, backoffBase time.Duration) (int, error) {
	db := f.getDB().WithContext(ctx)
	now := time.Now()

	var tickets []model.QueueTicket
	err := db.Where("state = ? AND timeout_at IS NOT NULL AND timeout_at < ?", model.TicketStateActive, now).Find(&tickets).Error
	if err != nil {
		return 0, err
	}

	count := 0
	for _, ticket := range tickets {
		if ticket.Attempts < ticket.MaxAttempts {
			next := now.Add(Backoff(backoffBase, ticket.Attempts))
			err := db.Model(&model.QueueTicket{}).
				Where("id = ? AND state = ?", ticket.ID, model.TicketStateActive).
				Updates(map[string]interface{}{
					"state":           model.TicketStateCreated,
					"error_message":   "visibility timeout exceeded",
					"next_attempt_at": next,
					"timeout_at":      nil,
					"worker_id":       "",
				}).Error
			if err == nil {
				count++
			}
		} else {
			err := db.Model(&model.QueueTicket{}).
				Where("id = ? AND state = ?", ticket.ID, model.TicketStateActive).
				Updates(map[string]interface{}{
					"state":         model.TicketStateFailed,
					"error_message": "visibility timeout exceeded after max attempts",
					"completed_at":  now,
					"timeout_at":    nil,
				}).Error
			if err == nil {
				count++
			}
		}
	}

	return count, nil
}

func (f *QueueTicketFacade) ExpireStale(ctx context.Context) (int, error) {
	db := f.getDB().WithContext(ctx)
	now := time.Now()

	result := db.Model(&model.QueueTicket{}).
		Where("state IN ? AND expires_at < ?", []string{model.TicketStateCreated, model.TicketStateActive}, now).
		Updates(map[string]interface{}{
			"state":        model.TicketStateExpired,
			"completed_at": now,
			"timeout_at":   nil,
		})

	return int(result.RowsAffected), result.Error
}

func (f *QueueTicketFacade) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	db := f.getDB().WithContext(ctx)
	cutoff := time.Now().Add(-olderThan)

	result := db.Where("state IN ? AND completed_at < ?",
		[]string{model.TicketStateCompleted, model.TicketStateFailed, model.TicketStateExpired},
		cutoff).
		Delete(&model.QueueTicket{})

	return int(result.RowsAffected), result.Error
}

// Backoff returns the delay before attempt n+1: base doubled per prior
// attempt, capped at one hour.
func Backoff(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = 30 * time.Second
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= time.Hour {
			return time.Hour
		}
	}
	return delay
}
