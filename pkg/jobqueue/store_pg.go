package jobqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/synthome-dev/synthome/pkg/database"
	"github.com/synthome-dev/synthome/pkg/database/model"
)

// PGStore implements Queue using the database facade
type PGStore struct {
	facade database.QueueTicketFacadeInterface
	config *QueueConfig
}

// NewPGStore creates a new PostgreSQL-backed queue
func NewPGStore(config *QueueConfig) *PGStore {
	if config == nil {
		config = DefaultQueueConfig()
	}
	return &PGStore{
		facade: database.NewQueueTicketFacade(),
		config: config,
	}
}

// NewPGStoreWithFacade creates a new PostgreSQL-backed queue with a custom facade
func NewPGStoreWithFacade(facade database.QueueTicketFacadeInterface, config *QueueConfig) *PGStore {
	if config == nil {
		config = DefaultQueueConfig()
	}
	return &PGStore{
		facade: facade,
		config: config,
	}
}

// Enqueue adds a new ticket to a topic with default options
func (s *PGStore) Enqueue(ctx context.Context, topic string, payload json.RawMessage) (string, error) {
	return s.EnqueueWithOptions(ctx, &EnqueueOptions{
		Topic:       topic,
		Payload:     payload,
		MaxAttempts: s.config.DefaultMaxAttempts,
		ExpireAfter: s.config.ExpireAfter,
	})
}

// EnqueueWithOptions adds a new ticket with options
func (s *PGStore) EnqueueWithOptions(ctx context.Context, opts *EnqueueOptions) (string, error) {
	if len(opts.Payload) == 0 {
		return "", ErrEmptyPayload
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.config.DefaultMaxAttempts
	}
	expireAfter := opts.ExpireAfter
	if expireAfter == 0 {
		expireAfter = s.config.ExpireAfter
	}

	ticketID := uuid.New().String()
	now := time.Now()

	ticket := &model.QueueTicket{
		ID:            ticketID,
		Topic:         opts.Topic,
		State:         model.TicketStateCreated,
		Payload:       opts.Payload,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: now.Add(opts.Delay),
		ExpiresAt:     now.Add(expireAfter),
		CreatedAt:     now,
	}

	if err := s.facade.Create(ctx, ticket); err != nil {
		return "", err
	}
	return ticketID, nil
}

// BuildTicket constructs the model row for a ticket without persisting
// it, for callers that enqueue inside their own transaction.
func (s *PGStore) BuildTicket(topic string, payload json.RawMessage) *model.QueueTicket {
	now := time.Now()
	return &model.QueueTicket{
		ID:            uuid.New().String(),
		Topic:         topic,
		State:         model.TicketStateCreated,
		Payload:       payload,
		MaxAttempts:   s.config.DefaultMaxAttempts,
		NextAttemptAt: now,
		ExpiresAt:     now.Add(s.config.ExpireAfter),
		CreatedAt:     now,
	}
}

// GetTicket retrieves a ticket by ID
func (s *PGStore) GetTicket(ctx context.Context, ticketID string) (*Ticket, error) {
	dbTicket, err := s.facade.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if dbTicket == nil {
		return nil, ErrTicketNotFound
	}
	return fromDBModel(dbTicket), nil
}

// Claim pulls one deliverable ticket from the given topics
func (s *PGStore) Claim(ctx context.Context, topics []string, workerID string) (*Ticket, error) {
	dbTicket, err := s.facade.Claim(ctx, topics, workerID, s.config.VisibilityTimeout)
	if err != nil {
		return nil, err
	}
	if dbTicket == nil {
		return nil, nil // No deliverable tickets
	}
	return fromDBModel(dbTicket), nil
}

// Complete acknowledges a claimed ticket
func (s *PGStore) Complete(ctx context.Context, ticketID string) error {
	err := s.facade.Complete(ctx, ticketID)
	if err == database.ErrTicketNotFound {
		return ErrTicketNotFound
	}
	return err
}

// Fail records a handler failure
func (s *PGStore) Fail(ctx context.Context, ticketID string, errMsg string) (bool, error) {
	redeliver, err := s.facade.Fail(ctx, ticketID, errMsg, s.config.RetryBackoffBase)
	if err == database.ErrTicketNotFound {
		return false, ErrTicketNotFound
	}
	return redeliver, err
}

// Release returns a claimed ticket without consuming an attempt
func (s *PGStore) Release(ctx context.Context, ticketID string) error {
	err := s.facade.Release(ctx, ticketID)
	if err == database.ErrTicketNotFound {
		return ErrTicketNotFound
	}
	return err
}

// ListTickets lists tickets with optional filters
func (s *PGStore) ListTickets(ctx context.Context, filter *TicketFilter) ([]*Ticket, error) {
	dbTickets, err := s.facade.List(ctx, toDBFilter(filter))
	if err != nil {
		return nil, err
	}

	result := make([]*Ticket, len(dbTickets))
	for i, dbTicket := range dbTickets {
		result[i] = fromDBModel(dbTicket)
	}
	return result, nil
}

// CountTickets counts tickets matching filter
func (s *PGStore) CountTickets(ctx context.Context, filter *TicketFilter) (int64, error) {
	return s.facade.Count(ctx, toDBFilter(filter))
}

// HandleTimeouts requeues active tickets whose visibility window lapsed
func (s *PGStore) HandleTimeouts(ctx context.Context) (int, error) {
	return s.facade.HandleTimeouts(ctx, s.config.RetryBackoffBase)
}

// ExpireStale archives tickets past their expiry bound
func (s *PGStore) ExpireStale(ctx context.Context) (int, error) {
	return s.facade.ExpireStale(ctx)
}

// Cleanup removes old terminal tickets
func (s *PGStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.facade.Cleanup(ctx, olderThan)
}

// fromDBModel converts a database row to a Ticket
func fromDBModel(dbTicket *model.QueueTicket) *Ticket {
	return &Ticket{
		ID:            dbTicket.ID,
		Topic:         dbTicket.Topic,
		State:         TicketState(dbTicket.State),
		Payload:       dbTicket.Payload,
		Attempts:      dbTicket.Attempts,
		MaxAttempts:   dbTicket.MaxAttempts,
		WorkerID:      dbTicket.WorkerID,
		ErrorMessage:  dbTicket.ErrorMessage,
		NextAttemptAt: dbTicket.NextAttemptAt,
		TimeoutAt:     dbTicket.TimeoutAt,
		ExpiresAt:     dbTicket.ExpiresAt,
		CreatedAt:     dbTicket.CreatedAt,
		StartedAt:     dbTicket.StartedAt,
		CompletedAt:   dbTicket.CompletedAt,
	}
}

// toDBFilter converts a TicketFilter to the database filter
func toDBFilter(filter *TicketFilter) *database.QueueTicketFilter {
	if filter == nil {
		return nil
	}

	dbFilter := &database.QueueTicketFilter{
		Topics:        filter.Topics,
		Limit:         filter.Limit,
		Offset:        filter.Offset,
		CreatedAfter:  filter.CreatedAfter,
		CreatedBefore: filter.CreatedBefore,
	}

	if filter.State != nil {
		stateStr := string(*filter.State)
		dbFilter.State = &stateStr
	}
	if filter.Topic != "" {
		dbFilter.Topic = &filter.Topic
	}
	if filter.WorkerID != "" {
		dbFilter.WorkerID = &filter.WorkerID
	}
	return dbFilter
}
