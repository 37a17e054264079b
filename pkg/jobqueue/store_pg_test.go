package jobqueue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/synthome-dev/synthome/pkg/database"
	"github.com/synthome-dev/synthome/pkg/database/model"
)

func newTestStore(t *testing.T) (*PGStore, *database.TestHelper) {
	helper := database.NewTestHelper(t)
	facade := database.NewQueueTicketFacade().WithDB(helper.DB)
	return NewPGStoreWithFacade(facade, nil), helper
}

func TestPGStore_EnqueueAndGet(t *testing.T) {
	store, helper := newTestStore(t)
	defer helper.Cleanup()
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "generate", json.RawMessage(`{"jobRecordId":"rec-1"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ticket, err := store.GetTicket(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "generate", ticket.Topic)
	assert.Equal(t, TicketStateCreated, ticket.State)
	assert.Equal(t, 3, ticket.MaxAttempts)
	assert.JSONEq(t, `{"jobRecordId":"rec-1"}`, string(ticket.Payload))
	assert.True(t, ticket.ExpiresAt.After(time.Now().Add(23*time.Hour)))
}

func TestPGStore_Enqueue_EmptyPayload(t *testing.T) {
	store, helper := newTestStore(t)
	defer helper.Cleanup()

	_, err := store.Enqueue(context.Background(), "generate", nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestPGStore_EnqueueWithOptions_Delay(t *testing.T) {
	store, helper := newTestStore(t)
	defer helper.Cleanup()
	ctx := context.Background()

	id, err := store.EnqueueWithOptions(ctx, &EnqueueOptions{
		Topic:   "webhook-delivery",
		Payload: json.RawMessage(`{"executionId":"exec-1"}`),
		Delay:   time.Minute,
	})
	require.NoError(t, err)

	ticket, err := store.GetTicket(ctx, id)
	require.NoError(t, err)
	assert.True(t, ticket.NextAttemptAt.After(time.Now().Add(30*time.Second)),
		"delayed tickets must not be deliverable immediately")
}

func TestPGStore_GetTicket_NotFound(t *testing.T) {
	store, helper := newTestStore(t)
	defer helper.Cleanup()

	_, err := store.GetTicket(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestPGStore_CompleteAndFail(t *testing.T) {
	store, helper := newTestStore(t)
	defer helper.Cleanup()
	ctx := context.Background()

	seed := func(id string, attempts int) {
		ticket := &model.QueueTicket{
			ID:            id,
			Topic:         "generate",
			State:         model.TicketStateActive,
			Payload:       json.RawMessage(`{}`),
			Attempts:      attempts,
			MaxAttempts:   3,
			NextAttemptAt: time.Now(),
			ExpiresAt:     time.Now().Add(24 * time.Hour),
		}
		require.NoError(t, helper.DB.Create(ticket).Error)
	}

	seed("t-complete", 1)
	require.NoError(t, store.Complete(ctx, "t-complete"))
	ticket, err := store.GetTicket(ctx, "t-complete")
	require.NoError(t, err)
	assert.Equal(t, TicketStateCompleted, ticket.State)

	seed("t-retry", 1)
	redeliver, err := store.Fail(ctx, "t-retry", "handler blew up")
	require.NoError(t, err)
	assert.True(t, redeliver)

	seed("t-dead", 3)
	redeliver, err = store.Fail(ctx, "t-dead", "handler blew up")
	require.NoError(t, err)
	assert.False(t, redeliver)

	err = store.Complete(ctx, "missing")
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestPGStore_CountTickets(t *testing.T) {
	store, helper := newTestStore(t)
	defer helper.Cleanup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Enqueue(ctx, "generate", json.RawMessage(`{}`))
		require.NoError(t, err)
	}
	_, err := store.Enqueue(ctx, "merge", json.RawMessage(`{}`))
	require.NoError(t, err)

	count, err := store.CountTickets(ctx, &TicketFilter{Topic: "generate"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	state := TicketStateCreated
	count, err = store.CountTickets(ctx, &TicketFilter{State: &state})
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

// MockTicketFacade implements database.QueueTicketFacadeInterface for testing
type MockTicketFacade struct {
	createFunc         func(ctx context.Context, ticket *model.QueueTicket) error
	getFunc            func(ctx context.Context, id string) (*model.QueueTicket, error)
	claimFunc          func(ctx context.Context, topics []string, workerID string, visibility time.Duration) (*model.QueueTicket, error)
	completeFunc       func(ctx context.Context, id string) error
	failFunc           func(ctx context.Context, id string, errMsg string, backoffBase time.Duration) (bool, error)
	releaseFunc        func(ctx context.Context, id string) error
	listFunc           func(ctx context.Context, filter *database.QueueTicketFilter) ([]*model.QueueTicket, error)
	countFunc          func(ctx context.Context, filter *database.QueueTicketFilter) (int64, error)
	handleTimeoutsFunc func(ctx context.Context, backoffBase time.Duration) (int, error)
	expireStaleFunc    func(ctx context.Context) (int, error)
	cleanupFunc        func(ctx context.Context, olderThan time.Duration) (int, error)
}

func (m *MockTicketFacade) Create(ctx context.Context, ticket *model.QueueTicket) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, ticket)
	}
	return nil
}

func (m *MockTicketFacade) Get(ctx context.Context, id string) (*model.QueueTicket, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockTicketFacade) Claim(ctx context.Context, topics []string, workerID string, visibility time.Duration) (*model.QueueTicket, error) {
	if m.claimFunc != nil {
		return m.claimFunc(ctx, topics, workerID, visibility)
	}
	return nil, nil
}

func (m *MockTicketFacade) Complete(ctx context.Context, id string) error {
	if m.completeFunc != nil {
		return m.completeFunc(ctx, id)
	}
	return nil
}

func (m *MockTicketFacade) Fail(ctx context.Context, id string, errMsg string, backoffBase time.Duration) (bool, error) {
	if m.failFunc != nil {
		return m.failFunc(ctx, id, errMsg, backoffBase)
	}
	return false, nil
}

func (m *MockTicketFacade) Release(ctx context.Context, id string) error {
	if m.releaseFunc != nil {
		return m.releaseFunc(ctx, id)
	}
	return nil
}

func (m *MockTicketFacade) List(ctx context.Context, filter *database.QueueTicketFilter) ([]*model.QueueTicket, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, filter)
	}
	return nil, nil
}

func (m *MockTicketFacade) Count(ctx context.Context, filter *database.QueueTicketFilter) (int64, error) {
	if m.countFunc != nil {
		return m.countFunc(ctx, filter)
	}
	return 0, nil
}

func (m *MockTicketFacade) HandleTimeouts(ctx context.Context, backoffBase time.Duration) (int, error) {
	if m.handleTimeoutsFunc != nil {
		return m.handleTimeoutsFunc(ctx, backoffBase)
	}
	return 0, nil
}

func (m *MockTicketFacade) ExpireStale(ctx context.Context) (int, error) {
	if m.expireStaleFunc != nil {
		return m.expireStaleFunc(ctx)
	}
	return 0, nil
}

func (m *MockTicketFacade) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if m.cleanupFunc != nil {
		return m.cleanupFunc(ctx, olderThan)
	}
	return 0, nil
}

func (m *MockTicketFacade) WithDB(db *gorm.DB) database.QueueTicketFacadeInterface {
	return m
}

func TestPGStore_Claim(t *testing.T) {
	now := time.Now()
	mock := &MockTicketFacade{
		claimFunc: func(ctx context.Context, topics []string, workerID string, visibility time.Duration) (*model.QueueTicket, error) {
			assert.Equal(t, []string{"generate"}, topics)
			assert.Equal(t, "worker-1", workerID)
			assert.Equal(t, 5*time.Minute, visibility)
			timeout := now.Add(visibility)
			return &model.QueueTicket{
				ID:            "t-1",
				Topic:         "generate",
				State:         model.TicketStateActive,
				Payload:       json.RawMessage(`{"jobRecordId":"rec-1"}`),
				Attempts:      1,
				MaxAttempts:   3,
				WorkerID:      workerID,
				NextAttemptAt: now,
				TimeoutAt:     &timeout,
				ExpiresAt:     now.Add(24 * time.Hour),
			}, nil
		},
	}

	store := NewPGStoreWithFacade(mock, nil)
	ticket, err := store.Claim(context.Background(), []string{"generate"}, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, TicketStateActive, ticket.State)
	assert.Equal(t, "worker-1", ticket.WorkerID)
	require.NotNil(t, ticket.TimeoutAt)
}

func TestPGStore_Claim_Empty(t *testing.T) {
	store := NewPGStoreWithFacade(&MockTicketFacade{}, nil)

	ticket, err := store.Claim(context.Background(), []string{"generate"}, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, ticket)
}
