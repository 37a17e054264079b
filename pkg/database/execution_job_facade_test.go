package database

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthome-dev/synthome/pkg/database/model"
)

func seedJob(t *testing.T, helper *TestHelper, id, executionID, jobID, status string) *model.ExecutionJob {
	t.Helper()
	job := &model.ExecutionJob{
		ID:          id,
		ExecutionID: executionID,
		JobID:       jobID,
		Operation:   "generate",
		Params:      json.RawMessage(`{}`),
		Status:      status,
	}
	require.NoError(t, helper.DB.Create(job).Error)
	return job
}

func TestExecutionJobFacade_GetByJobID(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewExecutionJobFacade().WithDB(helper.DB)
	ctx := helper.CreateTestContext()

	seedJob(t, helper, "rec-001", "exec-001", "intro", model.JobStatusPending)

	result, err := facade.GetByJobID(ctx, "exec-001", "intro")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "rec-001", result.ID)

	result, err = facade.GetByJobID(ctx, "exec-001", "no-such-job")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestExecutionJobFacade_EmitTicket(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewExecutionJobFacade().WithDB(helper.DB)
	ctx := helper.CreateTestContext()

	seedJob(t, helper, "rec-010", "exec-010", "clip", model.JobStatusPending)

	ticket := &model.QueueTicket{
		ID:            "ticket-010",
		Topic:         "generate",
		Payload:       json.RawMessage(`{"jobRecordId":"rec-010"}`),
		MaxAttempts:   3,
		NextAttemptAt: time.Now(),
		ExpiresAt:     time.Now().Add(24 * time.Hour),
	}

	emitted, err := facade.EmitTicket(ctx, "rec-010", ticket)
	require.NoError(t, err)
	assert.True(t, emitted)

	job, err := facade.Get(ctx, "rec-010")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, job.Status)
	assert.Equal(t, "ticket-010", job.QueueTicketID)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.StartedAt)
	assert.Equal(t, int64(1), helper.Count(model.TableNameQueueTicket))

	// A second emit for the same job must not enqueue again.
	dup := &model.QueueTicket{
		ID:            "ticket-010-dup",
		Topic:         "generate",
		Payload:       json.RawMessage(`{"jobRecordId":"rec-010"}`),
		MaxAttempts:   3,
		NextAttemptAt: time.Now(),
		ExpiresAt:     time.Now().Add(24 * time.Hour),
	}
	emitted, err = facade.EmitTicket(ctx, "rec-010", dup)
	require.NoError(t, err)
	assert.False(t, emitted)
	assert.Equal(t, int64(1), helper.Count(model.TableNameQueueTicket))
}

func TestExecutionJobFacade_Complete(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewExecutionJobFacade().WithDB(helper.DB)
	ctx := helper.CreateTestContext()

	seedJob(t, helper, "rec-020", "exec-020", "clip", model.JobStatusProcessing)

	completed, err := facade.Complete(ctx, "rec-020", json.RawMessage(`{"url":"s3://out.mp4","status":"completed"}`))
	require.NoError(t, err)
	assert.True(t, completed)

	job, err := facade.Get(ctx, "rec-020")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)

	// Completion is idempotent, later calls see zero matching rows.
	completed, err = facade.Complete(ctx, "rec-020", json.RawMessage(`{"url":"s3://other.mp4"}`))
	require.NoError(t, err)
	assert.False(t, completed)
}

func TestExecutionJobFacade_Complete_NotProcessing(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewExecutionJobFacade().WithDB(helper.DB)
	ctx := helper.CreateTestContext()

	seedJob(t, helper, "rec-021", "exec-021", "clip", model.JobStatusPending)

	completed, err := facade.Complete(ctx, "rec-021", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, completed)
}

func TestExecutionJobFacade_Fail(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewExecutionJobFacade().WithDB(helper.DB)
	ctx := helper.CreateTestContext()

	// Cascade failures hit jobs that never left pending.
	seedJob(t, helper, "rec-030", "exec-030", "stitch", model.JobStatusPending)

	failed, err := facade.Fail(ctx, "rec-030", model.DependencyFailedError)
	require.NoError(t, err)
	assert.True(t, failed)

	job, err := facade.Get(ctx, "rec-030")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, model.DependencyFailedError, job.Error)
	assert.True(t, job.IsDependencyFailure())

	failed, err = facade.Fail(ctx, "rec-030", "other error")
	require.NoError(t, err)
	assert.False(t, failed, "terminal jobs must not be re-failed")
}

func TestExecutionJobFacade_MarkWaiting(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewExecutionJobFacade().WithDB(helper.DB)
	ctx := helper.CreateTestContext()

	seedJob(t, helper, "rec-040", "exec-040", "clip", model.JobStatusProcessing)

	nextPoll := time.Now().Add(5 * time.Second)
	err := facade.MarkWaiting(ctx, "rec-040", model.WaitingStrategyPolling, "prov-abc", "acme/video-1", &nextPoll)
	require.NoError(t, err)

	job, err := facade.Get(ctx, "rec-040")
	require.NoError(t, err)
	assert.Equal(t, model.WaitingStrategyPolling, job.WaitingStrategy)
	assert.Equal(t, "prov-abc", job.ProviderJobID)
	assert.Equal(t, "acme/video-1", job.ModelID)
	require.NotNil(t, job.NextPollAt)

	seedJob(t, helper, "rec-041", "exec-040", "done", model.JobStatusCompleted)
	err = facade.MarkWaiting(ctx, "rec-041", model.WaitingStrategyWebhook, "prov-def", "acme/video-1", nil)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestExecutionJobFacade_ListPollable(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewExecutionJobFacade().WithDB(helper.DB)
	ctx := helper.CreateTestContext()

	now := time.Now()
	due := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	seedPollable := func(id string, nextPollAt *time.Time, strategy string) {
		job := &model.ExecutionJob{
			ID:              id,
			ExecutionID:     "exec-050",
			JobID:           id,
			Operation:       "generate",
			Params:          json.RawMessage(`{}`),
			Status:          model.JobStatusProcessing,
			WaitingStrategy: strategy,
			NextPollAt:      nextPollAt,
		}
		require.NoError(t, helper.DB.Create(job).Error)
	}

	seedPollable("poll-due", &due, model.WaitingStrategyPolling)
	seedPollable("poll-future", &future, model.WaitingStrategyPolling)
	seedPollable("poll-webhook", &due, model.WaitingStrategyWebhook)

	jobs, err := facade.ListPollable(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "poll-due", jobs[0].ID)
}

func TestExecutionJobFacade_ListStranded(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewExecutionJobFacade().WithDB(helper.DB)
	ctx := helper.CreateTestContext()

	seedTicket := func(id, state string) {
		require.NoError(t, helper.DB.Create(&model.QueueTicket{
			ID:            id,
			Topic:         "generate",
			State:         state,
			Payload:       json.RawMessage(`{}`),
			MaxAttempts:   3,
			NextAttemptAt: time.Now(),
			ExpiresAt:     time.Now().Add(24 * time.Hour),
		}).Error)
	}
	link := func(jobRecordID, ticketID string) {
		require.NoError(t, helper.DB.Model(&model.ExecutionJob{}).
			Where("id = ?", jobRecordID).
			Update("queue_ticket_id", ticketID).Error)
	}

	// Processing jobs on a failed and on an expired ticket are stranded
	seedJob(t, helper, "rec-301", "exec-300", "a", model.JobStatusProcessing)
	seedTicket("t-failed", model.TicketStateFailed)
	link("rec-301", "t-failed")

	seedJob(t, helper, "rec-302", "exec-300", "b", model.JobStatusProcessing)
	seedTicket("t-expired", model.TicketStateExpired)
	link("rec-302", "t-expired")

	// In-flight job on an active ticket
	seedJob(t, helper, "rec-303", "exec-300", "c", model.JobStatusProcessing)
	seedTicket("t-active", model.TicketStateActive)
	link("rec-303", "t-active")

	// Parked job; its ticket completed when the provider job started
	seedJob(t, helper, "rec-304", "exec-300", "d", model.JobStatusProcessing)
	seedTicket("t-done", model.TicketStateCompleted)
	link("rec-304", "t-done")

	// Already failed job, nothing left to repair
	seedJob(t, helper, "rec-305", "exec-300", "e", model.JobStatusFailed)
	seedTicket("t-failed-2", model.TicketStateFailed)
	link("rec-305", "t-failed-2")

	stranded, err := facade.ListStranded(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stranded, 2)
	assert.ElementsMatch(t, []string{"rec-301", "rec-302"}, []string{stranded[0].ID, stranded[1].ID})

	limited, err := facade.ListStranded(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestExecutionJobFacade_MarkActionLogged(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewExecutionJobFacade().WithDB(helper.DB)
	ctx := helper.CreateTestContext()

	seedJob(t, helper, "rec-060", "exec-060", "clip", model.JobStatusProcessing)

	logged, err := facade.MarkActionLogged(ctx, "rec-060")
	require.NoError(t, err)
	assert.True(t, logged)

	logged, err = facade.MarkActionLogged(ctx, "rec-060")
	require.NoError(t, err)
	assert.False(t, logged, "usage must be recorded exactly once")
}

func TestExecutionJobFacade_MarkWebhookDelivered(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewExecutionJobFacade().WithDB(helper.DB)
	ctx := helper.CreateTestContext()

	seedJob(t, helper, "rec-070", "exec-070", "clip", model.JobStatusCompleted)

	delivered, err := facade.MarkWebhookDelivered(ctx, "rec-070")
	require.NoError(t, err)
	assert.True(t, delivered)

	delivered, err = facade.MarkWebhookDelivered(ctx, "rec-070")
	require.NoError(t, err)
	assert.False(t, delivered)
}

func TestCanTransitionJob(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"pending to processing", model.JobStatusPending, model.JobStatusProcessing, true},
		{"pending to failed", model.JobStatusPending, model.JobStatusFailed, true},
		{"pending to completed", model.JobStatusPending, model.JobStatusCompleted, false},
		{"processing to completed", model.JobStatusProcessing, model.JobStatusCompleted, true},
		{"processing to failed", model.JobStatusProcessing, model.JobStatusFailed, true},
		{"completed is terminal", model.JobStatusCompleted, model.JobStatusFailed, false},
		{"failed is terminal", model.JobStatusFailed, model.JobStatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, model.CanTransitionJob(tt.from, tt.to))
		})
	}
}
