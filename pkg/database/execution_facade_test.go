package database

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthome-dev/synthome/pkg/database/model"
)

func TestExecutionFacade_CreateAndGet(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewExecutionFacade().WithDB(helper.DB)
	ctx := helper.CreateTestContext()

	execution := &model.Execution{
		ID:     "exec-001",
		Status: model.ExecutionStatusPending,
		Plan:   json.RawMessage(`{"jobs":[]}`),
	}

	err := facade.Create(ctx, execution)
	require.NoError(t, err)

	result, err := facade.Get(ctx, "exec-001")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, execution.ID, result.ID)
	assert.Equal(t, model.ExecutionStatusPending, result.Status)
	assert.JSONEq(t, `{"jobs":[]}`, string(result.Plan))
}

func TestExecutionFacade_Get_NotFound(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewExecutionFacade().WithDB(helper.DB)
	ctx := helper.CreateTestContext()

	result, err := facade.Get(ctx, "no-such-execution")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestExecutionFacade_CreateWithJobs(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewExecutionFacade().WithDB(helper.DB)
	ctx := helper.CreateTestContext()

	execution := &model.Execution{
		ID:     "exec-002",
		Status: model.ExecutionStatusPending,
		Plan:   json.RawMessage(`{"jobs":[{"id":"a"},{"id":"b"}]}`),
	}
	jobs := []*model.ExecutionJob{
		{
			ID:          "rec-a",
			ExecutionID: "exec-002",
			JobID:       "a",
			Operation:   "generate",
			Params:      json.RawMessage(`{}`),
			Status:      model.JobStatusPending,
		},
		{
			ID:           "rec-b",
			ExecutionID:  "exec-002",
			JobID:        "b",
			Operation:    "merge",
			Params:       json.RawMessage(`{}`),
			Dependencies: model.StringList{"a"},
			Status:       model.JobStatusPending,
		},
	}

	err := facade.CreateWithJobs(ctx, execution, jobs)
	require.NoError(t, err)

	assert.Equal(t, int64(1), helper.Count(model.TableNameExecution))
	assert.Equal(t, int64(2), helper.Count(model.TableNameExecutionJob))
}

func TestExecutionFacade_MarkProcessing(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewExecutionFacade().WithDB(helper.DB)
	ctx := helper.CreateTestContext()

	execution := &model.Execution{
		ID:     "exec-003",
		Status: model.ExecutionStatusPending,
		Plan:   json.RawMessage(`{}`),
	}
	require.NoError(t, facade.Create(ctx, execution))

	err := facade.MarkProcessing(ctx, "exec-003")
	require.NoError(t, err)

	result, err := facade.Get(ctx, "exec-003")
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusProcessing, result.Status)
}

func TestExecutionFacade_MarkTerminal(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewExecutionFacade().WithDB(helper.DB)
	ctx := helper.CreateTestContext()

	execution := &model.Execution{
		ID:     "exec-004",
		Status: model.ExecutionStatusProcessing,
		Plan:   json.RawMessage(`{}`),
	}
	require.NoError(t, facade.Create(ctx, execution))

	updated, err := facade.MarkTerminal(ctx, "exec-004", model.ExecutionStatusCompleted,
		json.RawMessage(`{"url":"https://cdn.example.com/out.mp4","status":"completed"}`), "")
	require.NoError(t, err)
	assert.True(t, updated)

	result, err := facade.Get(ctx, "exec-004")
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, result.Status)
	require.NotNil(t, result.CompletedAt)
	assert.JSONEq(t, `{"url":"https://cdn.example.com/out.mp4","status":"completed"}`, string(result.Result))

	// Terminal states are frozen, a second write is a no-op.
	updated, err = facade.MarkTerminal(ctx, "exec-004", model.ExecutionStatusFailed, nil, "boom")
	require.NoError(t, err)
	assert.False(t, updated)

	result, err = facade.Get(ctx, "exec-004")
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, result.Status)
	assert.Empty(t, result.Error)
}

func TestExecutionFacade_MarkWebhookDelivered(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewExecutionFacade().WithDB(helper.DB)
	ctx := helper.CreateTestContext()

	execution := &model.Execution{
		ID:     "exec-005",
		Status: model.ExecutionStatusCompleted,
		Plan:   json.RawMessage(`{}`),
	}
	require.NoError(t, facade.Create(ctx, execution))

	delivered, err := facade.MarkWebhookDelivered(ctx, "exec-005")
	require.NoError(t, err)
	assert.True(t, delivered)

	delivered, err = facade.MarkWebhookDelivered(ctx, "exec-005")
	require.NoError(t, err)
	assert.False(t, delivered, "second delivery mark should be a no-op")
}

func TestExecutionFacade_ListNonTerminal(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewExecutionFacade().WithDB(helper.DB)
	ctx := helper.CreateTestContext()

	statuses := map[string]string{
		"exec-p1": model.ExecutionStatusPending,
		"exec-p2": model.ExecutionStatusProcessing,
		"exec-c1": model.ExecutionStatusCompleted,
		"exec-f1": model.ExecutionStatusFailed,
	}
	for id, status := range statuses {
		require.NoError(t, facade.Create(ctx, &model.Execution{
			ID:     id,
			Status: status,
			Plan:   json.RawMessage(`{}`),
		}))
	}

	results, err := facade.ListNonTerminal(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, e := range results {
		assert.False(t, e.IsTerminal())
	}
}
