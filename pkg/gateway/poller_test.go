package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthome-dev/synthome/pkg/database/model"
	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/media"
	"github.com/synthome-dev/synthome/pkg/provider"
)

func newPollerEnv(t *testing.T, prov provider.Provider) (*gatewayEnv, *Poller) {
	env := newGatewayEnv(t, testModel())
	env.registry.Register(prov)
	return env, NewPoller(env.gw, env.registry)
}

func TestPoller_CompletesFinishedJob(t *testing.T) {
	var seenRef *provider.JobRef
	env, poller := newPollerEnv(t, &provider.FuncProvider{
		ProviderName: "testprov",
		StatusFunc: func(_ context.Context, ref *provider.JobRef) (*provider.JobStatus, error) {
			seenRef = ref
			return &provider.JobStatus{Status: provider.StatusCompleted}, nil
		},
		RawFunc: func(_ context.Context, ref *provider.JobRef) (json.RawMessage, error) {
			return json.RawMessage(`{"output":"https://cdn.example.com/v1.mp4"}`), nil
		},
		ParseFunc: func(m *provider.Model, raw json.RawMessage) ([]media.MediaOutput, error) {
			return []media.MediaOutput{{Type: media.TypeVideo, URL: "https://cdn.example.com/v1.mp4"}}, nil
		},
	})

	execID, row := env.parkJob(t, model.WaitingStrategyPolling, "test/fast-video", nil, nil)

	settled, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	require.NotNil(t, seenRef)
	assert.Equal(t, "prov-1", seenRef.ProviderJobID)
	assert.Equal(t, "test/fast-video", seenRef.ModelID)

	after := env.job(t, row.ID)
	assert.Equal(t, model.JobStatusCompleted, after.Status)
	assert.Equal(t, model.ExecutionStatusCompleted, env.execution(t, execID).Status)

	// Nothing left to poll.
	settled, err = poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, settled)
}

func TestPoller_FailsDeadJob(t *testing.T) {
	env, poller := newPollerEnv(t, &provider.FuncProvider{
		ProviderName: "testprov",
		StatusFunc: func(_ context.Context, ref *provider.JobRef) (*provider.JobStatus, error) {
			return &provider.JobStatus{Status: provider.StatusFailed, Error: "NSFW content detected"}, nil
		},
	})

	execID, row := env.parkJob(t, model.WaitingStrategyPolling, "test/fast-video", nil, nil)

	settled, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	after := env.job(t, row.ID)
	assert.Equal(t, model.JobStatusFailed, after.Status)
	assert.Equal(t, "NSFW content detected", after.Error)
	assert.Equal(t, model.ExecutionStatusFailed, env.execution(t, execID).Status)
}

func TestPoller_ReschedulesRunningJob(t *testing.T) {
	env, poller := newPollerEnv(t, &provider.FuncProvider{ProviderName: "testprov"})
	poller.WithInterval(30 * time.Second)

	_, row := env.parkJob(t, model.WaitingStrategyPolling, "test/fast-video", nil, nil)

	settled, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, settled)

	after := env.job(t, row.ID)
	assert.Equal(t, model.JobStatusProcessing, after.Status)
	require.NotNil(t, after.NextPollAt)
	assert.True(t, after.NextPollAt.After(time.Now().Add(20*time.Second)),
		"next poll should be pushed out by the configured interval")
}

func TestPoller_ProviderErrorReschedules(t *testing.T) {
	env, poller := newPollerEnv(t, &provider.FuncProvider{
		ProviderName: "testprov",
		StatusFunc: func(_ context.Context, ref *provider.JobRef) (*provider.JobStatus, error) {
			return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessage("status endpoint is down")
		},
	})

	_, row := env.parkJob(t, model.WaitingStrategyPolling, "test/fast-video", nil, nil)

	// A flaky provider must not settle the job or abort the pass.
	settled, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, settled)

	after := env.job(t, row.ID)
	assert.Equal(t, model.JobStatusProcessing, after.Status)
	require.NotNil(t, after.NextPollAt)
	assert.True(t, after.NextPollAt.After(time.Now()))
}

func TestPoller_UnknownModelFailsJob(t *testing.T) {
	env, poller := newPollerEnv(t, &provider.FuncProvider{ProviderName: "testprov"})

	_, row := env.parkJob(t, model.WaitingStrategyPolling, "acme/retired-model", nil, nil)

	settled, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	after := env.job(t, row.ID)
	assert.Equal(t, model.JobStatusFailed, after.Status)
	assert.Contains(t, after.Error, "acme/retired-model")
}

func TestPoller_UsesExecutionAPIKey(t *testing.T) {
	var seenKey string
	env, poller := newPollerEnv(t, &provider.FuncProvider{
		ProviderName: "testprov",
		StatusFunc: func(_ context.Context, ref *provider.JobRef) (*provider.JobStatus, error) {
			seenKey = ref.APIKey
			return &provider.JobStatus{Status: provider.StatusProcessing}, nil
		},
	})
	env.registry.SetCredentials("testprov", "deployment-key", "")

	env.parkJob(t, model.WaitingStrategyPolling, "test/fast-video", nil, nil)

	_, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "deployment-key", seenKey)
}

func TestPoller_BatchLimit(t *testing.T) {
	env, poller := newPollerEnv(t, &provider.FuncProvider{
		ProviderName: "testprov",
		StatusFunc: func(_ context.Context, ref *provider.JobRef) (*provider.JobStatus, error) {
			return &provider.JobStatus{Status: provider.StatusCompleted}, nil
		},
		ParseFunc: func(m *provider.Model, raw json.RawMessage) ([]media.MediaOutput, error) {
			return []media.MediaOutput{{Type: media.TypeVideo, URL: "https://cdn.example.com/v.mp4"}}, nil
		},
	})
	poller.WithBatch(1)

	env.parkJob(t, model.WaitingStrategyPolling, "test/fast-video", nil, nil)
	env.parkJob(t, model.WaitingStrategyPolling, "test/fast-video", nil, nil)

	settled, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	settled, err = poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
}
