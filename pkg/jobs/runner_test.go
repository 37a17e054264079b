package jobs

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthome-dev/synthome/pkg/database"
	"github.com/synthome-dev/synthome/pkg/jobqueue"
	"github.com/synthome-dev/synthome/pkg/plan"
)

type countingJob struct {
	name     string
	schedule string
	runs     atomic.Int64
	err      error
}

func (j *countingJob) Name() string     { return j.name }
func (j *countingJob) Schedule() string { return j.schedule }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestStart_RunsJobsOnSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := &countingJob{name: "tick", schedule: "@every 100ms"}
	c, err := Start(ctx, job)
	require.NoError(t, err)
	defer c.Stop()

	require.Eventually(t, func() bool {
		return job.runs.Load() >= 2
	}, 3*time.Second, 20*time.Millisecond)
}

func TestStart_InvalidSchedule(t *testing.T) {
	_, err := Start(context.Background(), &countingJob{name: "bad", schedule: "not a schedule"})
	require.Error(t, err)
}

func TestStart_JobErrorDoesNotStopOthers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failing := &countingJob{name: "failing", schedule: "@every 100ms", err: context.DeadlineExceeded}
	healthy := &countingJob{name: "healthy", schedule: "@every 100ms"}
	c, err := Start(ctx, failing, healthy)
	require.NoError(t, err)
	defer c.Stop()

	require.Eventually(t, func() bool {
		return failing.runs.Load() >= 2 && healthy.runs.Load() >= 2
	}, 3*time.Second, 20*time.Millisecond)
}

func newQueue(t *testing.T) (*database.TestHelper, *jobqueue.PGStore) {
	helper := database.NewTestHelper(t)
	t.Cleanup(helper.Cleanup)
	queue := jobqueue.NewPGStoreWithFacade(database.NewQueueTicketFacade().WithDB(helper.DB), nil)
	return helper, queue
}

func TestTimeoutSweepJob(t *testing.T) {
	_, queue := newQueue(t)
	ctx := context.Background()

	// A freshly claimed ticket is inside its visibility window and must
	// survive the sweep.
	_, err := queue.Enqueue(ctx, plan.OperationGenerate, json.RawMessage(`{}`))
	require.NoError(t, err)
	ticket, err := queue.Claim(ctx, jobqueue.OperationTopics(), "w-test")
	require.NoError(t, err)
	require.NotNil(t, ticket)

	job := &TimeoutSweepJob{Queue: queue}
	assert.Equal(t, "queue-timeout-sweep", job.Name())
	require.NoError(t, job.Run(ctx))

	after, err := queue.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.TicketStateActive, after.State)
}

func TestCleanupJob(t *testing.T) {
	_, queue := newQueue(t)
	ctx := context.Background()

	id, err := queue.Enqueue(ctx, plan.OperationGenerate, json.RawMessage(`{}`))
	require.NoError(t, err)
	ticket, err := queue.Claim(ctx, jobqueue.OperationTopics(), "w-test")
	require.NoError(t, err)
	require.NotNil(t, ticket)
	require.NoError(t, queue.Complete(ctx, id))

	// Retention zero means every terminal ticket is past retention.
	job := &CleanupJob{Queue: queue, Retention: 0}
	require.NoError(t, job.Run(ctx))

	_, err = queue.GetTicket(ctx, id)
	assert.ErrorIs(t, err, jobqueue.ErrTicketNotFound)
}
