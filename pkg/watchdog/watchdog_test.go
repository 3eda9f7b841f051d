package watchdog_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/flowork/flowcore/pkg/models"
	"github.com/flowork/flowcore/pkg/testutil"
	"github.com/flowork/flowcore/pkg/watchdog"
	"github.com/flowork/flowcore/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ worker.Observer = (*watchdog.Watchdog)(nil)

type fakeStore struct {
	mu   sync.Mutex
	jobs []*models.Job
	err  error
}

func (f *fakeStore) RunningJobs(_ context.Context, startedBefore time.Time) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	var out []*models.Job
	for _, job := range f.jobs {
		if job.StartedAt != nil && job.StartedAt.Before(startedBefore) {
			out = append(out, job)
		}
	}

	return out, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func TestWatchdog_FlagsLocalJobOnce(t *testing.T) {
	t.Parallel()

	clk := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	publisher := &testutil.RecordingPublisher{}
	w := watchdog.New(&fakeStore{}, publisher, slog.Default(),
		watchdog.WithDeadline(time.Minute), watchdog.WithClock(clk.Now))

	job := &models.Job{ID: "job-1", ExecutionID: "exec-1", NodeID: "slow", WorkflowID: "wf", UserID: "user-1"}
	w.JobStarted(job, "worker-a")

	clk.Advance(30 * time.Second)

	overdue, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, overdue)

	clk.Advance(45 * time.Second)

	overdue, err = w.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "job-1", overdue[0].ID)

	overdue, err = w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, overdue, "a job is reported once")

	reported := publisher.Overdue()
	require.Len(t, reported, 1)
	assert.Equal(t, "exec-1", reported[0].ExecutionID)
	assert.Equal(t, "worker-a", reported[0].WorkerID)
	assert.Equal(t, "user-1", reported[0].UserID)
	assert.Equal(t, 75*time.Second, reported[0].RunningFor)

	w.JobFinished("job-1")

	overdue, err = w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, overdue)
}

func TestWatchdog_FlagsJobsOfOtherProcesses(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	startedLongAgo := now.Add(-10 * time.Minute)
	startedRecently := now.Add(-10 * time.Second)

	store := &fakeStore{jobs: []*models.Job{
		{ID: "old", ExecutionID: "exec-1", StartedAt: &startedLongAgo},
		{ID: "new", ExecutionID: "exec-1", StartedAt: &startedRecently},
	}}
	publisher := &testutil.RecordingPublisher{}
	w := watchdog.New(store, publisher, slog.Default(),
		watchdog.WithDeadline(2*time.Minute), watchdog.WithClock(func() time.Time { return now }))

	overdue, err := w.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "old", overdue[0].ID)

	reported := publisher.Overdue()
	require.Len(t, reported, 1)
	assert.Equal(t, 10*time.Minute, reported[0].RunningFor)
	assert.Equal(t, []string{"exec-1"}, publisher.Keys())
}

func TestWatchdog_StoreError(t *testing.T) {
	t.Parallel()

	w := watchdog.New(&fakeStore{err: errors.New("database is locked")}, nil, slog.Default())

	_, err := w.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestWatchdog_Start(t *testing.T) {
	t.Parallel()

	started := time.Now().UTC().Add(-time.Hour)
	store := &fakeStore{jobs: []*models.Job{{ID: "stuck", ExecutionID: "exec-1", StartedAt: &started}}}
	publisher := &testutil.RecordingPublisher{}

	w := watchdog.New(store, publisher, slog.Default(), watchdog.WithSchedule("@every 1s"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))

	assert.Eventually(t, func() bool {
		return len(publisher.Overdue()) == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatchdog_InvalidSchedule(t *testing.T) {
	t.Parallel()

	w := watchdog.New(&fakeStore{}, nil, slog.Default(), watchdog.WithSchedule("every now and then"))

	require.Error(t, w.Start(context.Background()))
}

func TestDeadlineFromEnv(t *testing.T) {
	t.Setenv(watchdog.DeadlineEnv, "")
	assert.Equal(t, watchdog.DefaultDeadline, watchdog.DeadlineFromEnv())

	t.Setenv(watchdog.DeadlineEnv, "45")
	assert.Equal(t, 45*time.Second, watchdog.DeadlineFromEnv())
	assert.Equal(t, 45*time.Second, watchdog.New(&fakeStore{}, nil, slog.Default()).Deadline())

	t.Setenv(watchdog.DeadlineEnv, "soon")
	assert.Equal(t, watchdog.DefaultDeadline, watchdog.DeadlineFromEnv())
}

func TestDeadlineFromSeconds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 90*time.Second, watchdog.DeadlineFromSeconds(90))
	assert.Equal(t, watchdog.DefaultDeadline, watchdog.DeadlineFromSeconds(0))
	assert.Equal(t, watchdog.DefaultDeadline, watchdog.DeadlineFromSeconds(-3))
}
