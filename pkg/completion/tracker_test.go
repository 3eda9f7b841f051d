package completion_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/flowork/flowcore/pkg/completion"
	"github.com/flowork/flowcore/pkg/events"
	"github.com/flowork/flowcore/pkg/models"
	"github.com/flowork/flowcore/pkg/persistence"
	"github.com/flowork/flowcore/pkg/protocol"
	"github.com/flowork/flowcore/pkg/registry"
	"github.com/flowork/flowcore/pkg/report"
	"github.com/flowork/flowcore/pkg/router"
	"github.com/flowork/flowcore/pkg/testutil"
	"github.com/flowork/flowcore/pkg/wake"
	"github.com/flowork/flowcore/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingFactory struct{}

func (failingFactory) Create(context.Context, map[string]any) (protocol.NodeBody, error) {
	return protocol.NodeBodyFunc(func(context.Context, protocol.Request) (protocol.Result, error) {
		return nil, errors.New("upstream unavailable")
	}), nil
}

func (failingFactory) ID() string             { return "boom" }
func (failingFactory) Name() string           { return "Boom" }
func (failingFactory) Description() string    { return "" }
func (failingFactory) Schema() map[string]any { return nil }

type harness struct {
	store     persistence.Store
	signal    *wake.Local
	publisher *testutil.RecordingPublisher
	worker    *worker.Worker
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := testutil.NewSQLiteStore(t)

	reg := registry.NewRegistry(slog.Default())
	reg.RegisterDefaultNodes()
	reg.RegisterNode(failingFactory{})

	h := &harness{
		store:     store,
		signal:    wake.NewLocal(),
		publisher: &testutil.RecordingPublisher{},
	}

	h.worker = worker.NewWorker("worker-test", store, reg, router.NewRouter(store, slog.Default()),
		h.signal, h.publisher, slog.Default())

	return h
}

func (h *harness) tracker(opts ...completion.Option) *completion.Tracker {
	return completion.NewTracker(h.store, report.NewDefaultGenerator(h.store, slog.Default()),
		h.signal, h.publisher, slog.Default(), opts...)
}

func (h *harness) submit(t *testing.T, loop *models.LoopConfig, nodes ...*models.Node) *models.Execution {
	t.Helper()

	edges := make([]*models.Edge, 0, len(nodes))
	for i := 1; i < len(nodes); i++ {
		edges = append(edges, testutil.Connect(nodes[i-1].ID, nodes[i].ID, ""))
	}

	submission := testutil.NewSubmission("wf-loop", nodes, edges)
	submission.Execution.LoopConfig = loop

	_, err := h.store.Submit(context.Background(), submission)
	require.NoError(t, err)

	return submission.Execution
}

// drainIteration runs every claimable job, checking completion after each one.
func (h *harness) drainIteration(t *testing.T, tracker *completion.Tracker, executionID string) completion.Result {
	t.Helper()

	for {
		processed, err := h.worker.RunOnce(context.Background())
		require.NoError(t, err)

		result, err := tracker.Check(context.Background(), executionID)
		require.NoError(t, err)

		if !processed || result != completion.ResultPending {
			return result
		}
	}
}

func (h *harness) drain(t *testing.T, tracker *completion.Tracker, executionID string) {
	t.Helper()

	for range 20 {
		if h.drainIteration(t, tracker, executionID) != completion.ResultLooped {
			return
		}
	}

	t.Fatal("execution kept looping")
}

func (h *harness) countJobs(t *testing.T, executionID, nodeID string) int {
	t.Helper()

	jobs, err := h.store.ExecutionJobs(context.Background(), executionID)
	require.NoError(t, err)

	count := 0
	for _, job := range jobs {
		if job.NodeID == nodeID {
			count++
		}
	}

	return count
}

func startNode() *models.Node {
	return testutil.CreateTestNode(testutil.WithID("trigger"), testutil.WithType(models.StartNodeType), testutil.WithConfig(nil))
}

func TestTracker_PendingWhileJobsRemain(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tracker := h.tracker()
	execution := h.submit(t, nil, startNode(), testutil.CreateTestNode(testutil.WithID("logger")))

	result, err := tracker.Check(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, completion.ResultPending, result)
	assert.Empty(t, h.publisher.Updates())
}

func TestTracker_FinalizesOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tracker := h.tracker()
	execution := h.submit(t, nil, startNode(), testutil.CreateTestNode(testutil.WithID("logger")))
	tracker.Seed(execution)

	h.drain(t, tracker, execution.ID)

	for range 3 {
		result, err := tracker.Check(context.Background(), execution.ID)
		require.NoError(t, err)
		assert.Equal(t, completion.ResultNoop, result)
	}

	stored, err := h.store.GetExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, stored.Status)
	assert.NotNil(t, stored.FinishedAt)

	updates := h.publisher.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, models.ExecutionStatusSucceeded, updates[0].Status)
	assert.Equal(t, "user-1", updates[0].UserID)
	assert.Equal(t, "wf-loop", updates[0].WorkflowID)
	assert.Equal(t, events.WorkflowExecutionUpdateEvent, updates[0].Type)

	outcome, ok := updates[0].Outcome.(report.Outcome)
	require.True(t, ok)
	assert.Equal(t, 2, outcome.Success)
	assert.Equal(t, 0, outcome.Failure)
}

func TestTracker_FailurePropagates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tracker := h.tracker()
	execution := h.submit(t, nil,
		startNode(),
		testutil.CreateTestNode(testutil.WithID("call"), testutil.WithType("boom")),
		testutil.CreateTestNode(testutil.WithID("after")),
	)

	h.drain(t, tracker, execution.ID)

	stored, err := h.store.GetExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Zero(t, h.countJobs(t, execution.ID, "after"))

	updates := h.publisher.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, models.ExecutionStatusFailed, updates[0].Status)

	analysis, ok := updates[0].Analysis.(report.Analysis)
	require.True(t, ok)
	assert.Contains(t, analysis.Risks, report.RiskFailures)
}

func TestTracker_LoopIterations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		iterations int
		seed       bool
	}{
		{name: "three iterations", iterations: 3, seed: true},
		{name: "three iterations rebuilt from store", iterations: 3},
		{name: "single iteration", iterations: 1, seed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			tracker := h.tracker()
			execution := h.submit(t, &models.LoopConfig{Enabled: true, Iterations: tt.iterations},
				startNode(), testutil.CreateTestNode(testutil.WithID("logger")))

			if tt.seed {
				tracker.Seed(execution)
			}

			h.drain(t, tracker, execution.ID)

			assert.Equal(t, tt.iterations, h.countJobs(t, execution.ID, "trigger"))
			assert.Equal(t, tt.iterations, h.countJobs(t, execution.ID, "logger"))

			stored, err := h.store.GetExecution(context.Background(), execution.ID)
			require.NoError(t, err)
			assert.Equal(t, models.ExecutionStatusSucceeded, stored.Status)
			assert.Equal(t, tt.iterations, stored.LoopIteration)

			updates := h.publisher.Updates()
			require.Len(t, updates, tt.iterations)

			for i, update := range updates[:tt.iterations-1] {
				assert.Equal(t, models.ExecutionStatusRunning, update.Status)
				assert.Equal(t, i+2, update.Iteration)
			}

			final := updates[len(updates)-1]
			assert.Equal(t, models.ExecutionStatusSucceeded, final.Status)
			assert.Equal(t, tt.iterations, final.Iteration)
		})
	}
}

func TestTracker_LoopDelay(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		delays []time.Duration
	)

	h := newHarness(t)
	tracker := h.tracker(
		completion.WithRandom(func() float64 { return 0.5 }),
		completion.WithSleep(func(_ context.Context, d time.Duration) error {
			mu.Lock()
			defer mu.Unlock()

			delays = append(delays, d)

			return nil
		}),
	)

	low, high := 4.0, 2.0
	execution := h.submit(t, &models.LoopConfig{
		Enabled:        true,
		Iterations:     3,
		DelayEnabled:   true,
		DelayType:      models.DelayTypeRandomRange,
		DelayRandomMin: &low,
		DelayRandomMax: &high,
	}, startNode())

	h.drain(t, tracker, execution.ID)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, delays)
}

func TestTracker_StaleLoopCacheAcrossProcesses(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	first := h.tracker()
	second := h.tracker()

	execution := h.submit(t, &models.LoopConfig{Enabled: true, Iterations: 3}, startNode())
	first.Seed(execution)
	second.Seed(execution)

	assert.Equal(t, completion.ResultLooped, h.drainIteration(t, second, execution.ID))
	assert.Equal(t, completion.ResultLooped, h.drainIteration(t, first, execution.ID),
		"a stale iteration is refreshed from the store")
	assert.Equal(t, completion.ResultFinalized, h.drainIteration(t, second, execution.ID))

	assert.Equal(t, 3, h.countJobs(t, execution.ID, "trigger"))

	result, err := first.Check(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, completion.ResultNoop, result)
}

func TestTracker_StoppedExecutionIsNotFinalized(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tracker := h.tracker()
	execution := h.submit(t, &models.LoopConfig{Enabled: true, Iterations: 5},
		startNode(), testutil.CreateTestNode(testutil.WithID("logger")))

	_, err := h.store.StopExecution(context.Background(), execution.ID)
	require.NoError(t, err)

	result, err := tracker.Check(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, completion.ResultNoop, result)

	assert.Equal(t, 1, h.countJobs(t, execution.ID, "trigger"))
	assert.Empty(t, h.publisher.Updates())

	stored, err := h.store.GetExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusStopped, stored.Status)
}

func TestTracker_PausedExecutionIsNotFinalized(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tracker := h.tracker()
	execution := h.submit(t, nil, startNode(), testutil.CreateTestNode(testutil.WithID("logger")))

	_, err := h.store.PauseExecution(context.Background(), execution.ID)
	require.NoError(t, err)

	result, err := tracker.Check(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, completion.ResultPending, result, "paused jobs are incomplete")
	assert.Empty(t, h.publisher.Updates())
}

func TestTracker_HandleJobCompleted(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tracker := h.tracker()
	execution := h.submit(t, nil, startNode())

	processed, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	completed := h.publisher.Completed()
	require.Len(t, completed, 1)

	require.NoError(t, tracker.HandleJobCompleted(context.Background(), &completed[0]))
	require.NoError(t, tracker.HandleJobCompleted(context.Background(), completed[0]))
	require.NoError(t, tracker.HandleJobCompleted(context.Background(), "unexpected"))
	require.NoError(t, tracker.HandleJobCompleted(context.Background(), events.JobCompleted{ExecutionID: "missing"}))

	updates := h.publisher.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, execution.ID, updates[0].ExecutionID)
}

// faultyStore fails the loop restart operations while their error is set.
type faultyStore struct {
	persistence.Store

	restartErr error
	resolveErr error
}

func (s *faultyStore) RestartIteration(ctx context.Context, executionID, startNodeID string, iteration int) (string, error) {
	if s.restartErr != nil {
		return "", s.restartErr
	}

	return s.Store.RestartIteration(ctx, executionID, startNodeID, iteration)
}

func (s *faultyStore) ResolveStartNode(ctx context.Context, workflowID string) (string, error) {
	if s.resolveErr != nil {
		return "", s.resolveErr
	}

	return s.Store.ResolveStartNode(ctx, workflowID)
}

// runAll executes every claimable job without checking completion.
func (h *harness) runAll(t *testing.T) {
	t.Helper()

	for {
		processed, err := h.worker.RunOnce(context.Background())
		require.NoError(t, err)

		if !processed {
			return
		}
	}
}

func TestTracker_LoopRestartErrorKeepsExecutionRunning(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		fault func(store *faultyStore)
		opts  []completion.Option
	}{
		{
			name:  "restart iteration storage error",
			fault: func(store *faultyStore) { store.restartErr = errors.New("disk I/O error") },
		},
		{
			name:  "start node lookup storage error",
			fault: func(store *faultyStore) { store.resolveErr = errors.New("connection reset") },
		},
		{
			name:  "delay interrupted",
			fault: func(*faultyStore) {},
			opts: []completion.Option{
				completion.WithSleep(func(context.Context, time.Duration) error { return context.Canceled }),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			store := &faultyStore{Store: h.store}
			tt.fault(store)

			loop := &models.LoopConfig{Enabled: true, Iterations: 3}
			if tt.opts != nil {
				loop.DelayEnabled = true
			}

			tracker := completion.NewTracker(store, report.NewDefaultGenerator(h.store, slog.Default()),
				h.signal, h.publisher, slog.Default(), tt.opts...)

			execution := h.submit(t, loop, startNode(), testutil.CreateTestNode(testutil.WithID("logger")))
			tracker.Seed(execution)

			h.runAll(t)

			result, err := tracker.Check(context.Background(), execution.ID)
			require.Error(t, err)
			assert.Empty(t, result)

			stored, err := h.store.GetExecution(context.Background(), execution.ID)
			require.NoError(t, err)
			assert.Equal(t, models.ExecutionStatusRunning, stored.Status)
			assert.Equal(t, 1, stored.LoopIteration)
			assert.Empty(t, h.publisher.Updates())
		})
	}
}

func TestTracker_LoopResumesAfterRestartError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	store := &faultyStore{Store: h.store, restartErr: errors.New("disk I/O error")}
	tracker := completion.NewTracker(store, report.NewDefaultGenerator(h.store, slog.Default()),
		h.signal, h.publisher, slog.Default())

	execution := h.submit(t, &models.LoopConfig{Enabled: true, Iterations: 3},
		startNode(), testutil.CreateTestNode(testutil.WithID("logger")))

	h.runAll(t)

	_, err := tracker.Check(context.Background(), execution.ID)
	require.Error(t, err)

	store.restartErr = nil

	result, err := tracker.Check(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, completion.ResultLooped, result)

	h.drain(t, tracker, execution.ID)

	stored, err := h.store.GetExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, stored.Status)
	assert.Equal(t, 3, stored.LoopIteration)
	assert.Equal(t, 3, h.countJobs(t, execution.ID, "trigger"))
}

func TestTracker_LoopWithoutStartNodeFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	store := &faultyStore{Store: h.store, resolveErr: fmt.Errorf("workflow wf-loop: %w", persistence.ErrNoStartNode)}
	tracker := completion.NewTracker(store, report.NewDefaultGenerator(h.store, slog.Default()),
		h.signal, h.publisher, slog.Default())

	execution := h.submit(t, &models.LoopConfig{Enabled: true, Iterations: 3},
		startNode(), testutil.CreateTestNode(testutil.WithID("logger")))

	h.runAll(t)

	result, err := tracker.Check(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, completion.ResultFinalized, result)

	stored, err := h.store.GetExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)

	updates := h.publisher.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, models.ExecutionStatusFailed, updates[0].Status)
	assert.Contains(t, updates[0].Error, "no valid start node")
}
