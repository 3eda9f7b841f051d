package dispatch_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/flowork/flowcore/pkg/completion"
	"github.com/flowork/flowcore/pkg/dispatch"
	"github.com/flowork/flowcore/pkg/models"
	"github.com/flowork/flowcore/pkg/persistence"
	"github.com/flowork/flowcore/pkg/registry"
	"github.com/flowork/flowcore/pkg/report"
	"github.com/flowork/flowcore/pkg/router"
	"github.com/flowork/flowcore/pkg/strategy"
	"github.com/flowork/flowcore/pkg/testutil"
	"github.com/flowork/flowcore/pkg/wake"
	"github.com/flowork/flowcore/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store     persistence.Store
	registry  *registry.Registry
	signal    *wake.Local
	publisher *testutil.RecordingPublisher
	tracker   *completion.Tracker
	service   *dispatch.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:     testutil.NewSQLiteStore(t),
		registry:  registry.NewRegistry(slog.Default()),
		signal:    wake.NewLocal(),
		publisher: &testutil.RecordingPublisher{},
	}

	h.registry.RegisterDefaultNodes()

	h.tracker = completion.NewTracker(h.store, report.NewDefaultGenerator(h.store, slog.Default()),
		h.signal, h.publisher, slog.Default())
	h.service = dispatch.NewService(h.store, h.registry, strategy.Fixed(strategy.Fast), h.tracker,
		h.signal, h.publisher, slog.Default())

	return h
}

// run drives every job of the execution with one worker and checks completion after each.
func (h *harness) run(t *testing.T, executionID string) {
	t.Helper()

	w := worker.NewWorker("worker-test", h.store, h.registry, router.NewRouter(h.store, slog.Default()),
		h.signal, h.publisher, slog.Default())

	for range 50 {
		processed, err := w.RunOnce(context.Background())
		require.NoError(t, err)

		result, err := h.tracker.Check(context.Background(), executionID)
		require.NoError(t, err)

		if !processed && result != completion.ResultLooped {
			return
		}
	}

	t.Fatal("execution did not settle")
}

func greetRequest() dispatch.Request {
	return dispatch.Request{
		WorkflowID:   "wf-greet",
		WorkflowName: "Greeting",
		UserID:       "user-1",
		Nodes: []dispatch.NodeSpec{
			{ID: "trigger", Type: models.StartNodeType},
			{ID: "greet", Type: "log", Config: map[string]any{"message": "hello {{.data.name}}"}},
		},
		Edges: []dispatch.EdgeSpec{
			{Source: "trigger", Target: "greet"},
		},
		InitialPayload: models.Payload{"data": map[string]any{"name": "ana"}},
	}
}

func TestDispatch_EnqueuesStartJobs(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	executionID, jobIDs, err := h.service.Dispatch(context.Background(), greetRequest())
	require.NoError(t, err)
	require.Len(t, jobIDs, 1)

	execution, err := h.store.GetExecution(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.Equal(t, strategy.Fast, execution.Strategy)
	assert.Equal(t, models.DefaultGasBudget, execution.GasBudgetHint)
	assert.Equal(t, "user-1", execution.UserID)

	jobs, err := h.store.ExecutionJobs(context.Background(), executionID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "trigger", jobs[0].NodeID)
	assert.Equal(t, jobIDs[0], jobs[0].ID)
	assert.JSONEq(t, `{"data":{"name":"ana"}}`, string(jobs[0].InputData))

	raised, err := h.signal.Wait(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.True(t, raised)

	started := h.publisher.Started()
	require.Len(t, started, 1)
	assert.Equal(t, executionID, started[0].ExecutionID)
	assert.Equal(t, []string{"trigger"}, started[0].StartNodeIDs)
	assert.Equal(t, jobIDs, started[0].JobIDs)
}

func TestDispatch_RunsToCompletion(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	req := greetRequest()
	req.ForceStrategy = strategy.Thorough

	executionID, _, err := h.service.Dispatch(context.Background(), req)
	require.NoError(t, err)

	h.run(t, executionID)

	monitor, err := h.service.Status(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, monitor.Execution.Status)
	assert.Equal(t, strategy.Thorough, monitor.Execution.Strategy)
	assert.Equal(t, "greet", monitor.NodeID)
	assert.Empty(t, monitor.Error)
	assert.NotNil(t, monitor.Output)
}

func TestDispatch_LoopConfigFromPayload(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	req := greetRequest()
	req.InitialPayload[models.RuntimeLoopConfigKey] = map[string]any{"isEnabled": true, "iterations": 2}

	executionID, _, err := h.service.Dispatch(context.Background(), req)
	require.NoError(t, err)

	execution, err := h.store.GetExecution(context.Background(), executionID)
	require.NoError(t, err)
	require.NotNil(t, execution.LoopConfig)
	assert.Equal(t, 2, execution.LoopConfig.Iterations)

	h.run(t, executionID)

	jobs, err := h.store.ExecutionJobs(context.Background(), executionID)
	require.NoError(t, err)
	assert.Len(t, jobs, 4)

	execution, err = h.store.GetExecution(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, execution.Status)
	assert.Equal(t, 2, execution.LoopIteration)
}

func TestDispatch_UndecodableLoopConfigIsIgnored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config any
		warned bool
	}{
		{name: "string", config: "three times", warned: true},
		{name: "wrong field type", config: map[string]any{"iterations": "two"}, warned: true},
		{name: "explicit null", config: nil, warned: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)

			var logs bytes.Buffer

			service := dispatch.NewService(h.store, h.registry, strategy.Fixed(strategy.Fast), h.tracker,
				h.signal, h.publisher, slog.New(slog.NewTextHandler(&logs, nil)))

			req := greetRequest()
			req.InitialPayload[models.RuntimeLoopConfigKey] = tt.config

			executionID, jobIDs, err := service.Dispatch(context.Background(), req)
			require.NoError(t, err)
			assert.NotEmpty(t, jobIDs)

			execution, err := h.store.GetExecution(context.Background(), executionID)
			require.NoError(t, err)
			assert.Nil(t, execution.LoopConfig)

			assert.Equal(t, tt.warned, strings.Contains(logs.String(), "undecodable loop configuration"))
		})
	}
}

func TestDispatch_RejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*dispatch.Request)
		target error
	}{
		{
			name:   "missing workflow id",
			mutate: func(r *dispatch.Request) { r.WorkflowID = "" },
			target: dispatch.ErrInvalidRequest,
		},
		{
			name:   "missing user",
			mutate: func(r *dispatch.Request) { r.UserID = "" },
			target: dispatch.ErrInvalidRequest,
		},
		{
			name:   "no nodes",
			mutate: func(r *dispatch.Request) { r.Nodes = nil; r.Edges = nil },
			target: dispatch.ErrInvalidRequest,
		},
		{
			name:   "node without type",
			mutate: func(r *dispatch.Request) { r.Nodes[1].Type = "" },
			target: dispatch.ErrInvalidRequest,
		},
		{
			name:   "duplicate node",
			mutate: func(r *dispatch.Request) { r.Nodes[1].ID = "trigger" },
			target: dispatch.ErrInvalidRequest,
		},
		{
			name:   "dangling edge",
			mutate: func(r *dispatch.Request) { r.Edges[0].Target = "ghost" },
			target: dispatch.ErrInvalidRequest,
		},
		{
			name:   "unknown start node",
			mutate: func(r *dispatch.Request) { r.StartNodeID = "ghost" },
			target: dispatch.ErrInvalidRequest,
		},
		{
			name:   "negative gas budget",
			mutate: func(r *dispatch.Request) { r.GasBudget = -1 },
			target: dispatch.ErrInvalidRequest,
		},
		{
			name:   "config violates schema",
			mutate: func(r *dispatch.Request) { r.Nodes[1].Config = map[string]any{"level": "info"} },
			target: registry.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)

			req := greetRequest()
			tt.mutate(&req)

			_, _, err := h.service.Dispatch(context.Background(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.True(t, dispatch.IsValidationError(err))

			var serviceErr *dispatch.ServiceError
			assert.True(t, errors.As(err, &serviceErr))
			assert.Empty(t, h.publisher.Events())
		})
	}
}

func TestDispatch_NoStartNodeWritesNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	req := dispatch.Request{
		WorkflowID:  "wf-cycle",
		UserID:      "user-1",
		ExecutionID: "exec-cycle",
		Nodes: []dispatch.NodeSpec{
			{ID: "a", Type: "log", Config: map[string]any{"message": "a"}},
			{ID: "b", Type: "log", Config: map[string]any{"message": "b"}},
		},
		Edges: []dispatch.EdgeSpec{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
	}

	_, _, err := h.service.Dispatch(context.Background(), req)
	require.ErrorIs(t, err, dispatch.ErrNoStartNode)
	assert.True(t, dispatch.IsValidationError(err))

	_, err = h.store.GetExecution(context.Background(), "exec-cycle")
	assert.True(t, dispatch.IsNotFound(err))

	_, err = h.store.GetNode(context.Background(), "a")
	assert.True(t, dispatch.IsNotFound(err))
}

func TestExecuteStandalone_ShadowNode(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	executionID, jobID, err := h.service.ExecuteStandalone(context.Background(), dispatch.StandaloneRequest{
		Node:        "transform",
		Input:       models.Payload{"data": "x"},
		ExecutionID: "exec-standalone",
		JobID:       "job-standalone",
	})
	require.NoError(t, err)
	assert.Equal(t, "exec-standalone", executionID)
	assert.Equal(t, "job-standalone", jobID)

	execution, err := h.store.GetExecution(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, strategy.ManualNodeTrigger, execution.Strategy)
	assert.Equal(t, dispatch.DefaultStandaloneUser, execution.UserID)
	assert.True(t, dispatch.IsShadowWorkflow(execution.WorkflowID), execution.WorkflowID)

	jobs, err := h.store.ExecutionJobs(context.Background(), executionID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	node, err := h.store.GetNode(context.Background(), jobs[0].NodeID)
	require.NoError(t, err)
	assert.Equal(t, "transform", node.Type)
	assert.Equal(t, execution.WorkflowID, node.WorkflowID)
}

func TestExecuteStandalone_PersistedNode(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, _, err := h.service.Dispatch(context.Background(), greetRequest())
	require.NoError(t, err)

	executionID, jobID, err := h.service.ExecuteStandalone(context.Background(), dispatch.StandaloneRequest{
		Node:   "greet",
		UserID: "user-2",
	})
	require.NoError(t, err)

	execution, err := h.store.GetExecution(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, "wf-greet", execution.WorkflowID)
	assert.Equal(t, "user-2", execution.UserID)

	jobs, err := h.store.ExecutionJobs(context.Background(), executionID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobID, jobs[0].ID)
	assert.Equal(t, "greet", jobs[0].NodeID)

	h.run(t, executionID)

	monitor, err := h.service.Status(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, monitor.Execution.Status)
}

func TestExecuteStandalone_UnknownNode(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, _, err := h.service.ExecuteStandalone(context.Background(), dispatch.StandaloneRequest{Node: "no-such-thing"})
	require.ErrorIs(t, err, dispatch.ErrUnknownNode)
	assert.True(t, dispatch.IsValidationError(err))

	_, _, err = h.service.ExecuteStandalone(context.Background(), dispatch.StandaloneRequest{})
	require.ErrorIs(t, err, dispatch.ErrInvalidRequest)
}

func TestControlSignals(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	executionID, jobIDs, err := h.service.Dispatch(ctx, greetRequest())
	require.NoError(t, err)

	paused, err := h.service.Pause(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, 1, paused)

	claimed, err := h.store.ClaimOnePendingJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, claimed, "paused jobs are not claimable")

	resumed, err := h.service.Resume(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	monitor, err := h.service.Status(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, monitor.Execution.Status)

	cancelled, err := h.service.Stop(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	jobs, err := h.store.ExecutionJobs(ctx, executionID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobIDs[0], jobs[0].ID)
	assert.Equal(t, models.JobStatusCancelled, jobs[0].Status)

	_, err = h.service.Stop(ctx, executionID)
	assert.True(t, dispatch.IsConflictError(err))

	_, err = h.service.Resume(ctx, executionID)
	assert.True(t, dispatch.IsConflictError(err))

	statuses := make([]string, 0, 3)
	for _, update := range h.publisher.Updates() {
		statuses = append(statuses, string(update.Status))
	}

	assert.Equal(t, "PAUSED,RUNNING,STOPPED", strings.Join(statuses, ","))
}

func TestStatus_MissingExecution(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.service.Status(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, dispatch.IsNotFound(err))
}
