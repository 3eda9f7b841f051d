// Package completion detects finished executions, re-triggers looped ones and publishes the final report.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/flowork/flowcore/pkg/eventbus"
	"github.com/flowork/flowcore/pkg/events"
	"github.com/flowork/flowcore/pkg/models"
	"github.com/flowork/flowcore/pkg/persistence"
	"github.com/flowork/flowcore/pkg/report"
	"github.com/flowork/flowcore/pkg/wake"
	"github.com/google/uuid"
)

// Result describes what a completion check did.
type Result string

const (
	ResultPending   Result = "pending"
	ResultLooped    Result = "looped"
	ResultFinalized Result = "finalized"
	// ResultNoop means the execution was already terminal, stopped or paused.
	ResultNoop Result = "noop"
)

type executionInfo struct {
	UserID     string
	WorkflowID string
}

// loopState is nil in the loop cache for executions that do not loop.
type loopState struct {
	config     *models.LoopConfig
	current    int
	workflowID string
}

type Tracker struct {
	// mu serializes checks within the process. Cross-process safety comes from the
	// conditional RestartIteration and FinalizeExecution updates.
	mu sync.Mutex

	store     persistence.Store
	reports   report.Generator
	signal    wake.Signal
	publisher eventbus.EventPublisher
	logger    *slog.Logger

	executions *Cache[string, executionInfo]
	loops      *Cache[string, *loopState]

	uniform func() float64
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

type Option func(*Tracker)

func WithCacheCapacity(capacity int) Option {
	return func(t *Tracker) {
		t.executions = NewCache[string, executionInfo](capacity)
		t.loops = NewCache[string, *loopState](capacity)
	}
}

// WithSleep replaces the pause between loop iterations.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Tracker) {
		t.sleep = sleep
	}
}

func WithRandom(uniform func() float64) Option {
	return func(t *Tracker) {
		t.uniform = uniform
	}
}

func NewTracker(
	store persistence.Store,
	reports report.Generator,
	signal wake.Signal,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	opts ...Option,
) *Tracker {
	t := &Tracker{
		store:      store,
		reports:    reports,
		signal:     signal,
		publisher:  publisher,
		logger:     logger.With("module", "completion"),
		executions: NewCache[string, executionInfo](DefaultCacheCapacity),
		loops:      NewCache[string, *loopState](DefaultCacheCapacity),
		uniform:    rand.Float64,
		sleep:      sleepContext,
		now:        func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Register subscribes the tracker to job completion events.
func (t *Tracker) Register(subscriber eventbus.EventSubscriber) error {
	return subscriber.Handle(events.JobCompletedEvent, t.HandleJobCompleted)
}

// Seed primes the caches with a freshly dispatched execution.
func (t *Tracker) Seed(execution *models.Execution) {
	t.executions.Put(execution.ID, executionInfo{UserID: execution.UserID, WorkflowID: execution.WorkflowID})

	if !execution.LoopConfig.Active() {
		t.loops.Put(execution.ID, nil)

		return
	}

	t.loops.Put(execution.ID, &loopState{
		config:     execution.LoopConfig,
		current:    max(execution.LoopIteration, 1),
		workflowID: execution.WorkflowID,
	})
}

// Evict drops every cached entry of an execution.
func (t *Tracker) Evict(executionID string) {
	t.executions.Delete(executionID)
	t.loops.Delete(executionID)
}

// HandleJobCompleted runs a completion check for the execution of the completed job.
// Failures are logged: the notification itself was delivered.
func (t *Tracker) HandleJobCompleted(ctx context.Context, event any) error {
	var executionID string

	switch e := event.(type) {
	case *events.JobCompleted:
		executionID = e.ExecutionID
	case events.JobCompleted:
		executionID = e.ExecutionID
	default:
		t.logger.WarnContext(ctx, "Ignoring unexpected event", "event", event)

		return nil
	}

	if _, err := t.Check(ctx, executionID); err != nil {
		t.logger.ErrorContext(ctx, "Completion check failed", "execution_id", executionID, "error", err)
	}

	return nil
}

// Check finalizes the execution when it has no incomplete jobs left, unless a loop
// iteration is due, in which case the next iteration is started instead.
func (t *Tracker) Check(ctx context.Context, executionID string) (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := t.logger.With("execution_id", executionID)

	incomplete, err := t.store.CountIncomplete(ctx, executionID)
	if err != nil {
		return "", err
	}

	if incomplete > 0 {
		logger.DebugContext(ctx, "Execution still has incomplete jobs", "incomplete", incomplete)

		return ResultPending, nil
	}

	looped, err := t.nextIteration(ctx, logger, executionID)

	switch {
	case persistence.IsNoStartNode(err):
		// A loop without a start node cannot resume.
		logger.ErrorContext(ctx, "No start node to restart the loop from", "error", err)

		return t.finalize(ctx, logger, executionID, err.Error())
	case err != nil:
		// The execution stays RUNNING; a later check (e.g. after pause and resume) retries.
		return "", fmt.Errorf("failed to start next loop iteration: %w", err)
	case looped:
		return ResultLooped, nil
	}

	return t.finalize(ctx, logger, executionID, "")
}

// finalize moves the execution to its terminal status. A non-empty reason fails it regardless of its jobs.
func (t *Tracker) finalize(ctx context.Context, logger *slog.Logger, executionID, reason string) (Result, error) {
	failed := reason != ""

	if !failed {
		anyFailed, err := t.store.HasAnyFailed(ctx, executionID)
		if err != nil {
			return "", err
		}

		failed = anyFailed
	}

	status := models.ExecutionStatusSucceeded
	if failed {
		status = models.ExecutionStatusFailed
	}

	finishedAt := t.now()

	transitioned, err := t.store.FinalizeExecution(ctx, executionID, status, finishedAt)
	if err != nil {
		return "", err
	}

	if !transitioned {
		logger.DebugContext(ctx, "Execution not finalized by this check")

		return ResultNoop, nil
	}

	logger.InfoContext(ctx, "Execution finished", "status", status)

	update := events.WorkflowExecutionUpdate{
		ExecutionID: executionID,
		Status:      status,
		Error:       reason,
		FinishedAt:  &finishedAt,
	}

	outcome, analysis, err := t.reports.Generate(ctx, executionID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to generate execution report", "error", err)
	} else {
		update.Outcome = outcome
		update.Analysis = analysis
	}

	info, err := t.info(ctx, executionID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to resolve execution owner", "error", err)
	}

	update.BaseEvent = events.NewBaseEvent(uuid.NewString(), events.WorkflowExecutionUpdateEvent, info.WorkflowID)
	update.UserID = info.UserID

	if state, ok := t.loops.Get(executionID); ok && state != nil {
		update.Iteration = state.current
	}

	eventbus.PublishOrLog(ctx, logger, t.publisher, executionID, update)

	t.Evict(executionID)

	return ResultFinalized, nil
}

// nextIteration starts the next loop iteration when one is due. It reports whether it
// did, or whether another process already moved the execution on.
func (t *Tracker) nextIteration(ctx context.Context, logger *slog.Logger, executionID string) (bool, error) {
	state, err := t.loopState(ctx, executionID)
	if err != nil {
		return false, err
	}

	for attempt := 0; state != nil; attempt++ {
		limit := state.config.MaxIterations()
		if state.current >= limit {
			logger.InfoContext(ctx, "Loop reached its last iteration", "iterations", limit)

			return false, nil
		}

		if delay := state.config.Delay(t.uniform); delay > 0 {
			logger.InfoContext(ctx, "Delaying next loop iteration", "delay", delay)

			if err := t.sleep(ctx, delay); err != nil {
				return false, err
			}
		}

		next := state.current + 1

		startNodeID, err := t.store.ResolveStartNode(ctx, state.workflowID)
		if err != nil {
			return false, err
		}

		jobID, err := t.store.RestartIteration(ctx, executionID, startNodeID, next)
		if err == nil {
			state.current = next
			t.loops.Put(executionID, state)
			t.started(ctx, logger, executionID, state, jobID)

			return true, nil
		}

		if !errors.Is(err, persistence.ErrInvalidTransition) {
			return false, err
		}

		// The cached iteration is stale, or the execution left RUNNING.
		t.loops.Delete(executionID)

		if attempt > 0 {
			return true, nil
		}

		execution, err := t.store.GetExecution(ctx, executionID)
		if err != nil {
			return false, err
		}

		if execution.Status != models.ExecutionStatusRunning {
			return false, nil
		}

		state = t.cacheLoop(execution)
	}

	return false, nil
}

func (t *Tracker) started(ctx context.Context, logger *slog.Logger, executionID string, state *loopState, jobID string) {
	logger.InfoContext(ctx, "Started next loop iteration",
		"iteration", state.current,
		"iterations", state.config.MaxIterations(),
		"job_id", jobID,
	)

	if err := t.signal.Set(ctx); err != nil {
		logger.WarnContext(ctx, "Failed to raise wake signal", "error", err)
	}

	info, err := t.info(ctx, executionID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to resolve execution owner", "error", err)
	}

	eventbus.PublishOrLog(ctx, logger, t.publisher, executionID, events.WorkflowExecutionUpdate{
		BaseEvent:   events.NewBaseEvent(uuid.NewString(), events.WorkflowExecutionUpdateEvent, state.workflowID),
		ExecutionID: executionID,
		UserID:      info.UserID,
		Status:      models.ExecutionStatusRunning,
		Iteration:   state.current,
	})
}

func (t *Tracker) loopState(ctx context.Context, executionID string) (*loopState, error) {
	if state, ok := t.loops.Get(executionID); ok {
		return state, nil
	}

	execution, err := t.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return t.cacheLoop(execution), nil
}

func (t *Tracker) cacheLoop(execution *models.Execution) *loopState {
	t.executions.Put(execution.ID, executionInfo{UserID: execution.UserID, WorkflowID: execution.WorkflowID})

	if !execution.LoopConfig.Active() {
		t.loops.Put(execution.ID, nil)

		return nil
	}

	state := &loopState{
		config:     execution.LoopConfig,
		current:    max(execution.LoopIteration, 1),
		workflowID: execution.WorkflowID,
	}
	t.loops.Put(execution.ID, state)

	return state
}

func (t *Tracker) info(ctx context.Context, executionID string) (executionInfo, error) {
	if info, ok := t.executions.Get(executionID); ok {
		return info, nil
	}

	execution, err := t.store.GetExecution(ctx, executionID)
	if err != nil {
		return executionInfo{}, err
	}

	info := executionInfo{UserID: execution.UserID, WorkflowID: execution.WorkflowID}
	t.executions.Put(executionID, info)

	return info, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
