// Package watchdog flags jobs that keep running past a deadline. Overdue jobs are reported, never killed.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/flowork/flowcore/pkg/eventbus"
	"github.com/flowork/flowcore/pkg/events"
	"github.com/flowork/flowcore/pkg/models"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	DefaultDeadline = 120 * time.Second
	DefaultSchedule = "@every 30s"

	// DeadlineEnv overrides the deadline, in seconds.
	DeadlineEnv = "CORE_JOB_DEADLINE_SECONDS"
)

// RunningJobs lists RUNNING jobs claimed before an instant.
type RunningJobs interface {
	RunningJobs(ctx context.Context, startedBefore time.Time) ([]*models.Job, error)
}

type tracked struct {
	job      *models.Job
	workerID string
	started  time.Time
}

type Watchdog struct {
	mu      sync.Mutex
	running map[string]tracked
	flagged map[string]bool

	store     RunningJobs
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	deadline  time.Duration
	schedule  string
	cron      *cron.Cron
	now       func() time.Time
}

type Option func(*Watchdog)

func WithDeadline(deadline time.Duration) Option {
	return func(w *Watchdog) {
		if deadline > 0 {
			w.deadline = deadline
		}
	}
}

// WithSchedule sets the cron spec of the sweep, e.g. "@every 30s".
func WithSchedule(schedule string) Option {
	return func(w *Watchdog) {
		if schedule != "" {
			w.schedule = schedule
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) {
		w.now = now
	}
}

func New(store RunningJobs, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...Option) *Watchdog {
	w := &Watchdog{
		running:   make(map[string]tracked),
		flagged:   make(map[string]bool),
		store:     store,
		publisher: publisher,
		logger:    logger.With("module", "watchdog"),
		deadline:  DeadlineFromEnv(),
		schedule:  DefaultSchedule,
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// DeadlineFromEnv reads the deadline from CORE_JOB_DEADLINE_SECONDS, falling back to the default.
func DeadlineFromEnv() time.Duration {
	seconds, err := strconv.Atoi(os.Getenv(DeadlineEnv))
	if err != nil {
		return DefaultDeadline
	}

	return DeadlineFromSeconds(seconds)
}

// DeadlineFromSeconds converts a deadline in seconds, falling back to the default when it is not positive.
func DeadlineFromSeconds(seconds int) time.Duration {
	if seconds <= 0 {
		return DefaultDeadline
	}

	return time.Duration(seconds) * time.Second
}

func (w *Watchdog) Deadline() time.Duration {
	return w.deadline
}

// JobStarted registers a job a local worker is running.
func (w *Watchdog) JobStarted(job *models.Job, workerID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.running[job.ID] = tracked{job: job, workerID: workerID, started: w.now()}
}

func (w *Watchdog) JobFinished(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.running, jobID)
	delete(w.flagged, jobID)
}

// Sweep reports every job running past the deadline, once per job. Jobs claimed by other
// processes are found through the store.
func (w *Watchdog) Sweep(ctx context.Context) ([]*models.Job, error) {
	now := w.now()
	cutoff := now.Add(-w.deadline)

	stored, err := w.store.RunningJobs(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list running jobs: %w", err)
	}

	w.mu.Lock()

	overdue := make(map[string]tracked, len(stored))

	for _, job := range stored {
		entry := tracked{job: job}
		if job.StartedAt != nil {
			entry.started = *job.StartedAt
		}

		if local, ok := w.running[job.ID]; ok {
			entry.workerID = local.workerID
		}

		overdue[job.ID] = entry
	}

	for id, local := range w.running {
		if _, ok := overdue[id]; !ok && local.started.Before(cutoff) {
			overdue[id] = local
		}
	}

	var fresh []tracked

	for id, entry := range overdue {
		if !w.flagged[id] {
			w.flagged[id] = true
			fresh = append(fresh, entry)
		}
	}

	for id := range w.flagged {
		if _, ok := overdue[id]; !ok {
			delete(w.flagged, id)
		}
	}

	w.mu.Unlock()

	jobs := make([]*models.Job, 0, len(fresh))

	for _, entry := range fresh {
		job := entry.job
		runningFor := now.Sub(entry.started)

		w.logger.WarnContext(ctx, "Job running past deadline",
			"job_id", job.ID,
			"execution_id", job.ExecutionID,
			"node_id", job.NodeID,
			"worker_id", entry.workerID,
			"running_for", runningFor,
			"deadline", w.deadline,
		)

		event := events.JobOverdue{
			BaseEvent:   events.NewBaseEvent(uuid.NewString(), events.JobOverdueEvent, job.WorkflowID),
			ExecutionID: job.ExecutionID,
			JobID:       job.ID,
			NodeID:      job.NodeID,
			UserID:      job.UserID,
			RunningFor:  runningFor,
		}
		event.WorkerID = entry.workerID

		eventbus.PublishOrLog(ctx, w.logger, w.publisher, job.ExecutionID, event)

		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Start schedules the sweep until ctx is cancelled.
func (w *Watchdog) Start(ctx context.Context) error {
	if _, err := cron.ParseStandard(w.schedule); err != nil {
		return fmt.Errorf("invalid watchdog schedule '%s': %w", w.schedule, err)
	}

	logger := cronLogger{logger: w.logger}

	w.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))

	_, err := w.cron.AddFunc(w.schedule, func() {
		if _, err := w.Sweep(ctx); err != nil {
			w.logger.ErrorContext(ctx, "Watchdog sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule watchdog sweep: %w", err)
	}

	w.cron.Start()
	w.logger.InfoContext(ctx, "Watchdog started", "deadline", w.deadline, "schedule", w.schedule)

	go func() {
		<-ctx.Done()
		<-w.cron.Stop().Done()
		w.logger.Info("Watchdog stopped")
	}()

	return nil
}

// cronLogger adapts slog to the cron logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
