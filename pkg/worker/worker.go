// Package worker implements the claim-and-execute loop that drives jobs through node bodies.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/flowork/flowcore/pkg/eventbus"
	"github.com/flowork/flowcore/pkg/events"
	"github.com/flowork/flowcore/pkg/models"
	"github.com/flowork/flowcore/pkg/otelhelper"
	"github.com/flowork/flowcore/pkg/persistence"
	"github.com/flowork/flowcore/pkg/protocol"
	"github.com/flowork/flowcore/pkg/wake"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPollInterval is how long an idle worker waits on the wake signal before polling again.
const DefaultPollInterval = 500 * time.Millisecond

// ErrNodePanicked wraps a panic raised by a node body.
var ErrNodePanicked = errors.New("node body panicked")

// BodyResolver builds the executable body of a node.
type BodyResolver interface {
	CreateBody(ctx context.Context, nodeType string, config map[string]any) (protocol.NodeBody, error)
}

// Router computes the downstream nodes for an output port.
type Router interface {
	Route(ctx context.Context, workflowID, sourceNodeID, activePort string) ([]string, error)
}

// Observer is told when a worker starts and stops running a job.
type Observer interface {
	JobStarted(job *models.Job, workerID string)
	JobFinished(jobID string)
}

type Worker struct {
	id           string
	store        persistence.Store
	bodies       BodyResolver
	router       Router
	signal       wake.Signal
	publisher    eventbus.EventPublisher
	tracer       trace.Tracer
	observer     Observer
	logger       *slog.Logger
	pollInterval time.Duration
	now          func() time.Time
}

type Option func(*Worker)

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(w *Worker) {
		w.tracer = tracer
	}
}

func WithObserver(observer Observer) Option {
	return func(w *Worker) {
		w.observer = observer
	}
}

// NewID returns a worker id of the form worker-<8 hex chars>.
func NewID() string {
	return fmt.Sprintf("worker-%s", uuid.New().String()[:8])
}

func NewWorker(
	id string,
	store persistence.Store,
	bodies BodyResolver,
	router Router,
	signal wake.Signal,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	opts ...Option,
) *Worker {
	if id == "" {
		id = NewID()
	}

	w := &Worker{
		id:           id,
		store:        store,
		bodies:       bodies,
		router:       router,
		signal:       signal,
		publisher:    publisher,
		tracer:       otelhelper.NoopTracer(),
		logger:       logger.With("module", "worker", "worker_id", id),
		pollInterval: DefaultPollInterval,
		now:          func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

func (w *Worker) ID() string {
	return w.id
}

// Run claims and executes jobs until ctx is cancelled. A claimed job is always
// carried to a recorded outcome, even if ctx is cancelled meanwhile.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Worker started", "poll_interval", w.pollInterval)

	for {
		if ctx.Err() != nil {
			w.logger.InfoContext(ctx, "Worker stopped")

			return nil
		}

		processed, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to claim job", "error", err)
			w.sleep(ctx)

			continue
		}

		if processed {
			continue
		}

		// Clear before the second poll so a Set racing with it is not lost.
		if err := w.signal.Clear(ctx); err != nil {
			w.logger.WarnContext(ctx, "Failed to clear wake signal", "error", err)
		}

		processed, err = w.RunOnce(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to claim job", "error", err)
		}

		if processed {
			continue
		}

		if _, err := w.signal.Wait(ctx, w.pollInterval); err != nil && ctx.Err() == nil {
			w.logger.WarnContext(ctx, "Failed waiting for wake signal", "error", err)
			w.sleep(ctx)
		}
	}
}

// RunOnce claims at most one job and runs it. It reports whether a job was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}

	job, err := w.store.ClaimOnePendingJob(ctx)
	if err != nil {
		return false, err
	}

	if job == nil {
		return false, nil
	}

	w.Process(context.WithoutCancel(ctx), job)

	return true, nil
}

// Process runs a claimed job and records its outcome.
func (w *Worker) Process(ctx context.Context, job *models.Job) {
	started := w.now()

	attrs := append(otelhelper.JobAttributes(job.WorkflowID, job.ExecutionID, job.ID, job.NodeID),
		attribute.String(otelhelper.WorkerIDKey, w.id),
		attribute.String(otelhelper.UserIDKey, job.UserID),
	)

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.job", attrs...)
	defer span.End()

	if w.observer != nil {
		w.observer.JobStarted(job, w.id)
		defer w.observer.JobFinished(job.ID)
	}

	logger := w.logger.With(
		"job_id", job.ID,
		"execution_id", job.ExecutionID,
		"workflow_id", job.WorkflowID,
		"node_id", job.NodeID,
	)

	logger.InfoContext(ctx, "Executing job")

	outcome, err := w.execute(ctx, logger, job)

	status := models.JobStatusDone

	if err != nil {
		status = models.JobStatusFailed

		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Job failed", "error", err)

		failErr := w.store.FailJob(ctx, job.ID, err.Error())
		if failErr != nil {
			logger.ErrorContext(ctx, "Failed to record job failure",
				"error", failErr,
				"unrecoverable", true,
			)

			return
		}
	} else {
		span.SetAttributes(
			attribute.String(otelhelper.PortKey, outcome.port),
			attribute.Int(otelhelper.DownstreamKey, outcome.inserted),
		)

		logger.InfoContext(ctx, "Job finished", "port", outcome.port, "downstream", outcome.inserted)
	}

	eventbus.PublishOrLog(ctx, logger, w.publisher, job.ExecutionID, events.JobCompleted{
		BaseEvent:   w.baseEvent(events.JobCompletedEvent, job.WorkflowID),
		ExecutionID: job.ExecutionID,
		JobID:       job.ID,
		NodeID:      job.NodeID,
		UserID:      job.UserID,
		Status:      status,
		Port:        outcome.port,
		Downstream:  outcome.inserted,
		DurationMs:  w.now().Sub(started).Milliseconds(),
	})
}

type jobOutcome struct {
	port     string
	inserted int
}

func (w *Worker) execute(ctx context.Context, logger *slog.Logger, job *models.Job) (jobOutcome, error) {
	node, err := w.store.GetNode(ctx, job.NodeID)
	if err != nil {
		return jobOutcome{}, fmt.Errorf("failed to load node: %w", err)
	}

	body, err := w.bodies.CreateBody(ctx, node.Type, node.Config)
	if err != nil {
		return jobOutcome{}, err
	}

	input, err := models.DecodePayload(job.InputData)
	if err != nil {
		return jobOutcome{}, err
	}

	result, err := invoke(ctx, body, protocol.Request{
		NodeID:      node.ID,
		NodeType:    node.Type,
		JobID:       job.ID,
		ExecutionID: job.ExecutionID,
		WorkflowID:  job.WorkflowID,
		UserID:      job.UserID,
		Input:       input,
		Config:      node.Config,
		Logger:      logger.With("node_type", node.Type),
	})
	if err != nil {
		return jobOutcome{}, err
	}

	output, port := Normalize(node, result, input)

	encoded, err := models.EncodePayload(output)
	if err != nil {
		return jobOutcome{}, err
	}

	targets, err := w.router.Route(ctx, job.WorkflowID, job.NodeID, port)
	if err != nil {
		return jobOutcome{}, err
	}

	inserted, err := w.store.FinishJob(ctx, job.ID, encoded, targets)
	if err != nil {
		return jobOutcome{}, fmt.Errorf("failed to finish job: %w", err)
	}

	if inserted > 0 {
		if err := w.signal.Set(ctx); err != nil {
			logger.WarnContext(ctx, "Failed to raise wake signal", "error", err)
		}
	}

	return jobOutcome{port: port, inserted: inserted}, nil
}

func invoke(ctx context.Context, body protocol.NodeBody, request protocol.Request) (result protocol.Result, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			request.Logger.ErrorContext(ctx, "Node body panicked", "panic", recovered, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrNodePanicked, recovered)
		}
	}()

	return body.Execute(ctx, request)
}

// Normalize turns a node result into the payload stored on the job and the port it is routed on.
//
// A Failure is routed on the error port. A Success without a port uses the success port,
// which start and trigger nodes report as output instead.
func Normalize(node *models.Node, result protocol.Result, input models.Payload) (models.Payload, string) {
	switch r := result.(type) {
	case protocol.Failure:
		return models.Envelope(r.Payload(), input), protocol.PortError
	case *protocol.Failure:
		if r != nil {
			return models.Envelope(r.Payload(), input), protocol.PortError
		}
	case protocol.Success:
		return models.Envelope(r.Payload, input), successPort(node, r.Port)
	case *protocol.Success:
		if r != nil {
			return models.Envelope(r.Payload, input), successPort(node, r.Port)
		}
	}

	return models.Envelope(nil, input), successPort(node, "")
}

func successPort(node *models.Node, port string) string {
	if port == "" {
		port = protocol.PortSuccess
	}

	if port == protocol.PortSuccess && node.IsStartLike() {
		return protocol.PortOutput
	}

	return port
}

func (w *Worker) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	event := events.NewBaseEvent(uuid.NewString(), eventType, workflowID)
	event.WorkerID = w.id

	return event
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
