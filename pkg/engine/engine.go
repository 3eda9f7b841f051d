// Package engine assembles the scheduler components around one store, wake signal and event bus.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowork/flowcore/pkg/completion"
	"github.com/flowork/flowcore/pkg/config"
	"github.com/flowork/flowcore/pkg/dispatch"
	"github.com/flowork/flowcore/pkg/eventbus"
	"github.com/flowork/flowcore/pkg/persistence"
	"github.com/flowork/flowcore/pkg/registry"
	"github.com/flowork/flowcore/pkg/report"
	"github.com/flowork/flowcore/pkg/router"
	"github.com/flowork/flowcore/pkg/strategy"
	"github.com/flowork/flowcore/pkg/wake"
	"github.com/flowork/flowcore/pkg/watchdog"
	"github.com/flowork/flowcore/pkg/worker"
	"go.opentelemetry.io/otel/trace"
)

type Engine struct {
	Store    persistence.Store
	Registry *registry.Registry
	Signal   wake.Signal
	Bus      eventbus.EventBus
	Tracker  *completion.Tracker
	Dispatch *dispatch.Service
	Watchdog *watchdog.Watchdog
	Pool     *worker.Pool

	logger *slog.Logger
}

type options struct {
	tracer   trace.Tracer
	selector strategy.Selector
	reports  report.Generator
}

type Option func(*options)

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

func WithSelector(selector strategy.Selector) Option {
	return func(o *options) {
		o.selector = selector
	}
}

func WithReportGenerator(reports report.Generator) Option {
	return func(o *options) {
		o.reports = reports
	}
}

// New wires the components. cfg.Workers may be zero for a process that only dispatches.
func New(
	cfg config.Config,
	store persistence.Store,
	reg *registry.Registry,
	signal wake.Signal,
	bus eventbus.EventBus,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	o := options{
		selector: strategy.NewDefaultSelector(uint64(time.Now().UnixNano())),
		reports:  report.NewDefaultGenerator(store, logger),
	}

	for _, opt := range opts {
		opt(&o)
	}

	tracker := completion.NewTracker(store, o.reports, signal, bus, logger,
		completion.WithCacheCapacity(cfg.Cache.Capacity))

	dog := watchdog.New(store, bus, logger,
		watchdog.WithDeadline(cfg.Watchdog.Deadline),
		watchdog.WithSchedule(cfg.Watchdog.Sweep),
	)

	outputs := router.NewRouter(store, logger)

	workerOpts := []worker.Option{
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithObserver(dog),
	}
	if o.tracer != nil {
		workerOpts = append(workerOpts, worker.WithTracer(o.tracer))
	}

	pool := worker.NewPool(cfg.Workers, func(id string) *worker.Worker {
		return worker.NewWorker(id, store, reg, outputs, signal, bus, logger, workerOpts...)
	}, logger)

	return &Engine{
		Store:    store,
		Registry: reg,
		Signal:   signal,
		Bus:      bus,
		Tracker:  tracker,
		Dispatch: dispatch.NewService(store, reg, o.selector, tracker, signal, bus, logger),
		Watchdog: dog,
		Pool:     pool,
		logger:   logger.With("module", "engine"),
	}
}

// Start subscribes the completion tracker to the event bus. It must run before any job completes.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Tracker.Register(e.Bus); err != nil {
		return fmt.Errorf("failed to register completion tracker: %w", err)
	}

	if err := e.Bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	return nil
}

// Run starts the engine and blocks until ctx is cancelled and every worker has stopped.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}

	if len(e.Pool.Workers()) == 0 {
		e.logger.InfoContext(ctx, "Running without workers")
		<-ctx.Done()

		return nil
	}

	if err := e.Watchdog.Start(ctx); err != nil {
		return err
	}

	return e.Pool.Run(ctx)
}

// Close releases the event bus and the store.
func (e *Engine) Close() error {
	return errors.Join(e.Bus.Close(), e.Store.Close())
}
