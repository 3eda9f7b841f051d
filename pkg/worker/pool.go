package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Pool runs a fixed set of workers against the same store and wake signal.
type Pool struct {
	workers []*Worker
	logger  *slog.Logger
}

// NewPool creates size workers with build. Each worker gets a fresh id.
func NewPool(size int, build func(id string) *Worker, logger *slog.Logger) *Pool {
	workers := make([]*Worker, 0, size)
	for range size {
		workers = append(workers, build(NewID()))
	}

	return &Pool{
		workers: workers,
		logger:  logger.With("module", "worker_pool"),
	}
}

func (p *Pool) Workers() []*Worker {
	return p.workers
}

// Run starts every worker and blocks until all of them have stopped.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Starting worker pool", "size", len(p.workers))

	var wg sync.WaitGroup

	errs := make(chan error, len(p.workers))

	for _, w := range p.workers {
		wg.Add(1)

		go func(w *Worker) {
			defer wg.Done()

			if err := w.Run(ctx); err != nil {
				errs <- err
			}
		}(w)
	}

	wg.Wait()
	close(errs)

	p.logger.InfoContext(ctx, "Worker pool stopped")

	if err, ok := <-errs; ok {
		return err
	}

	return nil
}
