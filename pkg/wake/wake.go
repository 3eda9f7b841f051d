// Package wake provides the shared wake signal that lets producers of new jobs rouse idle workers.
package wake

import (
	"context"
	"sync"
	"time"
)

// Signal is a level-triggered binary event. Producers Set it after committing new jobs;
// workers Clear it before re-polling and then Wait on it while idle.
type Signal interface {
	// Set raises the signal and releases every waiter.
	Set(ctx context.Context) error
	// Wait blocks until the signal is raised or the timeout elapses. It reports whether the signal was raised.
	Wait(ctx context.Context, timeout time.Duration) (bool, error)
	// Clear lowers the signal.
	Clear(ctx context.Context) error
}

// Local is an in-process Signal, suitable when all workers share one process.
type Local struct {
	mu     sync.Mutex
	raised bool
	ch     chan struct{}
}

func NewLocal() *Local {
	return &Local{ch: make(chan struct{})}
}

func (l *Local) Set(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.raised {
		l.raised = true
		close(l.ch)
	}

	return nil
}

func (l *Local) Clear(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.raised {
		l.raised = false
		l.ch = make(chan struct{})
	}

	return nil
}

func (l *Local) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	l.mu.Lock()
	ch := l.ch
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
