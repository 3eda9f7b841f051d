package testutil

import (
	"context"
	"sync"

	"github.com/flowork/flowcore/pkg/eventbus"
	"github.com/flowork/flowcore/pkg/events"
)

// RecordingPublisher keeps every published event in memory.
type RecordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	events []eventbus.Event
}

func (r *RecordingPublisher) Publish(_ context.Context, key string, event eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.keys = append(r.keys, key)
	r.events = append(r.events, event)

	return nil
}

func (r *RecordingPublisher) Events() []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]eventbus.Event(nil), r.events...)
}

func (r *RecordingPublisher) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.keys...)
}

func (r *RecordingPublisher) Completed() []events.JobCompleted {
	return eventsOf[events.JobCompleted](r.Events())
}

func (r *RecordingPublisher) Updates() []events.WorkflowExecutionUpdate {
	return eventsOf[events.WorkflowExecutionUpdate](r.Events())
}

func (r *RecordingPublisher) Started() []events.WorkflowExecutionStarted {
	return eventsOf[events.WorkflowExecutionStarted](r.Events())
}

func (r *RecordingPublisher) Overdue() []events.JobOverdue {
	return eventsOf[events.JobOverdue](r.Events())
}

func eventsOf[T eventbus.Event](all []eventbus.Event) []T {
	var out []T

	for _, event := range all {
		if typed, ok := event.(T); ok {
			out = append(out, typed)
		}
	}

	return out
}
