// Package eventbus provides the notification sink used by workers, the completion tracker and dispatch.
package eventbus

import (
	"context"
	"log/slog"

	"github.com/flowork/flowcore/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// Targeted is implemented by events addressed to a single user.
type Targeted interface {
	TargetUser() string
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// PublishOrLog publishes an event and logs a failure instead of returning it.
// Notifications are never allowed to fail the operation that produced them.
func PublishOrLog(ctx context.Context, logger *slog.Logger, publisher EventPublisher, key string, event Event) {
	if publisher == nil {
		return
	}

	if err := publisher.Publish(ctx, key, event); err != nil {
		logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"key", key,
			"error", err,
		)
	}
}
