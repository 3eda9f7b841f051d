package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowork/flowcore/pkg/wake"
)

// NewWakeSignal creates the wake signal. "local" only reaches workers of this process,
// "redis" reaches every process sharing the Redis server. The returned function releases it.
func NewWakeSignal(ctx context.Context, kind, redisURL string, logger *slog.Logger) (wake.Signal, func() error, error) {
	switch kind {
	case "", "local":
		return wake.NewLocal(), func() error { return nil }, nil
	case "redis":
		client, err := wake.Connect(ctx, redisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect wake signal to Redis: %w", err)
		}

		signal := wake.NewRedis(client, wake.DefaultRedisKey, logger)

		return signal, func() error { return errors.Join(signal.Close(), client.Close()) }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported wake signal: %s", kind)
	}
}
