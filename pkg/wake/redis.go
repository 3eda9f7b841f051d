package wake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultRedisKey names the key and channel used when none is configured.
const DefaultRedisKey = "flowcore:wake"

// Redis is a Signal shared by every process connected to the same Redis server.
// The key holds the level; a publish on the channel of the same name wakes waiters.
// One subscription is opened on the first Wait and kept until Close.
type Redis struct {
	client redis.UniversalClient
	key    string
	logger *slog.Logger

	mu     sync.Mutex
	sub    *redis.PubSub
	notify chan struct{}
	closed bool
}

func NewRedis(client redis.UniversalClient, key string, logger *slog.Logger) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}

	return &Redis{
		client: client,
		key:    key,
		logger: logger.With("module", "wake_signal", "key", key),
		notify: make(chan struct{}),
	}
}

// Connect creates a Redis client from a URL such as redis://localhost:6379/0 and verifies it.
func Connect(ctx context.Context, url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func (r *Redis) Set(ctx context.Context) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key, 1, 0)
		pipe.Publish(ctx, r.key, 1)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to raise wake signal: %w", err)
	}

	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to clear wake signal: %w", err)
	}

	return nil
}

func (r *Redis) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	// The notify channel is taken before reading the level so a Set between the two is not lost.
	notify, err := r.subscribe(ctx)
	if err != nil {
		return false, err
	}

	raised, err := r.client.Exists(ctx, r.key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read wake signal: %w", err)
	}

	if raised > 0 {
		return true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-notify:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Close drops the subscription. Waiting afterwards fails; the client stays open.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true

	if r.sub == nil {
		return nil
	}

	if err := r.sub.Close(); err != nil {
		return fmt.Errorf("failed to close wake subscription: %w", err)
	}

	return nil
}

// subscribe opens the shared subscription on first use and returns the channel
// closed by the next publish.
func (r *Redis) subscribe(ctx context.Context) (<-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.New("wake signal is closed")
	}

	if r.sub == nil {
		// The subscription outlives the first waiter, so it must not inherit its context.
		sub := r.client.Subscribe(context.WithoutCancel(ctx), r.key)

		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()

			return nil, fmt.Errorf("failed to subscribe to wake signal: %w", err)
		}

		r.sub = sub

		go r.listen(sub.Channel())
	}

	return r.notify, nil
}

// listen releases every current waiter on each publish until the subscription is closed.
func (r *Redis) listen(messages <-chan *redis.Message) {
	for range messages {
		r.mu.Lock()
		close(r.notify)
		r.notify = make(chan struct{})
		r.mu.Unlock()
	}

	r.logger.Debug("Wake subscription closed")
}
