package wake

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) redis.UniversalClient {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := Connect(ctx, fmt.Sprintf("redis://%s:%s/0", host, port.Port()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestRedis_Signal(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	producer := NewRedis(client, "test:wake", slog.Default())
	consumer := NewRedis(client, "test:wake", slog.Default())
	t.Cleanup(func() { _ = consumer.Close() })

	raised, err := consumer.Wait(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, raised)

	require.NoError(t, producer.Set(ctx))

	raised, err = consumer.Wait(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, raised, "a raised signal is observed without a new publish")

	require.NoError(t, consumer.Clear(ctx))

	done := make(chan bool, 1)

	go func() {
		raised, err := consumer.Wait(ctx, 5*time.Second)
		assert.NoError(t, err)
		done <- raised
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, producer.Set(ctx))

	select {
	case raised := <-done:
		assert.True(t, raised)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestRedis_IdleWaitsShareOneSubscription(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	signal := NewRedis(client, "test:shared", slog.Default())

	for range 3 {
		raised, err := signal.Wait(ctx, 20*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, raised)
	}

	subscribers, err := client.PubSubNumSub(ctx, "test:shared").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), subscribers["test:shared"])

	const waiters = 3

	woken := make(chan bool, waiters)

	for range waiters {
		go func() {
			raised, err := signal.Wait(ctx, 5*time.Second)
			assert.NoError(t, err)
			woken <- raised
		}()
	}

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, NewRedis(client, "test:shared", slog.Default()).Set(ctx))

	for range waiters {
		select {
		case raised := <-woken:
			assert.True(t, raised)
		case <-time.After(5 * time.Second):
			t.Fatal("a waiter was not woken")
		}
	}

	require.NoError(t, signal.Close())
	require.NoError(t, signal.Close())

	_, err = signal.Wait(ctx, time.Millisecond)
	require.Error(t, err)

	assert.Eventually(t, func() bool {
		subscribers, err := client.PubSubNumSub(ctx, "test:shared").Result()

		return err == nil && subscribers["test:shared"] == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestConnect_InvalidURL(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), "not a url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis url")
}
