package testutil

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowork/flowcore/pkg/persistence"
	"github.com/flowork/flowcore/pkg/persistence/sqlite"
	"github.com/stretchr/testify/require"
)

// FastRetryPolicy keeps contention retries short in tests.
func FastRetryPolicy() persistence.RetryPolicy {
	policy := persistence.DefaultRetryPolicy(sqlite.IsContention)
	policy.BaseMin = time.Millisecond
	policy.BaseMax = 5 * time.Millisecond

	return policy
}

// NewSQLiteStore opens a migrated SQLite store in a temporary directory, wrapped with contention retries.
func NewSQLiteStore(t *testing.T) persistence.Store {
	t.Helper()

	store, err := sqlite.NewPersistence(context.Background(), slog.Default(), filepath.Join(t.TempDir(), "flowcore.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return persistence.NewRetryingStore(store, FastRetryPolicy(), slog.Default())
}
