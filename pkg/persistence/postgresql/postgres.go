// Package postgresql provides the PostgreSQL job store for multi-host worker fleets.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowork/flowcore/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

// SQLSTATE codes treated as transient contention.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// NewPersistence connects to PostgreSQL, runs migrations and returns the job store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, opts ...sqlbase.Option) (*sqlbase.Store, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, sqlbase.Postgres, migrations())

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return sqlbase.NewStore(database, sqlbase.Postgres, logger.With("module", "postgres_store"), opts...), nil
}

// IsContention classifies serialization failures, deadlocks and lock timeouts as retryable.
func IsContention(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	switch pqErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	default:
		return false
	}
}
