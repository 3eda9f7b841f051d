// Package sqlite provides the SQLite job store, the default backend for single-host deployments.
//
// Every transaction is opened with BEGIN IMMEDIATE so that the claim query and the
// status update it guards run under the database write lock.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/flowork/flowcore/pkg/persistence/sqlbase"
	"github.com/mattn/go-sqlite3"
)

const busyTimeoutMillis = "5000"

// DSN builds the connection string for a database file. Pragmas travel in the DSN so that
// every pooled connection gets them.
func DSN(path string) string {
	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_busy_timeout", busyTimeoutMillis)
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")

	path = strings.TrimPrefix(path, "sqlite://")

	return "file:" + path + "?" + params.Encode()
}

// NewPersistence opens (creating if needed) the database file and migrates it.
func NewPersistence(ctx context.Context, logger *slog.Logger, path string, opts ...sqlbase.Option) (*sqlbase.Store, error) {
	database, err := sql.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite allows a single writer; one connection per process keeps writers queued in Go.
	database.SetMaxOpenConns(1)
	database.SetMaxIdleConns(1)

	migrationManager := sqlbase.NewMigrationManager(logger, database, sqlbase.SQLite, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return sqlbase.NewStore(database, sqlbase.SQLite, logger.With("module", "sqlite_store"), opts...), nil
}

// IsContention classifies SQLITE_BUSY and SQLITE_LOCKED as retryable.
func IsContention(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}
