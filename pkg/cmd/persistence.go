package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flowork/flowcore/pkg/config"
	"github.com/flowork/flowcore/pkg/persistence"
	"github.com/flowork/flowcore/pkg/persistence/postgresql"
	"github.com/flowork/flowcore/pkg/persistence/sqlite"
)

const (
	providerSQLite   = "sqlite"
	providerPostgres = "postgres"
)

// NewPersistence opens the store named by databaseURL and wraps it with contention retries.
// postgres:// and postgresql:// URLs select PostgreSQL; anything else is a SQLite file path.
func NewPersistence(ctx context.Context, databaseURL string, retry config.RetryConfig, logger *slog.Logger) (persistence.Store, error) {
	var (
		store    persistence.Store
		classify persistence.Classifier
		err      error
	)

	switch parsePersistenceProvider(databaseURL) {
	case providerPostgres:
		store, err = postgresql.NewPersistence(ctx, logger, databaseURL)
		classify = postgresql.IsContention
	default:
		store, err = sqlite.NewPersistence(ctx, logger, databaseURL)
		classify = sqlite.IsContention
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}

	return persistence.NewRetryingStore(store, RetryPolicy(retry, classify), logger), nil
}

// RetryPolicy builds the store retry policy from configuration, keeping defaults for unset values.
func RetryPolicy(retry config.RetryConfig, classify persistence.Classifier) persistence.RetryPolicy {
	policy := persistence.DefaultRetryPolicy(classify)

	if retry.MaxAttempts > 0 {
		policy.MaxAttempts = retry.MaxAttempts
	}

	if retry.BaseMin > 0 {
		policy.BaseMin = retry.BaseMin
	}

	if retry.BaseMax > 0 {
		policy.BaseMax = retry.BaseMax
	}

	return policy
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return providerSQLite
	}

	switch scheme {
	case "postgres", "postgresql":
		return providerPostgres
	default:
		return providerSQLite
	}
}
