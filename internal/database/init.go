package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/yourusername/repro-backtest/internal/config"
)

// resultsSchema creates the backtest results table. The primary key is the
// result's fingerprint triple, so the database itself rejects a second row
// for the same key.
const resultsSchema = `
CREATE TABLE IF NOT EXISTS backtest_results (
	strategy_fingerprint CHAR(64)    NOT NULL,
	data_fingerprint     CHAR(64)    NOT NULL,
	manifest_version     TEXT        NOT NULL,
	strategy_id          TEXT        NOT NULL,
	series_id            TEXT        NOT NULL,
	metrics              JSONB       NOT NULL,
	produced_at          TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (strategy_fingerprint, data_fingerprint, manifest_version)
);
CREATE INDEX IF NOT EXISTS backtest_results_manifest_idx ON backtest_results (manifest_version);
`

// Initialize creates a connection pool and applies the results schema.
func Initialize(ctx context.Context, cfg *config.Config) (*DB, error) {
	db, err := NewDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the schema idempotently in a single transaction.
func Migrate(ctx context.Context, db *DB) error {
	return db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, resultsSchema); err != nil {
			return fmt.Errorf("failed to apply results schema: %w", err)
		}
		return nil
	})
}
