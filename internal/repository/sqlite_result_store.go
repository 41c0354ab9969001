package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/yourusername/repro-backtest/internal/models"
)

// SQLiteSchema is the results table for the embedded store.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS backtest_results (
	strategy_fingerprint TEXT NOT NULL,
	data_fingerprint     TEXT NOT NULL,
	manifest_version     TEXT NOT NULL,
	strategy_id          TEXT NOT NULL,
	series_id            TEXT NOT NULL,
	metrics              TEXT NOT NULL,
	produced_at          TEXT NOT NULL,
	PRIMARY KEY (strategy_fingerprint, data_fingerprint, manifest_version)
);
CREATE INDEX IF NOT EXISTS backtest_results_manifest_idx ON backtest_results (manifest_version);
`

// SQLiteResultStore implements ResultStore on a local SQLite file.
type SQLiteResultStore struct {
	db *sql.DB
}

// NewSQLiteResultStore opens (or creates) the database at path.
func NewSQLiteResultStore(path string) (*SQLiteResultStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply results schema: %w", err)
	}
	return &SQLiteResultStore{db: db}, nil
}

// Get retrieves a result by key.
func (s *SQLiteResultStore) Get(ctx context.Context, key models.ResultKey) (*models.BacktestResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT strategy_fingerprint, data_fingerprint, manifest_version,
			strategy_id, series_id, metrics, produced_at
		FROM backtest_results
		WHERE strategy_fingerprint = ? AND data_fingerprint = ? AND manifest_version = ?`,
		key.StrategyFingerprint.String(), key.DataFingerprint.String(), key.ManifestVersion)
	result, err := scanSQLiteResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return result, err
}

// Insert stores a new result.
func (s *SQLiteResultStore) Insert(ctx context.Context, result *models.BacktestResult) error {
	metrics, err := encodeMetrics(result.Metrics)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_results (
			strategy_fingerprint, data_fingerprint, manifest_version,
			strategy_id, series_id, metrics, produced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.StrategyFingerprint.String(), result.DataFingerprint.String(), result.ManifestVersion,
		result.StrategyID, result.SeriesID, string(metrics), result.ProducedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
			return fmt.Errorf("%w: %s", models.ErrDuplicateKey, result.Key())
		}
		return fmt.Errorf("failed to save backtest result: %w", err)
	}
	return nil
}

// Replace overwrites the result stored under the same key.
func (s *SQLiteResultStore) Replace(ctx context.Context, result *models.BacktestResult) error {
	metrics, err := encodeMetrics(result.Metrics)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE backtest_results
		SET strategy_id = ?, series_id = ?, metrics = ?, produced_at = ?
		WHERE strategy_fingerprint = ? AND data_fingerprint = ? AND manifest_version = ?`,
		result.StrategyID, result.SeriesID, string(metrics), result.ProducedAt.UTC().Format(time.RFC3339Nano),
		result.StrategyFingerprint.String(), result.DataFingerprint.String(), result.ManifestVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to replace backtest result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", models.ErrNotFound, result.Key())
	}
	return nil
}

// ListByManifest retrieves results bound to a manifest version.
func (s *SQLiteResultStore) ListByManifest(ctx context.Context, manifestVersion string) ([]*models.BacktestResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy_fingerprint, data_fingerprint, manifest_version,
			strategy_id, series_id, metrics, produced_at
		FROM backtest_results WHERE manifest_version = ?
		ORDER BY strategy_id, series_id`, manifestVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest results: %w", err)
	}
	defer rows.Close()

	var results []*models.BacktestResult
	for rows.Next() {
		result, err := scanSQLiteResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// Close closes the database.
func (s *SQLiteResultStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteResult(row rowScanner) (*models.BacktestResult, error) {
	var (
		strategyFP, dataFP, metrics, producedAt string
		result                                  models.BacktestResult
	)
	if err := row.Scan(
		&strategyFP, &dataFP, &result.ManifestVersion,
		&result.StrategyID, &result.SeriesID, &metrics, &producedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf(errScanBacktestResult, err)
	}
	t, err := time.Parse(time.RFC3339Nano, producedAt)
	if err != nil {
		return nil, fmt.Errorf(errScanBacktestResult, err)
	}
	result.ProducedAt = t
	return fillResult(&result, strategyFP, dataFP, []byte(metrics))
}
