package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/yourusername/repro-backtest/internal/database"
	"github.com/yourusername/repro-backtest/internal/models"
)

const (
	errScanBacktestResult = "failed to scan backtest result: %w"
	pgUniqueViolation     = "23505"
)

// PostgresResultStore implements ResultStore for PostgreSQL
type PostgresResultStore struct {
	db     *database.DB
	ownsDB bool
}

// NewPostgresResultStore creates a result store on db. When ownsDB is set,
// Close also closes the pool.
func NewPostgresResultStore(db *database.DB, ownsDB bool) *PostgresResultStore {
	return &PostgresResultStore{db: db, ownsDB: ownsDB}
}

// Get retrieves a result by key
func (r *PostgresResultStore) Get(ctx context.Context, key models.ResultKey) (*models.BacktestResult, error) {
	query := `
		SELECT strategy_fingerprint, data_fingerprint, manifest_version,
			strategy_id, series_id, metrics, produced_at
		FROM backtest_results
		WHERE strategy_fingerprint = $1 AND data_fingerprint = $2 AND manifest_version = $3
	`
	result, err := scanPostgresResult(r.db.QueryRow(ctx, query,
		key.StrategyFingerprint.String(), key.DataFingerprint.String(), key.ManifestVersion))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Insert stores a new result
func (r *PostgresResultStore) Insert(ctx context.Context, result *models.BacktestResult) error {
	metrics, err := encodeMetrics(result.Metrics)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO backtest_results (
			strategy_fingerprint, data_fingerprint, manifest_version,
			strategy_id, series_id, metrics, produced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.Exec(ctx, query,
		result.StrategyFingerprint.String(), result.DataFingerprint.String(), result.ManifestVersion,
		result.StrategyID, result.SeriesID, string(metrics), result.ProducedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", models.ErrDuplicateKey, result.Key())
		}
		return fmt.Errorf("failed to save backtest result: %w", err)
	}
	return nil
}

// Replace overwrites the result stored under the same key
func (r *PostgresResultStore) Replace(ctx context.Context, result *models.BacktestResult) error {
	metrics, err := encodeMetrics(result.Metrics)
	if err != nil {
		return err
	}
	query := `
		UPDATE backtest_results
		SET strategy_id = $4, series_id = $5, metrics = $6, produced_at = $7
		WHERE strategy_fingerprint = $1 AND data_fingerprint = $2 AND manifest_version = $3
	`
	tag, err := r.db.Exec(ctx, query,
		result.StrategyFingerprint.String(), result.DataFingerprint.String(), result.ManifestVersion,
		result.StrategyID, result.SeriesID, string(metrics), result.ProducedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to replace backtest result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", models.ErrNotFound, result.Key())
	}
	return nil
}

// ListByManifest retrieves results bound to a manifest version
func (r *PostgresResultStore) ListByManifest(ctx context.Context, manifestVersion string) ([]*models.BacktestResult, error) {
	query := `
		SELECT strategy_fingerprint, data_fingerprint, manifest_version,
			strategy_id, series_id, metrics, produced_at
		FROM backtest_results WHERE manifest_version = $1
		ORDER BY strategy_id, series_id
	`
	rows, err := r.db.Query(ctx, query, manifestVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest results: %w", err)
	}
	defer rows.Close()

	var results []*models.BacktestResult
	for rows.Next() {
		result, err := scanPostgresResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// Close releases the pool when the store owns it.
func (r *PostgresResultStore) Close() error {
	if r.ownsDB {
		r.db.Close()
	}
	return nil
}

func scanPostgresResult(row pgx.Row) (*models.BacktestResult, error) {
	var (
		strategyFP, dataFP string
		metrics            []byte
		result             models.BacktestResult
	)
	if err := row.Scan(
		&strategyFP, &dataFP, &result.ManifestVersion,
		&result.StrategyID, &result.SeriesID, &metrics, &result.ProducedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf(errScanBacktestResult, err)
	}
	return fillResult(&result, strategyFP, dataFP, metrics)
}

func fillResult(result *models.BacktestResult, strategyFP, dataFP string, metrics []byte) (*models.BacktestResult, error) {
	var err error
	if result.StrategyFingerprint, err = models.ParseDigest(strategyFP); err != nil {
		return nil, fmt.Errorf(errScanBacktestResult, err)
	}
	if result.DataFingerprint, err = models.ParseDigest(dataFP); err != nil {
		return nil, fmt.Errorf(errScanBacktestResult, err)
	}
	if result.Metrics, err = decodeMetrics(metrics); err != nil {
		return nil, err
	}
	return result, nil
}
