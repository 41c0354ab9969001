package repository

import (
	"context"

	"github.com/yourusername/repro-backtest/internal/models"
)

// ResultStore persists backtest results keyed by their fingerprint triple.
// Implementations enforce key uniqueness natively.
type ResultStore interface {
	// Get returns the result stored under key or models.ErrNotFound.
	Get(ctx context.Context, key models.ResultKey) (*models.BacktestResult, error)
	// Insert stores a new result; an existing key yields models.ErrDuplicateKey.
	Insert(ctx context.Context, result *models.BacktestResult) error
	// Replace overwrites the result stored under the same key; a missing key
	// yields models.ErrNotFound.
	Replace(ctx context.Context, result *models.BacktestResult) error
	// ListByManifest returns results bound to a manifest version, ordered by
	// strategy id then series id.
	ListByManifest(ctx context.Context, manifestVersion string) ([]*models.BacktestResult, error)
	Close() error
}
