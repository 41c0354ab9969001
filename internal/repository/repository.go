// Package repository provides the result stores behind the recorder.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/yourusername/repro-backtest/internal/config"
	"github.com/yourusername/repro-backtest/internal/database"
	"github.com/yourusername/repro-backtest/internal/models"
)

// Result store drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// OpenResultStore opens the store selected by cfg.Results.Driver. Relative
// sqlite paths resolve against the pipeline base directory.
func OpenResultStore(ctx context.Context, cfg *config.Config) (ResultStore, error) {
	switch cfg.Results.Driver {
	case DriverMemory:
		return NewMemoryResultStore(), nil
	case DriverSQLite:
		path := cfg.Results.SQLitePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Pipeline.BaseDir, path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create results directory: %w", err)
		}
		return NewSQLiteResultStore(path)
	case DriverPostgres:
		db, err := database.Initialize(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewPostgresResultStore(db, true), nil
	default:
		return nil, fmt.Errorf("unknown results driver %q", cfg.Results.Driver)
	}
}

func encodeMetrics(m map[string]float64) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metrics: %w", err)
	}
	return data, nil
}

func decodeMetrics(data []byte) (map[string]float64, error) {
	m := map[string]float64{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode metrics: %w", err)
	}
	return m, nil
}

func sortResults(results []*models.BacktestResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].StrategyID != results[j].StrategyID {
			return results[i].StrategyID < results[j].StrategyID
		}
		return results[i].SeriesID < results[j].SeriesID
	})
}

func cloneResult(r *models.BacktestResult) *models.BacktestResult {
	clone := *r
	clone.Metrics = make(map[string]float64, len(r.Metrics))
	for k, v := range r.Metrics {
		clone.Metrics[k] = v
	}
	return &clone
}
