package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/yourusername/repro-backtest/internal/models"
)

// MemoryResultStore keeps results in process memory.
type MemoryResultStore struct {
	mu      sync.RWMutex
	results map[models.ResultKey]*models.BacktestResult
}

// NewMemoryResultStore creates an empty store.
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: make(map[models.ResultKey]*models.BacktestResult)}
}

// Get returns a copy of the stored result.
func (s *MemoryResultStore) Get(ctx context.Context, key models.ResultKey) (*models.BacktestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneResult(r), nil
}

// Insert stores a new result.
func (s *MemoryResultStore) Insert(ctx context.Context, result *models.BacktestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := result.Key()
	if _, exists := s.results[key]; exists {
		return fmt.Errorf("%w: %s", models.ErrDuplicateKey, key)
	}
	s.results[key] = cloneResult(result)
	return nil
}

// Replace overwrites an existing result.
func (s *MemoryResultStore) Replace(ctx context.Context, result *models.BacktestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := result.Key()
	if _, exists := s.results[key]; !exists {
		return fmt.Errorf("%w: %s", models.ErrNotFound, key)
	}
	s.results[key] = cloneResult(result)
	return nil
}

// ListByManifest returns the results of one manifest version.
func (s *MemoryResultStore) ListByManifest(ctx context.Context, manifestVersion string) ([]*models.BacktestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.BacktestResult
	for key, r := range s.results {
		if key.ManifestVersion == manifestVersion {
			out = append(out, cloneResult(r))
		}
	}
	sortResults(out)
	return out, nil
}

// Close is a no-op.
func (s *MemoryResultStore) Close() error { return nil }
