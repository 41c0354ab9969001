package manifest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yourusername/repro-backtest/internal/id"
	"github.com/yourusername/repro-backtest/internal/models"
)

// MemoryStore keeps manifests in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	manifests map[string]*models.Manifest
	gen       *id.Generator
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		manifests: make(map[string]*models.Manifest),
		gen:       id.NewGenerator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Record stores a new manifest version.
func (s *MemoryStore) Record(ctx context.Context, scopeRoots []string, records []models.FileRecord) (*models.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sorted, err := prepareRecords(records)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.gen.NewAfter(s.latestVersionLocked())
	if err != nil {
		return nil, err
	}
	m := &models.Manifest{
		VersionID:  version,
		CreatedAt:  s.now(),
		Records:    sorted,
		ScopeRoots: append([]string(nil), scopeRoots...),
	}
	s.manifests[version] = m
	return cloneManifest(m), nil
}

// Load returns a stored manifest.
func (s *MemoryStore) Load(ctx context.Context, versionID string) (*models.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manifests[versionID]
	if !ok {
		return nil, &NotFoundError{VersionID: versionID}
	}
	return cloneManifest(m), nil
}

// Latest returns the most recent manifest.
func (s *MemoryStore) Latest(ctx context.Context) (*models.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := s.latestVersionLocked()
	if latest == "" {
		return nil, models.ErrEmptyStore
	}
	return cloneManifest(s.manifests[latest]), nil
}

// List returns all versions in ascending order.
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := make([]string, 0, len(s.manifests))
	for v := range s.manifests {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) latestVersionLocked() string {
	latest := ""
	for v := range s.manifests {
		if v > latest {
			latest = v
		}
	}
	return latest
}
