// Package manifest persists immutable, versioned fingerprint manifests.
package manifest

import (
	"context"
	"fmt"
	"sort"

	"github.com/yourusername/repro-backtest/internal/models"
)

// Store records and retrieves manifests. Stored manifests are never mutated;
// a correction is a new version.
type Store interface {
	// Record persists a new manifest with a fresh, sortable version id.
	Record(ctx context.Context, scopeRoots []string, records []models.FileRecord) (*models.Manifest, error)
	// Load returns a prior manifest or a *NotFoundError.
	Load(ctx context.Context, versionID string) (*models.Manifest, error)
	// Latest returns the most recent manifest or models.ErrEmptyStore.
	Latest(ctx context.Context) (*models.Manifest, error)
	// List returns all version ids in ascending order.
	List(ctx context.Context) ([]string, error)
	Close() error
}

// NotFoundError reports an unknown manifest version.
type NotFoundError struct {
	VersionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("manifest %q: %v", e.VersionID, models.ErrNotFound)
}

// Is matches models.ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == models.ErrNotFound }

// prepareRecords copies and sorts records by path, rejecting duplicates.
func prepareRecords(records []models.FileRecord) ([]models.FileRecord, error) {
	out := make([]models.FileRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RelativePath < out[j].RelativePath
	})
	for i := 1; i < len(out); i++ {
		if out[i].RelativePath == out[i-1].RelativePath {
			return nil, fmt.Errorf("%w: %s", models.ErrDuplicatePath, out[i].RelativePath)
		}
	}
	return out, nil
}

func cloneManifest(m *models.Manifest) *models.Manifest {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Records = append([]models.FileRecord(nil), m.Records...)
	clone.ScopeRoots = append([]string(nil), m.ScopeRoots...)
	return &clone
}
