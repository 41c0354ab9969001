package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/yourusername/repro-backtest/internal/id"
	"github.com/yourusername/repro-backtest/internal/logger"
	"github.com/yourusername/repro-backtest/internal/metrics"
	"github.com/yourusername/repro-backtest/internal/models"
)

const (
	listingSuffix = ".sha256"
	metaSuffix    = ".meta.yaml"
	lockName      = ".lock"
)

// ErrStoreLocked reports that another build holds the version allocation lock.
var ErrStoreLocked = errors.New("manifest store is locked by another build")

// metaFile is the sidecar holding what the flat listing cannot carry.
type metaFile struct {
	VersionID  string         `yaml:"version_id"`
	CreatedAt  time.Time      `yaml:"created_at"`
	ScopeRoots []string       `yaml:"scope_roots"`
	Files      []metaFileInfo `yaml:"files"`
}

type metaFileInfo struct {
	Path       string    `yaml:"path"`
	Size       int64     `yaml:"size"`
	RecordedAt time.Time `yaml:"recorded_at"`
}

// FileStore keeps each manifest as <dir>/<version>.sha256 plus a
// <version>.meta.yaml sidecar.
//
// Writes go through a temp file, fsync and rename; a version's files are
// never rewritten once present.
type FileStore struct {
	dir    string
	gen    *id.Generator
	logger *logrus.Entry
	now    func() time.Time
}

// OpenFileStore opens (creating if needed) a store rooted at dir.
func OpenFileStore(dir string, log *logrus.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("manifest store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create manifest store: %w", err)
	}
	return &FileStore{
		dir:    dir,
		gen:    id.NewGenerator(),
		logger: logger.Component(log, "manifest"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

// Record persists a new manifest version. The version slot is allocated under
// an exclusive lock file so that concurrent builds cannot race on it.
func (s *FileStore) Record(ctx context.Context, scopeRoots []string, records []models.FileRecord) (*models.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sorted, err := prepareRecords(records)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	versions, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	floor := ""
	if len(versions) > 0 {
		floor = versions[len(versions)-1]
	}
	version, err := s.gen.NewAfter(floor)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate manifest version: %w", err)
	}

	m := &models.Manifest{
		VersionID:  version,
		CreatedAt:  s.now(),
		Records:    sorted,
		ScopeRoots: append([]string(nil), scopeRoots...),
	}

	var listing bytes.Buffer
	if err := Encode(&listing, m.Records); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	meta, err := yaml.Marshal(toMeta(m))
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest metadata: %w", err)
	}

	// Metadata first: a listing without its sidecar would be visible to List.
	if err := writeFileAtomic(s.metaPath(version), meta); err != nil {
		return nil, err
	}
	if err := writeFileAtomic(s.listingPath(version), listing.Bytes()); err != nil {
		_ = os.Remove(s.metaPath(version))
		return nil, err
	}

	metrics.RecordManifest(len(m.Records))
	s.logger.WithFields(logrus.Fields{
		"manifest_version": version,
		"records":          len(m.Records),
	}).Info("Manifest written")

	return cloneManifest(m), nil
}

// Load reads a manifest by version id.
func (s *FileStore) Load(ctx context.Context, versionID string) (*models.Manifest, error) {
	if !id.Valid(versionID) {
		return nil, &NotFoundError{VersionID: versionID}
	}
	listingData, err := os.ReadFile(s.listingPath(versionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{VersionID: versionID}
		}
		return nil, fmt.Errorf("failed to read manifest %s: %w", versionID, err)
	}
	entries, err := Decode(bytes.NewReader(listingData))
	if err != nil {
		return nil, fmt.Errorf("corrupt manifest %s: %w", versionID, err)
	}

	metaData, err := os.ReadFile(s.metaPath(versionID))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest metadata %s: %w", versionID, err)
	}
	var meta metaFile
	if err := yaml.Unmarshal(metaData, &meta); err != nil {
		return nil, fmt.Errorf("corrupt manifest metadata %s: %w", versionID, err)
	}

	info := make(map[string]metaFileInfo, len(meta.Files))
	for _, f := range meta.Files {
		info[f.Path] = f
	}

	records := make([]models.FileRecord, 0, len(entries))
	for _, e := range entries {
		fi, ok := info[e.RelativePath]
		if !ok {
			return nil, fmt.Errorf("corrupt manifest %s: no metadata for %s", versionID, e.RelativePath)
		}
		records = append(records, models.FileRecord{
			RelativePath: e.RelativePath,
			Fingerprint:  e.Fingerprint,
			Size:         fi.Size,
			RecordedAt:   fi.RecordedAt,
		})
	}

	m := &models.Manifest{
		VersionID:  versionID,
		CreatedAt:  meta.CreatedAt,
		Records:    records,
		ScopeRoots: meta.ScopeRoots,
	}
	metrics.ManifestRecords.Set(float64(len(records)))
	return m, nil
}

// Latest returns the manifest with the greatest version id.
func (s *FileStore) Latest(ctx context.Context) (*models.Manifest, error) {
	versions, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, models.ErrEmptyStore
	}
	return s.Load(ctx, versions[len(versions)-1])
}

// List returns all stored version ids in ascending order.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list manifest store: %w", err)
	}
	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), listingSuffix) {
			continue
		}
		version := strings.TrimSuffix(e.Name(), listingSuffix)
		if !id.Valid(version) {
			continue
		}
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions, nil
}

// ListingPath returns the path of the flat listing for a version.
func (s *FileStore) ListingPath(versionID string) string {
	return s.listingPath(versionID)
}

// Close releases nothing; the store holds no open handles between calls.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) listingPath(version string) string {
	return filepath.Join(s.dir, version+listingSuffix)
}

func (s *FileStore) metaPath(version string) string {
	return filepath.Join(s.dir, version+metaSuffix)
}

// lock takes the version allocation lock. A lock left behind by a process
// that no longer exists is removed and the acquisition retried once.
func (s *FileStore) lock() (func(), error) {
	lockPath := filepath.Join(s.dir, lockName)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil && os.IsExist(err) {
		pid, alive := lockOwner(lockPath)
		if alive {
			return nil, fmt.Errorf("%w (%s held by pid %d; remove it if no build is running)", ErrStoreLocked, lockPath, pid)
		}
		s.logger.WithFields(logrus.Fields{"path": lockPath, "pid": pid}).Warn("Removing stale manifest lock")
		if rmErr := os.Remove(lockPath); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("failed to remove stale manifest lock: %w", rmErr)
		}
		f, err = os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	}
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w (%s)", ErrStoreLocked, lockPath)
		}
		return nil, fmt.Errorf("failed to acquire manifest lock: %w", err)
	}
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()
	return func() {
		if err := os.Remove(lockPath); err != nil {
			s.logger.WithError(err).Warn("Failed to release manifest lock")
		}
	}, nil
}

// lockOwner reads the pid recorded in a lock file and reports whether that
// process may still be running. Unreadable or foreign lock contents count as
// held.
func lockOwner(lockPath string) (int, bool) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, true
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	err = proc.Signal(syscall.Signal(0))
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
		return pid, false
	}
	return pid, true
}

func toMeta(m *models.Manifest) metaFile {
	files := make([]metaFileInfo, 0, len(m.Records))
	for _, rec := range m.Records {
		files = append(files, metaFileInfo{
			Path:       rec.RelativePath,
			Size:       rec.Size,
			RecordedAt: rec.RecordedAt,
		})
	}
	return metaFile{
		VersionID:  m.VersionID,
		CreatedAt:  m.CreatedAt,
		ScopeRoots: m.ScopeRoots,
		Files:      files,
	}
}

// writeFileAtomic writes data to path via temp file, fsync, rename and a
// directory sync. An existing path is never replaced.
func writeFileAtomic(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite %s", path)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to commit %s: %w", path, err)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
