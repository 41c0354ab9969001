package fingerprint

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/repro-backtest/internal/logger"
	"github.com/yourusername/repro-backtest/internal/metrics"
	"github.com/yourusername/repro-backtest/internal/models"
)

// Fingerprinter hashes the regular files beneath a set of roots.
type Fingerprinter struct {
	// BaseDir anchors scope roots and the relative paths of records.
	BaseDir string
	// Exclude holds slash glob patterns matched against relative paths and
	// each of their parent directories.
	Exclude []string

	logger *logrus.Entry
	now    func() time.Time
}

// New creates a Fingerprinter rooted at baseDir.
func New(baseDir string, exclude []string, log *logrus.Logger) *Fingerprinter {
	if baseDir == "" {
		baseDir = "."
	}
	return &Fingerprinter{
		BaseDir: baseDir,
		Exclude: exclude,
		logger:  logger.Component(log, "fingerprint"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Scan enumerates and hashes every regular file beneath roots.
//
// Records are returned sorted by relative path with no duplicates, even when
// roots overlap. Any stat or read failure aborts the scan with an *IOError.
func (f *Fingerprinter) Scan(ctx context.Context, roots []string) ([]models.FileRecord, error) {
	return f.scan(ctx, roots, false)
}

// Rescan is Scan for verification: a root that no longer exists contributes
// no records, so everything recorded beneath it shows up as missing. Other
// failures still abort with an *IOError.
func (f *Fingerprinter) Rescan(ctx context.Context, roots []string) ([]models.FileRecord, error) {
	return f.scan(ctx, roots, true)
}

func (f *Fingerprinter) scan(ctx context.Context, roots []string, allowMissingRoots bool) ([]models.FileRecord, error) {
	start := time.Now()

	paths, err := f.enumerate(ctx, roots, allowMissingRoots)
	if err != nil {
		return nil, err
	}

	records := make([]models.FileRecord, 0, len(paths))
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		digest, size, err := DigestFile(f.abs(rel))
		if err != nil {
			return nil, err
		}
		records = append(records, models.FileRecord{
			RelativePath: rel,
			Fingerprint:  digest,
			Size:         size,
			RecordedAt:   f.now(),
		})
		metrics.RecordFileFingerprinted(size)
	}

	elapsed := time.Since(start)
	metrics.RecordScanDuration(elapsed.Seconds())
	f.logger.WithFields(logrus.Fields{
		"roots":       roots,
		"files":       len(records),
		"duration_ms": elapsed.Milliseconds(),
	}).Debug("Fingerprint scan completed")

	return records, nil
}

// Enumerate lists the sorted, de-duplicated relative paths of all regular
// files beneath roots without hashing them.
func (f *Fingerprinter) Enumerate(ctx context.Context, roots []string) ([]string, error) {
	return f.enumerate(ctx, roots, false)
}

func (f *Fingerprinter) enumerate(ctx context.Context, roots []string, allowMissingRoots bool) ([]string, error) {
	seen := make(map[string]struct{})
	for _, root := range roots {
		rootRel := NormalizeRoot(root)
		rootAbs := f.abs(rootRel)
		if _, err := os.Stat(rootAbs); err != nil {
			if allowMissingRoots && errors.Is(err, fs.ErrNotExist) {
				f.logger.WithField("root", rootRel).Warn("Scope root no longer exists")
				continue
			}
			return nil, &IOError{Path: rootRel, Op: "stat", Err: err}
		}
		walkErr := filepath.WalkDir(rootAbs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return &IOError{Path: f.rel(p), Op: "walk", Err: err}
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			rel := f.rel(p)
			if d.IsDir() {
				if rel != "." && f.excluded(rel) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if f.excluded(rel) {
				return nil
			}
			seen[rel] = struct{}{}
			return nil
		})
		if walkErr != nil {
			return nil, walkErr
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// Abs resolves a record's relative path against BaseDir.
func (f *Fingerprinter) Abs(rel string) string {
	return f.abs(rel)
}

func (f *Fingerprinter) abs(rel string) string {
	return filepath.Join(f.BaseDir, filepath.FromSlash(rel))
}

func (f *Fingerprinter) rel(p string) string {
	r, err := filepath.Rel(f.BaseDir, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(r)
}

func (f *Fingerprinter) excluded(rel string) bool {
	if len(f.Exclude) == 0 {
		return false
	}
	for candidate := rel; candidate != "." && candidate != "/" && candidate != ""; candidate = path.Dir(candidate) {
		for _, pattern := range f.Exclude {
			pattern = strings.TrimSuffix(pattern, "/")
			if ok, _ := path.Match(pattern, candidate); ok {
				return true
			}
		}
	}
	return false
}

// NormalizeRoot converts a scope root like "src/" or "./data" to its clean
// slash form ("src", "data").
func NormalizeRoot(root string) string {
	cleaned := path.Clean(filepath.ToSlash(root))
	if cleaned == "" {
		return "."
	}
	return cleaned
}

// DigestFile hashes the bytes of the file at p.
func DigestFile(p string) (models.Digest, int64, error) {
	var digest models.Digest
	file, err := os.Open(p)
	if err != nil {
		return digest, 0, &IOError{Path: filepath.ToSlash(p), Op: "open", Err: err}
	}
	defer file.Close()

	h := sha256.New()
	n, err := io.Copy(h, file)
	if err != nil {
		return digest, 0, &IOError{Path: filepath.ToSlash(p), Op: "read", Err: err}
	}
	copy(digest[:], h.Sum(nil))
	return digest, n, nil
}

// DigestBytes hashes an in-memory buffer.
func DigestBytes(b []byte) models.Digest {
	return models.Digest(sha256.Sum256(b))
}
