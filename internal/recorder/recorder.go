// Package recorder persists backtest results, enforcing that every result
// is bound to a known manifest and that a fingerprint triple never maps to
// two different metric sets.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/repro-backtest/internal/logger"
	"github.com/yourusername/repro-backtest/internal/metrics"
	"github.com/yourusername/repro-backtest/internal/models"
	"github.com/yourusername/repro-backtest/internal/repository"
)

// Outcome describes what Record did with a result.
type Outcome string

// Record outcomes
const (
	OutcomeInserted    Outcome = "inserted"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeOverwritten Outcome = "overwritten"
)

const (
	lockStripes      = 64
	manifestCacheTTL = 30 * time.Minute
)

// ManifestSource resolves manifest versions. manifest.Store satisfies it.
type ManifestSource interface {
	Load(ctx context.Context, versionID string) (*models.Manifest, error)
}

// Recorder writes results to a ResultStore.
type Recorder struct {
	store     repository.ResultStore
	manifests ManifestSource
	index     *cache.Cache
	locks     [lockStripes]sync.Mutex
	audit     *logger.AuditLogger
	logger    *logrus.Entry
}

// New creates a recorder over store, resolving manifests through manifests.
func New(store repository.ResultStore, manifests ManifestSource, log *logrus.Logger) *Recorder {
	return &Recorder{
		store:     store,
		manifests: manifests,
		index:     cache.New(manifestCacheTTL, 2*manifestCacheTTL),
		audit:     logger.NewAuditLogger(log),
		logger:    logger.Component(log, "recorder"),
	}
}

// Record stores result. A prior result under the same key with identical
// metrics makes this a no-op; differing metrics fail with
// NonDeterminismError unless overwrite is set.
func (r *Recorder) Record(ctx context.Context, result *models.BacktestResult, overwrite bool) (Outcome, error) {
	if result == nil {
		return "", errors.New("nil result")
	}
	if err := checkFinite(result.Metrics); err != nil {
		metrics.RecordResult("rejected")
		return "", err
	}
	if err := r.resolve(ctx, result); err != nil {
		metrics.RecordResult("rejected")
		return "", err
	}

	key := result.Key()
	mu := r.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	outcome, err := r.write(ctx, result, overwrite)
	if err != nil {
		var nd *NonDeterminismError
		if errors.As(err, &nd) {
			r.audit.LogNonDeterminism(key.String(), result.StrategyID, result.SeriesID, nd.Previous, nd.Incoming)
		}
		metrics.RecordResult("rejected")
		return "", err
	}
	metrics.RecordResult(string(outcome))
	r.logger.WithFields(logrus.Fields{
		"strategy_id":      result.StrategyID,
		"series_id":        result.SeriesID,
		"manifest_version": result.ManifestVersion,
		"outcome":          outcome,
	}).Debug("Result recorded")
	return outcome, nil
}

func (r *Recorder) write(ctx context.Context, result *models.BacktestResult, overwrite bool) (Outcome, error) {
	key := result.Key()
	prev, err := r.store.Get(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		err = r.store.Insert(ctx, result)
		if err == nil {
			return OutcomeInserted, nil
		}
		if !errors.Is(err, models.ErrDuplicateKey) {
			return "", err
		}
		// another writer sharing the store got there first
		prev, err = r.store.Get(ctx, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read stored result %s: %w", key, err)
	}

	if models.SameMetrics(prev.Metrics, result.Metrics) {
		return OutcomeUnchanged, nil
	}
	if !overwrite {
		return "", &NonDeterminismError{Key: key, Previous: prev.Metrics, Incoming: result.Metrics}
	}
	if err := r.store.Replace(ctx, result); err != nil {
		return "", err
	}
	r.audit.LogResultOverwrite(key.String(), result.StrategyID, result.SeriesID, prev.Metrics, result.Metrics)
	return OutcomeOverwritten, nil
}

// resolve checks that both fingerprints belong to the named manifest.
func (r *Recorder) resolve(ctx context.Context, result *models.BacktestResult) error {
	key := result.Key()
	if result.ManifestVersion == "" {
		unresolved := []string{"manifest version is empty"}
		r.audit.LogUntrustedResult(key.String(), "", unresolved)
		return &UntrustedResultError{Key: key, Unresolved: unresolved}
	}
	fps, err := r.fingerprints(ctx, result.ManifestVersion)
	if errors.Is(err, models.ErrNotFound) {
		unresolved := []string{"manifest " + result.ManifestVersion}
		r.audit.LogUntrustedResult(key.String(), result.ManifestVersion, unresolved)
		return &UntrustedResultError{Key: key, Unresolved: unresolved}
	}
	if err != nil {
		return err
	}

	var unresolved []string
	if _, ok := fps[result.StrategyFingerprint]; !ok {
		unresolved = append(unresolved, "strategy "+result.StrategyFingerprint.String())
	}
	if _, ok := fps[result.DataFingerprint]; !ok {
		unresolved = append(unresolved, "data "+result.DataFingerprint.String())
	}
	if len(unresolved) > 0 {
		r.audit.LogUntrustedResult(key.String(), result.ManifestVersion, unresolved)
		return &UntrustedResultError{Key: key, Unresolved: unresolved}
	}
	return nil
}

func (r *Recorder) fingerprints(ctx context.Context, version string) (map[models.Digest]struct{}, error) {
	if cached, ok := r.index.Get(version); ok {
		return cached.(map[models.Digest]struct{}), nil
	}
	m, err := r.manifests.Load(ctx, version)
	if err != nil {
		return nil, err
	}
	fps := m.Fingerprints()
	r.index.SetDefault(version, fps)
	return fps, nil
}

func (r *Recorder) lockFor(key models.ResultKey) *sync.Mutex {
	h := fnv.New32a()
	h.Write(key.StrategyFingerprint[:])
	h.Write(key.DataFingerprint[:])
	h.Write([]byte(key.ManifestVersion))
	return &r.locks[h.Sum32()%lockStripes]
}

func checkFinite(m map[string]float64) error {
	for name, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("metric %q is not finite", name)
		}
	}
	return nil
}
