package recorder

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/repro-backtest/internal/manifest"
	"github.com/yourusername/repro-backtest/internal/models"
	"github.com/yourusername/repro-backtest/internal/repository"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func digestOf(s string) models.Digest {
	return models.Digest(sha256.Sum256([]byte(s)))
}

type fixture struct {
	manifests *manifest.MemoryStore
	store     *repository.MemoryResultStore
	recorder  *Recorder
	version   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	manifests := manifest.NewMemoryStore()
	m, err := manifests.Record(context.Background(), []string{"src", "data"}, []models.FileRecord{
		{RelativePath: "src/sma.yaml", Fingerprint: digestOf("strategy"), Size: 8},
		{RelativePath: "data/spy.csv", Fingerprint: digestOf("series"), Size: 6},
	})
	require.NoError(t, err)
	store := repository.NewMemoryResultStore()
	return &fixture{
		manifests: manifests,
		store:     store,
		recorder:  New(store, manifests, quietLogger()),
		version:   m.VersionID,
	}
}

func (f *fixture) result(sharpe float64) *models.BacktestResult {
	return &models.BacktestResult{
		StrategyFingerprint: digestOf("strategy"),
		DataFingerprint:     digestOf("series"),
		ManifestVersion:     f.version,
		StrategyID:          "sma",
		SeriesID:            "spy",
		Metrics:             map[string]float64{"sharpe": sharpe, "trades": 4},
		ProducedAt:          time.Now().UTC(),
	}
}

func TestRecord_InsertThenUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, err := f.recorder.Record(ctx, f.result(1.5), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)

	outcome, err = f.recorder.Record(ctx, f.result(1.5), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)

	stored, err := f.store.ListByManifest(ctx, f.version)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 1.5, stored[0].Metrics["sharpe"])
}

func TestRecord_NonDeterminism(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.recorder.Record(ctx, f.result(1.5), false)
	require.NoError(t, err)

	_, err = f.recorder.Record(ctx, f.result(2.0), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNonDeterminism)

	var nd *NonDeterminismError
	require.True(t, errors.As(err, &nd))
	assert.Equal(t, 1.5, nd.Previous["sharpe"])
	assert.Equal(t, 2.0, nd.Incoming["sharpe"])
	assert.Contains(t, err.Error(), "sharpe")

	got, err := f.store.Get(ctx, f.result(0).Key())
	require.NoError(t, err)
	assert.Equal(t, 1.5, got.Metrics["sharpe"])
}

func TestRecord_Overwrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.recorder.Record(ctx, f.result(1.5), false)
	require.NoError(t, err)

	outcome, err := f.recorder.Record(ctx, f.result(2.0), true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOverwritten, outcome)

	got, err := f.store.Get(ctx, f.result(0).Key())
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Metrics["sharpe"])
}

func TestRecord_Untrusted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(r *models.BacktestResult)
		want   string
	}{
		{"unknown strategy", func(r *models.BacktestResult) { r.StrategyFingerprint = digestOf("other") }, "strategy"},
		{"unknown data", func(r *models.BacktestResult) { r.DataFingerprint = digestOf("other") }, "data"},
		{"unknown manifest", func(r *models.BacktestResult) { r.ManifestVersion = "01ARZ3NDEKTSV4RRFFQ69G5FAV" }, "manifest"},
		{"empty manifest version", func(r *models.BacktestResult) { r.ManifestVersion = "" }, "manifest version is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := f.result(1)
			tt.mutate(r)
			_, err := f.recorder.Record(ctx, r, false)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrUntrustedResult)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	stored, err := f.store.ListByManifest(ctx, f.version)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRecord_RejectsNonFiniteMetrics(t *testing.T) {
	f := newFixture(t)
	r := f.result(math.NaN())
	_, err := f.recorder.Record(context.Background(), r, false)
	assert.Error(t, err)
}

func TestRecord_ConcurrentSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.recorder.Record(ctx, f.result(1.5), false)
			assert.NoError(t, err)
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[OutcomeInserted])
	assert.Equal(t, 15, outcomes[OutcomeUnchanged])
}

// racingStore reports a missing key once, then behaves like the memory store
// so Insert hits a duplicate written by another process.
type racingStore struct {
	*repository.MemoryResultStore
	once sync.Once
}

func (s *racingStore) Get(ctx context.Context, key models.ResultKey) (*models.BacktestResult, error) {
	missing := false
	s.once.Do(func() { missing = true })
	if missing {
		return nil, models.ErrNotFound
	}
	return s.MemoryResultStore.Get(ctx, key)
}

func TestRecord_DuplicateKeyFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Insert(ctx, f.result(1.5)))

	rec := New(&racingStore{MemoryResultStore: f.store}, f.manifests, quietLogger())
	outcome, err := rec.Record(ctx, f.result(1.5), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
}
