package drift

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/repro-backtest/internal/fingerprint"
	"github.com/yourusername/repro-backtest/internal/manifest"
	"github.com/yourusername/repro-backtest/internal/models"
)

type fixture struct {
	base     string
	fp       *fingerprint.Fingerprinter
	store    *manifest.MemoryStore
	log      *logrus.Logger
	manifest *models.Manifest
}

func write(t *testing.T, base, rel, content string) {
	t.Helper()
	p := filepath.Join(base, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// newFixture builds src/A="x" and data/B="y" and records a manifest of both.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	write(t, base, "src/A", "x")
	write(t, base, "data/B", "y")

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	fp := fingerprint.New(base, nil, log)
	store := manifest.NewMemoryStore()

	roots := []string{"src/", "data/"}
	records, err := fp.Scan(context.Background(), roots)
	require.NoError(t, err)
	m, err := store.Record(context.Background(), roots, records)
	require.NoError(t, err)

	return &fixture{base: base, fp: fp, store: store, log: log, manifest: m}
}

func (f *fixture) verifier(t *testing.T, policy Policy) *Verifier {
	t.Helper()
	v, err := NewVerifier(f.fp, policy, f.log)
	require.NoError(t, err)
	return v
}

func TestVerifyImmediatelyAfterRecordIsClean(t *testing.T) {
	f := newFixture(t)

	report, err := f.verifier(t, DefaultPolicy()).Gate(context.Background(), f.manifest)
	require.NoError(t, err)

	want := &models.DriftReport{
		ManifestVersion: f.manifest.VersionID,
		Unchanged:       []string{"data/B", "src/A"},
		Modified:        []string{},
		Added:           []string{},
		Missing:         []string{},
	}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Errorf("drift report mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, report.HasDrift())
}

func TestSingleByteChangeIsModified(t *testing.T) {
	f := newFixture(t)
	write(t, f.base, "src/A", "z")

	report, err := f.verifier(t, Policy{OnDrift: OnDriftWarn}).Verify(context.Background(), f.manifest)
	require.NoError(t, err)

	assert.Equal(t, []string{"src/A"}, report.Modified)
	assert.Equal(t, []string{"data/B"}, report.Unchanged)
	assert.Empty(t, report.Added)
	assert.Empty(t, report.Missing)
}

func TestPartitionClasses(t *testing.T) {
	f := newFixture(t)
	write(t, f.base, "src/A", "changed")
	write(t, f.base, "src/C", "new")
	require.NoError(t, os.Remove(filepath.Join(f.base, "data", "B")))

	report, err := f.verifier(t, Policy{OnDrift: OnDriftWarn}).Verify(context.Background(), f.manifest)
	require.NoError(t, err)

	want := &models.DriftReport{
		ManifestVersion: f.manifest.VersionID,
		Unchanged:       []string{},
		Modified:        []string{"src/A"},
		Added:           []string{"src/C"},
		Missing:         []string{"data/B"},
	}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Errorf("drift report mismatch (-want +got):\n%s", diff)
	}
}

func TestGatePolicies(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(t *testing.T, base string)
		policy     Policy
		wantErr    bool
		wantReport bool
	}{
		{
			name:       "fail blocks modification",
			mutate:     func(t *testing.T, base string) { write(t, base, "src/A", "z") },
			policy:     Policy{OnDrift: OnDriftFail},
			wantErr:    true,
			wantReport: true,
		},
		{
			name:       "fail tolerates added by default",
			mutate:     func(t *testing.T, base string) { write(t, base, "data/extra.csv", "1") },
			policy:     Policy{OnDrift: OnDriftFail},
			wantReport: true,
		},
		{
			name:       "fail on added when configured",
			mutate:     func(t *testing.T, base string) { write(t, base, "data/extra.csv", "1") },
			policy:     Policy{OnDrift: OnDriftFail, FailOnAdded: true},
			wantErr:    true,
			wantReport: true,
		},
		{
			name: "warn proceeds with report",
			mutate: func(t *testing.T, base string) {
				require.NoError(t, os.Remove(filepath.Join(base, "src", "A")))
			},
			policy:     Policy{OnDrift: OnDriftWarn},
			wantReport: true,
		},
		{
			name:   "ignore skips the scan",
			mutate: func(t *testing.T, base string) { write(t, base, "src/A", "z") },
			policy: Policy{OnDrift: OnDriftIgnore},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.mutate(t, f.base)

			report, err := f.verifier(t, tt.policy).Gate(context.Background(), f.manifest)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, models.ErrDriftDetected)
				var de *DriftError
				require.True(t, errors.As(err, &de))
				assert.Same(t, report, de.Report)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantReport, report != nil)
		})
	}
}

func TestVerifyPropagatesIOErrors(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	f := newFixture(t)
	locked := filepath.Join(f.base, "data", "B")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o644) })

	_, err := f.verifier(t, DefaultPolicy()).Verify(context.Background(), f.manifest)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrIO)
}

func TestDeletedRootIsReportedMissing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.RemoveAll(filepath.Join(f.base, "data")))

	report, err := f.verifier(t, Policy{OnDrift: OnDriftWarn}).Gate(context.Background(), f.manifest)
	require.NoError(t, err)
	want := &models.DriftReport{
		ManifestVersion: f.manifest.VersionID,
		Unchanged:       []string{"src/A"},
		Modified:        []string{},
		Added:           []string{},
		Missing:         []string{"data/B"},
	}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Errorf("drift report mismatch (-want +got):\n%s", diff)
	}

	report, err = f.verifier(t, DefaultPolicy()).Gate(context.Background(), f.manifest)
	assert.ErrorIs(t, err, models.ErrDriftDetected)
	require.NotNil(t, report)
	assert.Equal(t, []string{"data/B"}, report.Missing)
}

func TestNewVerifierRejectsUnknownPolicy(t *testing.T) {
	_, err := NewVerifier(nil, Policy{OnDrift: "panic"}, logrus.New())
	assert.Error(t, err)
}

func TestDriftErrorMessage(t *testing.T) {
	err := &DriftError{Report: &models.DriftReport{
		ManifestVersion: "v1",
		Modified:        []string{"a"},
		Missing:         []string{"b", "c"},
	}}
	assert.Contains(t, err.Error(), "1 modified")
	assert.Contains(t, err.Error(), "2 missing")
	assert.Contains(t, err.Error(), "v1")
}
