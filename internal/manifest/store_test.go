package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/repro-backtest/internal/models"
)

func sampleRecords() []models.FileRecord {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []models.FileRecord{
		{RelativePath: "src/b.yaml", Fingerprint: digestOf(2), Size: 20, RecordedAt: at},
		{RelativePath: "data/a.csv", Fingerprint: digestOf(1), Size: 10, RecordedAt: at},
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

// storeFactories lets every behavioural test run against both stores.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"file": func() Store {
			s, err := OpenFileStore(t.TempDir(), quietLogger())
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreRecordAndLoad(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory()
			defer store.Close()

			m, err := store.Record(ctx, []string{"src/", "data/"}, sampleRecords())
			require.NoError(t, err)
			require.NotEmpty(t, m.VersionID)
			require.Len(t, m.Records, 2)
			assert.Equal(t, "data/a.csv", m.Records[0].RelativePath)

			loaded, err := store.Load(ctx, m.VersionID)
			require.NoError(t, err)
			assert.Equal(t, m.VersionID, loaded.VersionID)
			assert.Equal(t, []string{"src/", "data/"}, loaded.ScopeRoots)
			require.Len(t, loaded.Records, 2)
			for i := range m.Records {
				assert.Equal(t, m.Records[i].RelativePath, loaded.Records[i].RelativePath)
				assert.Equal(t, m.Records[i].Fingerprint, loaded.Records[i].Fingerprint)
				assert.Equal(t, m.Records[i].Size, loaded.Records[i].Size)
				assert.True(t, m.Records[i].RecordedAt.Equal(loaded.Records[i].RecordedAt))
			}
		})
	}
}

func TestStoreVersionsAreOrdered(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory()

			var versions []string
			for i := 0; i < 5; i++ {
				m, err := store.Record(ctx, []string{"data/"}, sampleRecords())
				require.NoError(t, err)
				versions = append(versions, m.VersionID)
			}
			for i := 1; i < len(versions); i++ {
				assert.Less(t, versions[i-1], versions[i])
			}

			listed, err := store.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, versions, listed)

			latest, err := store.Latest(ctx)
			require.NoError(t, err)
			assert.Equal(t, versions[4], latest.VersionID)
		})
	}
}

func TestStoreEmptyAndUnknown(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory()

			_, err := store.Latest(ctx)
			assert.ErrorIs(t, err, models.ErrEmptyStore)

			_, err = store.Load(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV")
			assert.ErrorIs(t, err, models.ErrNotFound)
			var nf *NotFoundError
			assert.True(t, errors.As(err, &nf))
		})
	}
}

func TestStoreRejectsDuplicatePaths(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			records := append(sampleRecords(), models.FileRecord{RelativePath: "data/a.csv"})
			_, err := factory().Record(context.Background(), nil, records)
			assert.ErrorIs(t, err, models.ErrDuplicatePath)
		})
	}
}

func TestStoreLoadedManifestIsACopy(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory()
			m, err := store.Record(ctx, nil, sampleRecords())
			require.NoError(t, err)

			m.Records[0].RelativePath = "tampered"
			loaded, err := store.Load(ctx, m.VersionID)
			require.NoError(t, err)
			assert.Equal(t, "data/a.csv", loaded.Records[0].RelativePath)
		})
	}
}

func TestMemoryStoreConcurrentRecord(t *testing.T) {
	store := NewMemoryStore()
	var wg sync.WaitGroup
	versions := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := store.Record(context.Background(), nil, sampleRecords())
			if assert.NoError(t, err) {
				versions <- m.VersionID
			}
		}()
	}
	wg.Wait()
	close(versions)

	seen := make(map[string]bool)
	for v := range versions {
		assert.False(t, seen[v], "duplicate version %s", v)
		seen[v] = true
	}
	assert.Len(t, seen, 20)
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenFileStore(dir, quietLogger())
	require.NoError(t, err)

	m, err := store.Record(context.Background(), []string{"data/"}, sampleRecords())
	require.NoError(t, err)

	listing, err := os.ReadFile(filepath.Join(dir, m.VersionID+".sha256"))
	require.NoError(t, err)
	assert.Contains(t, string(listing), digestOf(1).String()+"  data/a.csv\n")
	assert.FileExists(t, filepath.Join(dir, m.VersionID+".meta.yaml"))
	assert.NoFileExists(t, filepath.Join(dir, ".lock"))
}

func TestFileStoreHeldLock(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenFileStore(dir, quietLogger())
	require.NoError(t, err)
	pid := []byte(strconv.Itoa(os.Getpid()) + "\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".lock"), pid, 0o644))

	_, err = store.Record(context.Background(), nil, sampleRecords())
	assert.ErrorIs(t, err, ErrStoreLocked)
	assert.Contains(t, err.Error(), "remove it if no build is running")
}

func TestFileStoreRecoversStaleLock(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenFileStore(dir, quietLogger())
	require.NoError(t, err)
	// Above the largest pid_max Linux allows, so no process can own it.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".lock"), []byte("4194305\n"), 0o644))

	m, err := store.Record(context.Background(), nil, sampleRecords())
	require.NoError(t, err)
	assert.NotEmpty(t, m.VersionID)
	assert.NoFileExists(t, filepath.Join(dir, ".lock"))
}

func TestFileStoreVersionsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := OpenFileStore(dir, quietLogger())
	require.NoError(t, err)
	m1, err := first.Record(ctx, nil, sampleRecords())
	require.NoError(t, err)

	second, err := OpenFileStore(dir, quietLogger())
	require.NoError(t, err)
	m2, err := second.Record(ctx, nil, sampleRecords())
	require.NoError(t, err)
	assert.Less(t, m1.VersionID, m2.VersionID)

	latest, err := second.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, m2.VersionID, latest.VersionID)
}

func TestFileStoreIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.sha256"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o644))

	store, err := OpenFileStore(dir, quietLogger())
	require.NoError(t, err)
	versions, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, versions)
}
