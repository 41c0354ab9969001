package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/repro-backtest/internal/fingerprint"
	"github.com/yourusername/repro-backtest/internal/models"
)

const cleanCSV = `datetime,Open,High,Low,Close,Volume
2023-01-04,3,3,3,3,30
2023-01-02,1,1,1,1,10
2023-01-03,2,2,2,,20
2023-01-05,4,4,4,4,40
`

func writeSeries(t *testing.T, dir, rel, content string) models.DataSeries {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return models.DataSeries{
		Identifier:        strings.TrimSuffix(filepath.Base(rel), ".csv"),
		SourcePath:        rel,
		SourceFingerprint: fingerprint.DigestBytes([]byte(content)),
	}
}

func newTestLoader(dir string) *CSVSeriesLoader {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return NewCSVSeriesLoader(dir, time.Minute, log)
}

func TestParseOHLCVDropsIncompleteRowsAndSorts(t *testing.T) {
	bars, err := ParseOHLCV(strings.NewReader(cleanCSV))
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, 1.0, bars[0].Close)
	assert.Equal(t, 3.0, bars[1].Close)
	assert.Equal(t, 40.0, bars[2].Volume)
	assert.True(t, bars[0].Time.Before(bars[1].Time))
}

func TestParseOHLCVDateColumnDetection(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"Date", "Date,Open,High,Low,Close,Volume\n2023-01-02,1,1,1,1,1\n", 1},
		{"pandas index", ",Open,High,Low,Close,Volume\n2023-01-02 00:00:00,1,1,1,1,1\n", 1},
		{"Unnamed", "Unnamed: 0,open,high,low,close,volume\n2023-01-02,1,1,1,1,1\n", 1},
		{
			"yfinance Price header",
			"Price,Close,High,Low,Open,Volume\nTicker,MES=F,MES=F,MES=F,MES=F,MES=F\nDate,,,,,\n2023-01-02,1,1,1,1,1\n",
			1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars, err := ParseOHLCV(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Len(t, bars, tt.want)
		})
	}
}

func TestParseOHLCVRejectsMissingColumns(t *testing.T) {
	_, err := ParseOHLCV(strings.NewReader("when,Open,High,Low,Close,Volume\n"))
	assert.Error(t, err)

	_, err = ParseOHLCV(strings.NewReader("datetime,Open,High,Low,Close\n"))
	assert.Error(t, err)

	_, err = ParseOHLCV(strings.NewReader(""))
	assert.Error(t, err)
}

func TestCSVSeriesLoaderLoadAndClip(t *testing.T) {
	dir := t.TempDir()
	ds := writeSeries(t, dir, "data/mes.csv", cleanCSV)
	ds.TimeRange = models.TimeRange{
		Start: time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2023, 1, 4, 0, 0, 0, 0, time.UTC),
	}

	series, err := newTestLoader(dir).Load(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, "mes", series.Identifier)
	assert.Equal(t, ds.SourceFingerprint, series.Fingerprint)
	require.Len(t, series.Bars, 1)
	assert.Equal(t, 3.0, series.Bars[0].Close)
}

func TestCSVSeriesLoaderDetectsContentMismatch(t *testing.T) {
	dir := t.TempDir()
	ds := writeSeries(t, dir, "data/mes.csv", cleanCSV)
	loader := newTestLoader(dir)

	_, err := loader.Load(context.Background(), ds)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "mes.csv"), []byte(cleanCSV+"2023-01-06,5,5,5,5,50\n"), 0o644))
	_, err = loader.Load(context.Background(), ds)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrContentMismatch)
}

func TestCSVSeriesLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	loader := newTestLoader(dir)

	_, err := loader.Load(context.Background(), models.DataSeries{SourcePath: "data/absent.csv"})
	assert.ErrorIs(t, err, models.ErrIO)

	ds := writeSeries(t, dir, "data/bad.csv", "foo,bar\n1,2\n")
	_, err = loader.Load(context.Background(), ds)
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindData, KindOf(err))

	ds = writeSeries(t, dir, "data/mes.csv", cleanCSV)
	ds.TimeRange = models.TimeRange{Start: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	_, err = loader.Load(context.Background(), ds)
	var ee *EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, models.ErrorKindData, ee.Kind)
}
