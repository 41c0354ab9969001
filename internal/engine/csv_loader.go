package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/repro-backtest/internal/fingerprint"
	"github.com/yourusername/repro-backtest/internal/logger"
	"github.com/yourusername/repro-backtest/internal/models"
)

// dateColumns are tried in order to locate the timestamp column.
var dateColumns = []string{"datetime", "Date", "Unnamed: 0", "", "Price"}

var ohlcvColumns = []string{"open", "high", "low", "close", "volume"}

var timeLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05-07:00",
	time.RFC3339,
	time.RFC3339Nano,
	"2006/01/02",
}

// CSVSeriesLoader reads OHLCV CSV files beneath a base directory. Parsed bars
// are cached per content fingerprint, but the file is re-read and re-hashed
// on every load so a changed file can never be served from cache.
type CSVSeriesLoader struct {
	baseDir string
	cache   *cache.Cache
	logger  *logrus.Entry
}

// NewCSVSeriesLoader creates a loader. ttl bounds how long parsed series stay
// cached.
func NewCSVSeriesLoader(baseDir string, ttl time.Duration, log *logrus.Logger) *CSVSeriesLoader {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CSVSeriesLoader{
		baseDir: baseDir,
		cache:   cache.New(ttl, 2*ttl),
		logger:  logger.Component(log, "loader"),
	}
}

// Load reads, verifies, parses and clips a series.
//
// A digest mismatch returns an error wrapping models.ErrContentMismatch.
// Unparseable content returns an *EngineError of kind data.
func (l *CSVSeriesLoader) Load(ctx context.Context, ds models.DataSeries) (PriceSeries, error) {
	if err := ctx.Err(); err != nil {
		return PriceSeries{}, err
	}

	full := filepath.Join(l.baseDir, filepath.FromSlash(ds.SourcePath))
	data, err := os.ReadFile(full)
	if err != nil {
		return PriceSeries{}, &fingerprint.IOError{Path: ds.SourcePath, Op: "read", Err: err}
	}
	digest := fingerprint.DigestBytes(data)
	if digest != ds.SourceFingerprint {
		return PriceSeries{}, fmt.Errorf("%w: %s is %s, expected %s",
			models.ErrContentMismatch, ds.SourcePath, digest.Short(), ds.SourceFingerprint.Short())
	}

	var bars []Bar
	if cached, ok := l.cache.Get(digest.String()); ok {
		bars = cached.([]Bar)
	} else {
		bars, err = ParseOHLCV(bytes.NewReader(data))
		if err != nil {
			return PriceSeries{}, &EngineError{Kind: models.ErrorKindData, Message: ds.SourcePath, Err: err}
		}
		l.cache.SetDefault(digest.String(), bars)
		l.logger.WithFields(logrus.Fields{
			"series": ds.Identifier,
			"bars":   len(bars),
		}).Debug("Parsed price series")
	}

	clipped := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if ds.TimeRange.Contains(b.Time) {
			clipped = append(clipped, b)
		}
	}
	if len(clipped) == 0 {
		return PriceSeries{}, Errorf(models.ErrorKindData, "%s has no bars inside the requested time range", ds.SourcePath)
	}

	return PriceSeries{
		Identifier:  ds.Identifier,
		Fingerprint: digest,
		Bars:        clipped,
	}, nil
}

// ParseOHLCV reads a CSV with a header row. The timestamp column is located
// by name; OHLCV columns are matched case-insensitively. Rows with a missing
// or unparseable field are dropped. Bars are returned sorted by time.
func ParseOHLCV(r io.Reader) ([]Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty csv")
		}
		return nil, err
	}

	dateIdx := -1
	for _, name := range dateColumns {
		if idx := indexOf(header, name, false); idx >= 0 {
			dateIdx = idx
			break
		}
	}
	if dateIdx < 0 {
		return nil, fmt.Errorf("no date column in header %v", header)
	}

	cols := make([]int, len(ohlcvColumns))
	for i, name := range ohlcvColumns {
		cols[i] = indexOf(header, name, true)
		if cols[i] < 0 {
			return nil, fmt.Errorf("missing %s column in header %v", name, header)
		}
	}

	var bars []Bar
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		bar, ok := parseRow(row, dateIdx, cols)
		if !ok {
			continue
		}
		bars = append(bars, bar)
	}

	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Time.Before(bars[j].Time)
	})
	return bars, nil
}

func parseRow(row []string, dateIdx int, cols []int) (Bar, bool) {
	field := func(i int) (string, bool) {
		if i >= len(row) {
			return "", false
		}
		v := strings.TrimSpace(row[i])
		return v, v != ""
	}

	ts, ok := field(dateIdx)
	if !ok {
		return Bar{}, false
	}
	t, ok := parseTime(ts)
	if !ok {
		return Bar{}, false
	}

	values := make([]float64, len(cols))
	for i, c := range cols {
		raw, ok := field(c)
		if !ok {
			return Bar{}, false
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Bar{}, false
		}
		values[i] = v
	}
	return Bar{Time: t, Open: values[0], High: values[1], Low: values[2], Close: values[3], Volume: values[4]}, true
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func indexOf(header []string, name string, fold bool) int {
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == name || (fold && strings.EqualFold(h, name)) {
			return i
		}
	}
	return -1
}
