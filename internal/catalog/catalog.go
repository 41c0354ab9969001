// Package catalog discovers strategy definitions and price series on disk and
// binds each to the fingerprint of its current bytes.
package catalog

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/yourusername/repro-backtest/internal/fingerprint"
	"github.com/yourusername/repro-backtest/internal/logger"
	"github.com/yourusername/repro-backtest/internal/models"
)

var (
	strategyExts = map[string]bool{".yaml": true, ".yml": true}
	seriesExts   = map[string]bool{".csv": true}
)

// strategyFile is the on-disk strategy format.
type strategyFile struct {
	ID         string         `yaml:"id"`
	Engine     string         `yaml:"engine"`
	Parameters map[string]any `yaml:"parameters"`
}

// Catalog resolves input paths relative to the fingerprinter's base directory.
type Catalog struct {
	fp     *fingerprint.Fingerprinter
	logger *logrus.Entry
}

// New creates a catalog that walks with fp, honouring its exclude patterns.
func New(fp *fingerprint.Fingerprinter, log *logrus.Logger) *Catalog {
	return &Catalog{fp: fp, logger: logger.Component(log, "catalog")}
}

// Strategies loads every YAML strategy file under paths. The identifier
// defaults to the file stem; duplicates are an error.
func (c *Catalog) Strategies(ctx context.Context, paths []string) ([]models.StrategyDefinition, error) {
	files, err := c.discover(ctx, paths, strategyExts)
	if err != nil {
		return nil, err
	}

	defs := make([]models.StrategyDefinition, 0, len(files))
	seen := make(map[string]string)
	for _, rel := range files {
		data, err := os.ReadFile(c.fp.Abs(rel))
		if err != nil {
			return nil, &fingerprint.IOError{Path: rel, Op: "read", Err: err}
		}

		var sf strategyFile
		if err := yaml.Unmarshal(data, &sf); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", rel, err)
		}
		id := strings.TrimSpace(sf.ID)
		if id == "" {
			id = stem(rel)
		}
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("strategy id %q defined by both %s and %s", id, prev, rel)
		}
		seen[id] = rel

		params := sf.Parameters
		if params == nil {
			params = map[string]any{}
		}
		defs = append(defs, models.StrategyDefinition{
			Identifier:        id,
			SourcePath:        rel,
			SourceFingerprint: fingerprint.DigestBytes(data),
			Engine:            sf.Engine,
			Parameters:        params,
		})
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Identifier < defs[j].Identifier })
	c.logger.WithField("strategies", len(defs)).Debug("Strategies discovered")
	return defs, nil
}

// Series lists every CSV file under paths as a DataSeries clipped to tr.
func (c *Catalog) Series(ctx context.Context, paths []string, tr models.TimeRange) ([]models.DataSeries, error) {
	files, err := c.discover(ctx, paths, seriesExts)
	if err != nil {
		return nil, err
	}

	out := make([]models.DataSeries, 0, len(files))
	seen := make(map[string]string)
	for _, rel := range files {
		id := stem(rel)
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("series id %q matches both %s and %s", id, prev, rel)
		}
		seen[id] = rel

		digest, _, err := fingerprint.DigestFile(c.fp.Abs(rel))
		if err != nil {
			return nil, err
		}
		out = append(out, models.DataSeries{
			Identifier:        id,
			SourcePath:        rel,
			SourceFingerprint: digest,
			TimeRange:         tr,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	c.logger.WithField("series", len(out)).Debug("Series discovered")
	return out, nil
}

func (c *Catalog) discover(ctx context.Context, paths []string, exts map[string]bool) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	all, err := c.fp.Enumerate(ctx, paths)
	if err != nil {
		return nil, err
	}
	files := all[:0]
	for _, rel := range all {
		if exts[strings.ToLower(path.Ext(rel))] {
			files = append(files, rel)
		}
	}
	return files, nil
}

func stem(rel string) string {
	base := path.Base(rel)
	return strings.TrimSuffix(base, path.Ext(base))
}
