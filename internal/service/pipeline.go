// Package service wires the pipeline stages together: build records a
// manifest, verify checks the workspace against it, and run executes
// backtests gated by that check.
package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/repro-backtest/internal/backtest"
	"github.com/yourusername/repro-backtest/internal/catalog"
	"github.com/yourusername/repro-backtest/internal/config"
	"github.com/yourusername/repro-backtest/internal/drift"
	"github.com/yourusername/repro-backtest/internal/engine"
	"github.com/yourusername/repro-backtest/internal/fingerprint"
	"github.com/yourusername/repro-backtest/internal/logger"
	"github.com/yourusername/repro-backtest/internal/manifest"
	"github.com/yourusername/repro-backtest/internal/models"
	"github.com/yourusername/repro-backtest/internal/recorder"
	"github.com/yourusername/repro-backtest/internal/repository"
)

const seriesCacheTTL = 30 * time.Minute

// Pipeline owns the manifest store for the lifetime of a process
type Pipeline struct {
	cfg      *config.Config
	store    manifest.Store
	fp       *fingerprint.Fingerprinter
	verifier *drift.Verifier
	catalog  *catalog.Catalog
	log      *logrus.Logger
	logger   *logrus.Entry
	pipeline *logger.PipelineLogger
}

// RunOptions selects the manifest and pairs of a run
type RunOptions struct {
	// ManifestVersion defaults to the latest version.
	ManifestVersion string
	// Pairs restricts the run; nil means every strategy against every series.
	Pairs []backtest.Pair
}

// NewPipeline opens the file manifest store named by cfg.
func NewPipeline(cfg *config.Config, log *logrus.Logger) (*Pipeline, error) {
	store, err := manifest.OpenFileStore(StoreDir(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest store: %w", err)
	}
	p, err := NewPipelineWithStore(cfg, store, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	return p, nil
}

// NewPipelineWithStore builds a pipeline over an injected store. The
// pipeline closes the store on Close.
func NewPipelineWithStore(cfg *config.Config, store manifest.Store, log *logrus.Logger) (*Pipeline, error) {
	fp := fingerprint.New(cfg.Pipeline.BaseDir, cfg.Pipeline.Exclude, log)
	verifier, err := drift.NewVerifier(fp, drift.Policy{
		OnDrift:     cfg.Drift.OnDrift,
		FailOnAdded: cfg.Drift.FailOnAdded,
	}, log)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		fp:       fp,
		verifier: verifier,
		catalog:  catalog.New(fp, log),
		log:      log,
		logger:   logger.Component(log, "pipeline"),
		pipeline: logger.NewPipelineLogger(log),
	}, nil
}

// StoreDir resolves the manifest store directory against the base directory.
func StoreDir(cfg *config.Config) string {
	dir := cfg.Manifest.StoreDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(cfg.Pipeline.BaseDir, dir)
	}
	return dir
}

// Store returns the manifest store.
func (p *Pipeline) Store() manifest.Store { return p.store }

// Close releases the manifest store.
func (p *Pipeline) Close() error { return p.store.Close() }

// Build fingerprints the scope roots and records a new manifest version.
func (p *Pipeline) Build(ctx context.Context) (*models.Manifest, error) {
	start := time.Now()
	records, err := p.fp.Scan(ctx, p.cfg.Pipeline.ScopeRoots)
	if err != nil {
		return nil, err
	}
	m, err := p.store.Record(ctx, p.cfg.Pipeline.ScopeRoots, records)
	if err != nil {
		return nil, err
	}
	p.pipeline.LogManifestRecorded(m.VersionID, m.ScopeRoots, len(m.Records), time.Since(start))
	return m, nil
}

// ResolveManifest loads version, or the latest manifest when version is empty.
func (p *Pipeline) ResolveManifest(ctx context.Context, version string) (*models.Manifest, error) {
	if version == "" {
		return p.store.Latest(ctx)
	}
	return p.store.Load(ctx, version)
}

// Verify checks the workspace against a manifest and applies the drift
// policy. Under the fail policy blocking drift returns the report together
// with a *drift.DriftError.
func (p *Pipeline) Verify(ctx context.Context, version string) (*models.DriftReport, error) {
	m, err := p.ResolveManifest(ctx, version)
	if err != nil {
		return nil, err
	}
	return p.verifier.Gate(ctx, m)
}

// CheckDrift verifies against the latest manifest. It lets the pipeline
// serve as the scheduler's checker.
func (p *Pipeline) CheckDrift(ctx context.Context) (*models.DriftReport, error) {
	return p.Verify(ctx, "")
}

// Manifests lists recorded versions in ascending order.
func (p *Pipeline) Manifests(ctx context.Context) ([]string, error) {
	return p.store.List(ctx)
}

// Show writes the listing of a manifest version.
func (p *Pipeline) Show(ctx context.Context, version string, w io.Writer) error {
	m, err := p.ResolveManifest(ctx, version)
	if err != nil {
		return err
	}
	return manifest.Encode(w, m.Records)
}

// Run gates on drift, evaluates every selected pair and records the results.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*backtest.Report, error) {
	m, err := p.ResolveManifest(ctx, opts.ManifestVersion)
	if err != nil {
		return nil, err
	}
	report, err := p.verifier.Gate(ctx, m)
	if err != nil {
		return nil, err
	}

	tr, err := p.cfg.TimeRange()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	strategies, err := p.catalog.Strategies(ctx, p.cfg.Inputs.Strategies)
	if err != nil {
		return nil, err
	}
	for _, s := range strategies {
		if s.Engine != "" && s.Engine != p.cfg.Engine.Kind {
			return nil, &ConfigError{Err: fmt.Errorf("strategy %s targets engine %q but %q is configured", s.Identifier, s.Engine, p.cfg.Engine.Kind)}
		}
	}
	series, err := p.catalog.Series(ctx, p.cfg.Inputs.Series, tr)
	if err != nil {
		return nil, err
	}

	evaluator, err := NewEvaluator(p.cfg, p.log)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	if c, ok := evaluator.(io.Closer); ok {
		defer c.Close()
	}

	results, err := repository.OpenResultStore(ctx, p.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}
	defer results.Close()

	runOpts, err := backtest.FromConfig(p.cfg)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	orch, err := backtest.NewOrchestrator(
		evaluator,
		engine.NewCSVSeriesLoader(p.cfg.Pipeline.BaseDir, seriesCacheTTL, p.log),
		recorder.New(results, p.store, p.log),
		runOpts,
		p.log,
	)
	if err != nil {
		return nil, err
	}

	outcome, err := orch.Run(ctx, backtest.RunRequest{
		Strategies: strategies,
		Series:     series,
		Manifest:   m,
		Pairs:      opts.Pairs,
	})
	if err != nil {
		return nil, err
	}

	full := &backtest.Report{RunOutcome: outcome, Drift: report}
	if path := p.cfg.Orchestrator.ReportPath; path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.cfg.Pipeline.BaseDir, path)
		}
		if err := backtest.ExportToJSON(*full, path); err != nil {
			return full, &fingerprint.IOError{Path: path, Op: "write", Err: err}
		}
		p.logger.WithField("path", path).Info("Report exported")
	}

	if p.cfg.Orchestrator.FailOnPairError && len(outcome.Failures) > 0 {
		return full, &PairFailuresError{Failed: len(outcome.Failures), Total: len(outcome.Failures) + len(outcome.Results)}
	}
	return full, nil
}
