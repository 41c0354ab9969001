// Package backtest runs strategy/series pairs against an evaluation engine
// and records the results bound to a manifest version.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/repro-backtest/internal/engine"
	"github.com/yourusername/repro-backtest/internal/logger"
	"github.com/yourusername/repro-backtest/internal/metrics"
	"github.com/yourusername/repro-backtest/internal/models"
	"github.com/yourusername/repro-backtest/internal/recorder"
)

// Recorder persists successful results.
type Recorder interface {
	Record(ctx context.Context, result *models.BacktestResult, overwrite bool) (recorder.Outcome, error)
}

// Pair names one (strategy, series) combination by identifier.
type Pair struct {
	StrategyID string `json:"strategy_id"`
	SeriesID   string `json:"series_id"`
}

// RunRequest describes one run. Nil Pairs means the full cross product.
type RunRequest struct {
	Strategies []models.StrategyDefinition
	Series     []models.DataSeries
	Manifest   *models.Manifest
	Pairs      []Pair
}

// RunOutcome is what a run produced. Results and Failures are sorted by
// (strategy id, series id).
type RunOutcome struct {
	RunID           uuid.UUID               `json:"run_id"`
	ManifestVersion string                  `json:"manifest_version"`
	Results         []models.BacktestResult `json:"results"`
	Failures        []models.FailedResult   `json:"failures"`
	StartedAt       time.Time               `json:"started_at"`
	FinishedAt      time.Time               `json:"finished_at"`
}

// Orchestrator fans pairs out over a bounded worker pool
type Orchestrator struct {
	evaluator engine.Evaluator
	loader    engine.SeriesLoader
	recorder  Recorder
	opts      Options
	logger    *logrus.Entry
	pipeline  *logger.PipelineLogger
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(evaluator engine.Evaluator, loader engine.SeriesLoader, rec Recorder, opts Options, log *logrus.Logger) (*Orchestrator, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if loader == nil {
		return nil, fmt.Errorf("series loader is required")
	}
	if rec == nil {
		return nil, fmt.Errorf("recorder is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.New()
	}
	return &Orchestrator{
		evaluator: evaluator,
		loader:    loader,
		recorder:  rec,
		opts:      opts,
		logger:    logger.Component(log, "orchestrator"),
		pipeline:  logger.NewPipelineLogger(log),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

type task struct {
	strategy models.StrategyDefinition
	series   models.DataSeries
	// manifestVersion binds the result to the manifest the inputs resolved in.
	manifestVersion string
}

type pairOutcome struct {
	result  *models.BacktestResult
	failure *models.FailedResult
}

// Run evaluates every pair of req exactly once. Per-pair engine failures
// become FailedResults; integrity failures and recorder errors abort the run.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	if req.Manifest == nil || req.Manifest.VersionID == "" {
		return nil, fmt.Errorf("manifest with a version id is required")
	}
	tasks, err := o.plan(req)
	if err != nil {
		return nil, err
	}

	runID := uuid.New()
	started := o.now()
	o.pipeline.LogRunStarted(runID.String(), req.Manifest.VersionID, len(req.Strategies), len(req.Series), len(tasks), o.opts.Workers)

	state, err := o.execute(ctx, runID, tasks)
	if err != nil {
		return nil, err
	}
	state.Sort()

	finished := o.now()
	metrics.RecordRunDuration(finished.Sub(started).Seconds())
	o.pipeline.LogRunCompleted(runID.String(), req.Manifest.VersionID, len(state.Results), len(state.Failures), finished.Sub(started))

	return &RunOutcome{
		RunID:           runID,
		ManifestVersion: req.Manifest.VersionID,
		Results:         state.Results,
		Failures:        state.Failures,
		StartedAt:       started,
		FinishedAt:      finished,
	}, nil
}

// plan checks inputs against the manifest and expands the pair list.
func (o *Orchestrator) plan(req RunRequest) ([]task, error) {
	fps := req.Manifest.Fingerprints()
	var unknown []string

	strategies := make(map[string]models.StrategyDefinition, len(req.Strategies))
	for _, s := range req.Strategies {
		if _, ok := fps[s.SourceFingerprint]; !ok {
			unknown = append(unknown, fmt.Sprintf("strategy %s (%s)", s.Identifier, s.SourceFingerprint.Short()))
		}
		strategies[s.Identifier] = s
	}
	series := make(map[string]models.DataSeries, len(req.Series))
	for _, s := range req.Series {
		if _, ok := fps[s.SourceFingerprint]; !ok {
			unknown = append(unknown, fmt.Sprintf("series %s (%s)", s.Identifier, s.SourceFingerprint.Short()))
		}
		series[s.Identifier] = s
	}

	pairs := req.Pairs
	if pairs == nil {
		for _, s := range req.Strategies {
			for _, d := range req.Series {
				pairs = append(pairs, Pair{StrategyID: s.Identifier, SeriesID: d.Identifier})
			}
		}
	}

	tasks := make([]task, 0, len(pairs))
	seen := make(map[Pair]struct{}, len(pairs))
	for _, p := range pairs {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		s, okS := strategies[p.StrategyID]
		d, okD := series[p.SeriesID]
		if !okS || !okD {
			unknown = append(unknown, fmt.Sprintf("pair %s/%s", p.StrategyID, p.SeriesID))
			continue
		}
		tasks = append(tasks, task{strategy: s, series: d, manifestVersion: req.Manifest.VersionID})
	}
	if len(unknown) > 0 {
		return nil, &UnknownInputError{Inputs: unknown}
	}

	sort.Slice(tasks, func(i, j int) bool {
		return pairLess(tasks[i].strategy.Identifier, tasks[i].series.Identifier, tasks[j].strategy.Identifier, tasks[j].series.Identifier)
	})
	for i := range tasks {
		tasks[i].strategy.Parameters = engine.Parameters(tasks[i].strategy.Parameters).Clone()
	}
	return tasks, nil
}

func (o *Orchestrator) execute(ctx context.Context, runID uuid.UUID, tasks []task) (*runState, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan task)
	outcomes := make(chan pairOutcome)

	g.Go(func() error {
		defer close(queue)
		for _, t := range tasks {
			select {
			case queue <- t:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	workers := o.opts.Workers
	if workers > len(tasks) && len(tasks) > 0 {
		workers = len(tasks)
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for t := range queue {
				out, err := o.evaluate(gctx, t)
				if err != nil {
					return err
				}
				select {
				case outcomes <- out:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	var workerErr error
	go func() {
		workerErr = g.Wait()
		close(outcomes)
	}()

	state := newRunState(len(tasks))
	var recordErr error
	for out := range outcomes {
		if recordErr != nil {
			continue
		}
		if out.failure != nil {
			o.pipeline.LogPairFailed(runID.String(), out.failure.StrategyID, out.failure.SeriesID, out.failure.ErrorKind, out.failure.Message)
			state.AddFailure(*out.failure)
			continue
		}
		outcome, err := o.recorder.Record(ctx, out.result, o.opts.Overwrite)
		if err != nil {
			recordErr = fmt.Errorf("failed to record %s/%s: %w", out.result.StrategyID, out.result.SeriesID, err)
			cancel()
			continue
		}
		state.AddResult(*out.result, outcome)
	}

	if recordErr != nil {
		return nil, recordErr
	}
	if workerErr != nil {
		return nil, workerErr
	}
	return state, nil
}

// evaluate runs one pair. A non-nil error aborts the run.
func (o *Orchestrator) evaluate(ctx context.Context, t task) (out pairOutcome, err error) {
	start := time.Now()
	status := "success"
	defer func() {
		if out.failure != nil {
			status = out.failure.ErrorKind
		}
		if err == nil {
			metrics.RecordInvocation(status, time.Since(start).Seconds())
		}
	}()

	fail := func(kind, msg string) (pairOutcome, error) {
		return pairOutcome{failure: &models.FailedResult{
			StrategyFingerprint: t.strategy.SourceFingerprint,
			DataFingerprint:     t.series.SourceFingerprint,
			StrategyID:          t.strategy.Identifier,
			SeriesID:            t.series.Identifier,
			ErrorKind:           kind,
			Message:             msg,
		}}, nil
	}

	series, err := o.loadSeries(ctx, t.series)
	if err != nil {
		if errors.Is(err, models.ErrContentMismatch) || ctx.Err() != nil {
			return pairOutcome{}, err
		}
		var pe *panicError
		if errors.As(err, &pe) {
			return fail(models.ErrorKindPanic, pe.Error())
		}
		return fail(models.ErrorKindData, err.Error())
	}

	m, err := o.invoke(ctx, t.strategy.Parameters, series)
	if err != nil {
		if ctx.Err() != nil {
			return pairOutcome{}, ctx.Err()
		}
		var pe *panicError
		if errors.As(err, &pe) {
			return fail(models.ErrorKindPanic, pe.Error())
		}
		return fail(engine.KindOf(err), err.Error())
	}
	for name, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fail(models.ErrorKindNumerical, fmt.Sprintf("metric %q is not finite", name))
		}
	}
	if m == nil {
		m = engine.Metrics{}
	}

	return pairOutcome{result: &models.BacktestResult{
		StrategyFingerprint: t.strategy.SourceFingerprint,
		DataFingerprint:     t.series.SourceFingerprint,
		StrategyID:          t.strategy.Identifier,
		ManifestVersion:     t.manifestVersion,
		SeriesID:            t.series.Identifier,
		Metrics:             map[string]float64(m),
		ProducedAt:          o.now(),
	}}, nil
}

type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

func (o *Orchestrator) loadSeries(ctx context.Context, ds models.DataSeries) (series engine.PriceSeries, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return o.loader.Load(ctx, ds)
}

// invoke calls the engine under the per-call deadline. An engine that
// ignores its context is abandoned once the deadline passes.
func (o *Orchestrator) invoke(ctx context.Context, params map[string]any, series engine.PriceSeries) (engine.Metrics, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	defer cancel()

	type reply struct {
		metrics engine.Metrics
		err     error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: &panicError{value: r}}
			}
		}()
		m, err := o.evaluator.Evaluate(callCtx, engine.Parameters(params), series)
		done <- reply{metrics: m, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, engine.Errorf(models.ErrorKindTimeout, "evaluation exceeded %s: %v", o.opts.CallTimeout, r.err)
		}
		return r.metrics, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, engine.Errorf(models.ErrorKindTimeout, "evaluation exceeded %s", o.opts.CallTimeout)
	}
}
