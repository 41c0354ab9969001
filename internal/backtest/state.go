package backtest

import (
	"sort"

	"github.com/yourusername/repro-backtest/internal/models"
	"github.com/yourusername/repro-backtest/internal/recorder"
)

// runState accumulates pair outcomes. Only the collector goroutine touches it.
type runState struct {
	Results  []models.BacktestResult
	Failures []models.FailedResult
	Outcomes map[recorder.Outcome]int
}

func newRunState(pairs int) *runState {
	return &runState{
		Results:  make([]models.BacktestResult, 0, pairs),
		Failures: []models.FailedResult{},
		Outcomes: make(map[recorder.Outcome]int),
	}
}

// AddResult stores a recorded result.
func (s *runState) AddResult(r models.BacktestResult, outcome recorder.Outcome) {
	s.Results = append(s.Results, r)
	s.Outcomes[outcome]++
}

// AddFailure stores a failed pair.
func (s *runState) AddFailure(f models.FailedResult) {
	s.Failures = append(s.Failures, f)
}

// Sort orders results and failures by (strategy id, series id).
func (s *runState) Sort() {
	sort.Slice(s.Results, func(i, j int) bool {
		return pairLess(s.Results[i].StrategyID, s.Results[i].SeriesID, s.Results[j].StrategyID, s.Results[j].SeriesID)
	})
	sort.Slice(s.Failures, func(i, j int) bool {
		return pairLess(s.Failures[i].StrategyID, s.Failures[i].SeriesID, s.Failures[j].StrategyID, s.Failures[j].SeriesID)
	})
}

func pairLess(strategyA, seriesA, strategyB, seriesB string) bool {
	if strategyA != strategyB {
		return strategyA < strategyB
	}
	return seriesA < seriesB
}
