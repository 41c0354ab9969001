package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/repro-backtest/internal/backtest"
)

func TestParsePairs(t *testing.T) {
	got, err := parsePairs([]string{"sma_fast/spy", "baseline/qqq"})
	require.NoError(t, err)
	assert.Equal(t, []backtest.Pair{
		{StrategyID: "sma_fast", SeriesID: "spy"},
		{StrategyID: "baseline", SeriesID: "qqq"},
	}, got)

	none, err := parsePairs(nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	for _, bad := range []string{"spy", "/spy", "sma/"} {
		_, err := parsePairs([]string{bad})
		assert.Error(t, err, bad)
	}
}
