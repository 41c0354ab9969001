package id

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorIsMonotonic(t *testing.T) {
	gen := NewGenerator()
	ids := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		next, err := gen.New()
		require.NoError(t, err)
		ids = append(ids, next)
	}
	assert.True(t, sort.StringsAreSorted(ids))
	for i := 1; i < len(ids); i++ {
		assert.NotEqual(t, ids[i-1], ids[i])
	}
}

func TestGeneratorSurvivesClockStepBack(t *testing.T) {
	gen := NewGenerator()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	gen.now = func() time.Time { return now }

	first, err := gen.New()
	require.NoError(t, err)

	now = now.Add(-time.Hour)
	second, err := gen.New()
	require.NoError(t, err)

	assert.Less(t, first, second)
}

func TestValidAndTime(t *testing.T) {
	gen := NewGenerator()
	v, err := gen.New()
	require.NoError(t, err)

	assert.True(t, Valid(v))
	assert.False(t, Valid("not-a-ulid"))

	ts, err := Time(v)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestNewAfterSortsAfterFloor(t *testing.T) {
	gen := NewGenerator()
	future := NewGenerator()
	future.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	floor, err := future.New()
	require.NoError(t, err)

	next, err := gen.NewAfter(floor)
	require.NoError(t, err)
	assert.Less(t, floor, next)

	_, err = gen.NewAfter("bogus")
	assert.Error(t, err)
}
