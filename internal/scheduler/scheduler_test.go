package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/repro-backtest/internal/models"
)

type fakeChecker struct {
	calls  atomic.Int32
	report *models.DriftReport
	err    error
}

func (f *fakeChecker) CheckDrift(ctx context.Context) (*models.DriftReport, error) {
	f.calls.Add(1)
	return f.report, f.err
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestRunCheckNotifiesObservers(t *testing.T) {
	checker := &fakeChecker{report: &models.DriftReport{ManifestVersion: "v1", Modified: []string{"src/a.yaml"}}}
	s := NewScheduler(checker, quietLogger())

	var got *models.DriftReport
	s.OnCheck(func(report *models.DriftReport, err error) {
		assert.NoError(t, err)
		got = report
	})
	s.RunCheck(context.Background())

	require.NotNil(t, got)
	assert.Equal(t, []string{"src/a.yaml"}, got.Modified)
	assert.Equal(t, int32(1), checker.calls.Load())
}

func TestRunCheckPassesErrors(t *testing.T) {
	checker := &fakeChecker{err: models.ErrDriftDetected}
	s := NewScheduler(checker, quietLogger())

	var got error
	s.OnCheck(func(report *models.DriftReport, err error) { got = err })
	s.RunCheck(context.Background())

	assert.True(t, errors.Is(got, models.ErrDriftDetected))
}

func TestScheduleAndStart(t *testing.T) {
	checker := &fakeChecker{report: &models.DriftReport{}}
	s := NewScheduler(checker, quietLogger())

	require.Error(t, s.Start(), "start without jobs")
	require.Error(t, s.ScheduleDriftCheck("not a schedule"))
	require.NoError(t, s.ScheduleDriftCheck("@every 1h"))

	require.NoError(t, s.Start())
	defer s.Stop()
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start())
	assert.Error(t, s.ScheduleDriftCheck("@every 2h"))

	assert.Eventually(t, func() bool { return !s.GetNextRun().IsZero() }, time.Second, 10*time.Millisecond)
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.GetNextRun(), time.Minute)

	s.Stop()
	assert.False(t, s.IsRunning())
	assert.True(t, s.GetNextRun().IsZero())
}

type blockingChecker struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingChecker) CheckDrift(ctx context.Context) (*models.DriftReport, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return &models.DriftReport{ManifestVersion: "v1"}, nil
}

func TestStopWaitsForInFlightCheck(t *testing.T) {
	checker := &blockingChecker{started: make(chan struct{}), release: make(chan struct{})}
	s := NewScheduler(checker, quietLogger())

	var notified atomic.Int32
	s.OnCheck(func(report *models.DriftReport, err error) { notified.Add(1) })
	require.NoError(t, s.ScheduleDriftCheck("@every 1s"))
	require.NoError(t, s.Start())

	select {
	case <-checker.started:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled check never started")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	assert.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 10*time.Millisecond)
	close(checker.release)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the in-flight check finished")
	}
	assert.GreaterOrEqual(t, notified.Load(), int32(1))
}
