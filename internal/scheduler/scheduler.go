// Package scheduler runs periodic drift checks against the latest manifest.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/repro-backtest/internal/logger"
	"github.com/yourusername/repro-backtest/internal/models"
)

// DriftChecker verifies the workspace against a manifest and applies the
// configured policy.
type DriftChecker interface {
	CheckDrift(ctx context.Context) (*models.DriftReport, error)
}

// Observer receives the outcome of every scheduled check.
type Observer func(report *models.DriftReport, err error)

// Scheduler manages scheduled drift checks
type Scheduler struct {
	cron         *cron.Cron
	checker      DriftChecker
	observers    []Observer
	logger       *logrus.Entry
	mu           sync.RWMutex
	isRunning    bool
	jobIDs       []cron.EntryID
	checkTimeout time.Duration
}

// NewScheduler creates a new scheduler
func NewScheduler(checker DriftChecker, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:         cron.New(cron.WithLocation(time.UTC)),
		checker:      checker,
		logger:       logger.Component(log, "scheduler"),
		jobIDs:       make([]cron.EntryID, 0),
		checkTimeout: 10 * time.Minute,
	}
}

// OnCheck registers an observer. Must be called before Start.
func (s *Scheduler) OnCheck(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// ScheduleDriftCheck schedules a drift check with a cron expression or a
// descriptor such as "@every 10m".
func (s *Scheduler) ScheduleDriftCheck(cronExpression string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("cannot schedule job while scheduler is running")
	}

	entryID, err := s.cron.AddFunc(cronExpression, func() { s.RunCheck(context.Background()) })
	if err != nil {
		return fmt.Errorf("failed to add job: %w", err)
	}

	s.jobIDs = append(s.jobIDs, entryID)
	s.logger.WithField("schedule", cronExpression).Info("Scheduled drift check")
	return nil
}

// RunCheck performs one drift check and notifies observers.
func (s *Scheduler) RunCheck(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.checkTimeout)
	defer cancel()

	start := time.Now()
	report, err := s.checker.CheckDrift(ctx)
	entry := s.logger.WithField("duration", time.Since(start).String())
	switch {
	case err != nil:
		entry.WithError(err).Error("Scheduled drift check failed")
	case report == nil:
		entry.Info("Scheduled drift check skipped")
	default:
		entry.WithFields(logrus.Fields{
			"manifest_version": report.ManifestVersion,
			"modified":         len(report.Modified),
			"added":            len(report.Added),
			"missing":          len(report.Missing),
		}).Info("Scheduled drift check completed")
	}

	s.mu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()
	for _, o := range observers {
		o(report, err)
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if len(s.jobIDs) == 0 {
		return fmt.Errorf("no jobs scheduled")
	}

	s.cron.Start()
	s.isRunning = true
	s.logger.WithField("jobs", len(s.jobIDs)).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running check to finish. The
// lock is released before waiting because the check notifies observers
// under it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	stopped := s.cron.Stop()
	s.mu.Unlock()

	<-stopped.Done()
	s.logger.Info("Scheduler stopped")
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetNextRun returns the time of the next scheduled check
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning || len(s.jobIDs) == 0 {
		return time.Time{}
	}

	nextRun := time.Time{}
	for _, jobID := range s.jobIDs {
		entry := s.cron.Entry(jobID)
		if entry.Valid() {
			if nextRun.IsZero() || entry.Next.Before(nextRun) {
				nextRun = entry.Next
			}
		}
	}
	return nextRun
}
