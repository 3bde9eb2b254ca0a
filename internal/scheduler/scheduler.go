// Package scheduler runs the console's housekeeping jobs: the midnight reset
// of running daily observation state and the hourly audit-log purge.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

const (
	tagDailyReset = "daily-reset"
	tagCleanup    = "audit-cleanup"

	jobTimeout = 30 * time.Second
)

// DailyResetter clears state that accumulates over a station-local day.
type DailyResetter interface {
	ResetDaily(ctx context.Context)
}

// Cleaner purges audit rows older than retentionDays.
type Cleaner interface {
	Cleanup(retentionDays int) (int64, error)
}

type Scheduler struct {
	scheduler     *gocron.Scheduler
	loc           *time.Location
	reset         DailyResetter
	cleaner       Cleaner
	retentionDays int
	logger        *slog.Logger
}

// New schedules jobs in the station's timezone. cleaner may be nil when no
// audit store is configured.
func New(loc *time.Location, reset DailyResetter, cleaner Cleaner, retentionDays int, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		scheduler:     gocron.NewScheduler(loc),
		loc:           loc,
		reset:         reset,
		cleaner:       cleaner,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Start registers the jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.scheduler.Every(1).Day().At("00:00").Tag(tagDailyReset).Do(s.runDailyReset); err != nil {
		return err
	}
	if s.cleaner != nil {
		if _, err := s.scheduler.Every(1).Hour().Tag(tagCleanup).Do(s.runCleanup); err != nil {
			return err
		}
	}
	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", "timezone", s.loc.String(), "jobs", len(s.scheduler.Jobs()))
	return nil
}

// Run starts the scheduler and stops it when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// NextRun returns when the job with tag next fires, or the zero time.
func (s *Scheduler) NextRun(tag string) time.Time {
	for _, j := range s.scheduler.Jobs() {
		for _, t := range j.Tags() {
			if t == tag {
				return j.NextRun()
			}
		}
	}
	return time.Time{}
}

func (s *Scheduler) runDailyReset() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.logger.Info("running daily reset")
	s.reset.ResetDaily(ctx)
}

func (s *Scheduler) runCleanup() {
	n, err := s.cleaner.Cleanup(s.retentionDays)
	if err != nil {
		s.logger.Warn("audit cleanup failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("audit cleanup", "deleted", n, "retention_days", s.retentionDays)
	}
}
