// Package scheduler runs the nightly maintenance jobs: the cost refresh of
// every user and the audit log retention purge.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"makercalc/internal/config"
	applog "makercalc/internal/log"
	"makercalc/internal/service"
)

// Maintainer is the subset of the service the jobs drive.
type Maintainer interface {
	RefreshAllUsers(ctx context.Context, concurrency int) ([]service.RefreshReport, error)
	PurgeActivity(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Scheduler owns a cron runner with the maintenance jobs registered.
type Scheduler struct {
	cron *cron.Cron
	jobs Maintainer
	cfg  config.SchedulerConfig
	ctx  context.Context
	stop context.CancelFunc
}

// New registers the jobs described by cfg. Schedules use the standard five
// field cron syntax and are evaluated in UTC.
func New(jobs Maintainer, cfg config.SchedulerConfig) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(cron.WithLocation(time.UTC)),
		jobs: jobs,
		cfg:  cfg,
		ctx:  ctx,
		stop: cancel,
	}

	if _, err := s.cron.AddFunc(cfg.RefreshSpec, s.RefreshCosts); err != nil {
		cancel()
		return nil, fmt.Errorf("schedule cost refresh %q: %w", cfg.RefreshSpec, err)
	}
	if _, err := s.cron.AddFunc(cfg.PurgeSpec, s.PurgeActivity); err != nil {
		cancel()
		return nil, fmt.Errorf("schedule activity purge %q: %w", cfg.PurgeSpec, err)
	}
	return s, nil
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	applog.Info(s.ctx, "scheduler started", "refresh", s.cfg.RefreshSpec, "purge", s.cfg.PurgeSpec)
}

// Stop cancels running jobs and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// RefreshCosts recomputes the formulations of every user.
func (s *Scheduler) RefreshCosts() {
	started := time.Now()
	reports, err := s.jobs.RefreshAllUsers(s.ctx, s.cfg.Concurrency)
	failed := 0
	for _, report := range reports {
		failed += len(report.Failed)
	}
	if err != nil {
		applog.Error(s.ctx, "scheduled cost refresh failed", "error", err, "users", len(reports), "failed_formulations", failed)
		return
	}
	applog.Info(s.ctx, "scheduled cost refresh finished", "users", len(reports), "failed_formulations", failed, "elapsed", time.Since(started))
}

// PurgeActivity removes audit entries past the retention window.
func (s *Scheduler) PurgeActivity() {
	removed, err := s.jobs.PurgeActivity(s.ctx, s.cfg.AuditRetention)
	if err != nil {
		applog.Error(s.ctx, "scheduled activity purge failed", "error", err)
		return
	}
	applog.Info(s.ctx, "scheduled activity purge finished", "removed", removed)
}
