// Package scheduler triggers the daily sweep on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/taleon-tracker/internal/orchestrator"
)

// DefaultSpec fires at 00:01 every day.
const DefaultSpec = "1 0 * * *"

// Sweeper runs one full sweep.
type Sweeper interface {
	ScrapeAll(ctx context.Context) orchestrator.SweepSummary
}

// Config controls when sweeps fire.
type Config struct {
	Spec     string
	Location *time.Location
}

// Scheduler owns the cron runner for sweeps.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	sweeper  Sweeper
	logger   *zap.Logger
}

// New parses the schedule and prepares a cron runner. An overlapping tick is
// skipped while the previous sweep is still running.
func New(cfg Config, sweeper Sweeper, logger *zap.Logger) (*Scheduler, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("scheduler: sweeper is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	spec := cfg.Spec
	if spec == "" {
		spec = DefaultSpec
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	cl := cronLogger{logger: logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		schedule: schedule,
		sweeper:  sweeper,
		logger:   logger,
	}, nil
}

// Next returns the first fire time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run starts the cron runner and blocks until ctx is done. A sweep in flight
// when ctx ends is allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Schedule(s.schedule, cron.FuncJob(func() { s.sweep(ctx) }))
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Time("next_run", s.Next(time.Now())))

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) sweep(ctx context.Context) {
	summary := s.sweeper.ScrapeAll(ctx)
	if summary.Skipped {
		s.logger.Warn("scheduled sweep skipped; another sweep is running")
		return
	}
	s.logger.Info("scheduled sweep finished",
		zap.String("sweep_id", summary.SweepID),
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", len(summary.Failed)),
	)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
