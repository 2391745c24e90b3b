// Package scheduler runs the periodic maintenance jobs: the idle session
// reaper and the detached-process record sweep.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs jobs at fixed intervals. A panicking job is logged and
// does not stop later runs; a run still in progress skips the next tick.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// New creates a stopped Scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger: logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
}

// Every schedules job under name at the given interval, which must be at
// least one second.
func (s *Scheduler) Every(name string, interval time.Duration, job cron.Job) error {
	if interval < time.Second {
		return fmt.Errorf("scheduler: interval for %s must be at least 1s, got %s", name, interval)
	}
	if _, err := s.cron.AddJob("@every "+interval.String(), namedJob{name: name, job: job, logger: s.logger}); err != nil {
		return fmt.Errorf("scheduler: add %s: %w", name, err)
	}
	s.logger.Info("scheduled job", zap.String("job", name), zap.Duration("interval", interval))
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type namedJob struct {
	name   string
	job    cron.Job
	logger *zap.Logger
}

func (j namedJob) Run() {
	start := time.Now()
	j.job.Run()
	j.logger.Debug("job finished", zap.String("job", j.name), zap.Duration("took", time.Since(start)))
}

// cronLogger adapts zap to cron.Logger. Cron's per-run info messages are
// demoted to debug.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
