// Package scheduler runs the background maintenance jobs (expired-session
// cleanup) on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one unit of background work. It gets a context that is cancelled
// when the scheduler stops.
type Job func(ctx context.Context) error

// Scheduler wraps a robfig/cron runner.
//
// Jobs never overlap with themselves: cron.SkipIfStillRunning drops a tick
// if the previous run of the same job has not finished.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a stopped scheduler. Register jobs with Every, then Start.
func New(logger *slog.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Every registers job under name on a standard cron spec ("0 * * * *") or
// a descriptor ("@hourly", "@every 15m").
func (s *Scheduler) Every(spec, name string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() { s.runJob(name, job) })
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for %s: %w", spec, name, err)
	}
	s.logger.Info("job scheduled", slog.String("job", name), slog.String("schedule", spec))
	return nil
}

// Start begins running jobs in the background. Calling it twice is a no-op.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting scheduler", slog.Int("jobs", len(s.cron.Entries())))
		s.cron.Start()
	})
}

// Stop cancels running jobs and waits for them to return, or for ctx to
// expire, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping scheduler")
		s.cancel()
		done := s.cron.Stop()
		select {
		case <-done.Done():
		case <-ctx.Done():
			s.logger.Warn("scheduler stop timed out, jobs still running")
		}
	})
}

// runJob executes one run of a job with timing and error logging.
func (s *Scheduler) runJob(name string, job Job) {
	start := time.Now()
	if err := job(s.ctx); err != nil {
		s.logger.Error("job failed",
			slog.String("job", name),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("job finished", slog.String("job", name), slog.Duration("duration", time.Since(start)))
}

// ValidateSpec reports whether spec is a schedule Every would accept.
func ValidateSpec(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", spec, err)
	}
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
