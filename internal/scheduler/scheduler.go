// Package scheduler runs the batch jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one scheduled batch entry point.
type Job struct {
	Name     string
	Schedule string // five-field cron expression
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	logger  zerolog.Logger
	timeout time.Duration
}

// New returns a scheduler whose jobs run with ctx. A run that is still going
// when its next tick fires is skipped.
func New(ctx context.Context, logger zerolog.Logger, timeout time.Duration) *Scheduler {
	cl := cronLogger{logger}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		ctx:     ctx,
		logger:  logger,
		timeout: timeout,
	}
}

// Add registers job. An empty schedule disables it.
func (s *Scheduler) Add(job Job) error {
	if job.Schedule == "" {
		s.logger.Info().Str("job", job.Name).Msg("job disabled")
		return nil
	}
	_, err := s.cron.AddFunc(job.Schedule, func() { s.run(job) })
	if err != nil {
		return fmt.Errorf("scheduling %s (%q): %w", job.Name, job.Schedule, err)
	}
	s.logger.Info().Str("job", job.Name).Str("schedule", job.Schedule).Msg("job scheduled")
	return nil
}

func (s *Scheduler) run(job Job) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	logger := s.logger.With().Str("job", job.Name).Logger()
	logger.Info().Msg("job started")
	if err := job.Run(ctx); err != nil {
		logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("job failed")
		return
	}
	logger.Info().Dur("elapsed", time.Since(start)).Msg("job finished")
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Entries reports the number of scheduled jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
