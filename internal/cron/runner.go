package cron

import (
	"context"
	"log/slog"
	"time"
)

// Task is the unit of work a Runner invokes on each scheduled tick.
type Task func(ctx context.Context) error

// Runner drives a single Task against a Schedule. Unlike the teacher's
// Scheduler, it holds exactly one job, has no job registry, and knows
// nothing about message/webhook/agent dispatch — it exists only to give the
// CLI's --every/--cron flags somewhere to run.
type Runner struct {
	schedule Schedule
	task     Task
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used for tick/run/error events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner builds a Runner for schedule that calls task on each due tick.
func NewRunner(schedule Schedule, task Task, opts ...Option) *Runner {
	r := &Runner{
		schedule: schedule,
		task:     task,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks, invoking the task at each scheduled time until the schedule
// has no further run (an exhausted "at" schedule) or ctx is cancelled.
// Task errors are logged and do not stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	for {
		now := r.now()
		next, ok, err := r.schedule.Next(now)
		if err != nil {
			return err
		}
		if !ok {
			r.logger.Info("cron schedule exhausted, stopping")
			return nil
		}

		wait := next.Sub(now)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case fired := <-timer.C:
			r.runOnce(ctx, fired)
			if r.schedule.Kind == "at" {
				return nil
			}
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, at time.Time) {
	r.logger.Info("cron task starting", "scheduled_for", at)
	if err := r.task(ctx); err != nil {
		r.logger.Error("cron task failed", "error", err)
		return
	}
	r.logger.Info("cron task completed")
}
