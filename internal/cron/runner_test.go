package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunnerRunsAtScheduleOnce(t *testing.T) {
	sched, err := NewSchedule(Config{At: time.Now().Add(10 * time.Millisecond).Format(time.RFC3339)})
	if err != nil {
		t.Fatalf("NewSchedule() error = %v", err)
	}

	var calls int32
	runner := NewRunner(sched, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := runner.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 call for an at-schedule, got %d", got)
	}
}

func TestRunnerStopsOnContextCancel(t *testing.T) {
	sched, err := NewSchedule(Config{Every: time.Hour})
	if err != nil {
		t.Fatalf("NewSchedule() error = %v", err)
	}

	runner := NewRunner(sched, func(ctx context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := runner.Run(ctx); err == nil {
		t.Fatal("expected Run() to return the context's cancellation error")
	}
}

func TestRunnerContinuesAfterTaskError(t *testing.T) {
	sched, err := NewSchedule(Config{Every: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewSchedule() error = %v", err)
	}

	var calls int32
	runner := NewRunner(sched, func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return context.DeadlineExceeded
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = runner.Run(ctx)

	if got := atomic.LoadInt32(&calls); got < 2 {
		t.Fatalf("expected the runner to keep ticking after a task error, got %d calls", got)
	}
}
