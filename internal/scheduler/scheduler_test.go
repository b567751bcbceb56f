package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduleRecurringRunsMultipleTimes(t *testing.T) {
	t.Parallel()
	s := New(testLogger())
	s.Start()
	defer s.Stop()

	var count int64
	s.ScheduleRecurring("tick", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt64(&count, 1)
		return nil
	})

	time.Sleep(55 * time.Millisecond)
	s.Cancel("tick")

	if atomic.LoadInt64(&count) < 3 {
		t.Fatalf("expected at least 3 runs, got %d", count)
	}
}

func TestScheduleOnceRunsExactlyOnce(t *testing.T) {
	t.Parallel()
	s := New(testLogger())
	s.Start()
	defer s.Stop()

	var count int64
	s.ScheduleOnce("once", 5*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt64(&count, 1)
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt64(&count) != 1 {
		t.Fatalf("expected exactly 1 run, got %d", count)
	}
}

func TestReschedulingNameCancelsPriorTask(t *testing.T) {
	t.Parallel()
	s := New(testLogger())
	s.Start()
	defer s.Stop()

	var firstCount, secondCount int64
	s.ScheduleRecurring("job", 5*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt64(&firstCount, 1)
		return nil
	})
	time.Sleep(20 * time.Millisecond)

	s.ScheduleRecurring("job", 5*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt64(&secondCount, 1)
		return nil
	})
	time.Sleep(30 * time.Millisecond)
	s.Cancel("job")

	frozenFirst := atomic.LoadInt64(&firstCount)
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt64(&firstCount) != frozenFirst {
		t.Fatal("expected prior task to stop running after reschedule")
	}
	if atomic.LoadInt64(&secondCount) == 0 {
		t.Fatal("expected the rescheduled task to have run")
	}
}

func TestTaskErrorDoesNotStopScheduler(t *testing.T) {
	t.Parallel()
	s := New(testLogger())
	s.Start()
	defer s.Stop()

	var goodCount int64
	s.ScheduleRecurring("bad", 5*time.Millisecond, func(ctx context.Context) error {
		return errFailing
	})
	s.ScheduleRecurring("good", 5*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt64(&goodCount, 1)
		return nil
	})

	time.Sleep(30 * time.Millisecond)
	s.CancelAll()

	if atomic.LoadInt64(&goodCount) == 0 {
		t.Fatal("expected the good task to keep running alongside a failing one")
	}
}

var errFailing = errTask("task failed")

type errTask string

func (e errTask) Error() string { return string(e) }
