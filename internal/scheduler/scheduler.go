// Package scheduler implements Scheduler (C11): the event-driven task
// runner that drives signal ticks, MTM refreshes, risk evaluation, and
// reconciliation. Wall-clock daily tasks use robfig/cron/v3, grounded on
// aristath-sentinel's internal/scheduler/scheduler.go (cron.New +
// AddFunc, isolated per-job error logging). Recurring/one-shot tasks use
// plain time.Ticker/time.Timer goroutines under context cancellation,
// grounded on the bot's engine.Start() goroutine-per-concern pattern —
// cron models wall-clock schedules, not fixed-interval loops, so we
// follow the bot rather than force cron expressions onto them.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is a unit of scheduled work. Its error is logged, never propagated:
// one task's failure never stops the scheduler or other tasks.
type Task func(ctx context.Context) error

type entry struct {
	cancel context.CancelFunc
	cronID cron.EntryID
	isCron bool
}

// Scheduler runs named recurring, one-shot, and daily tasks with isolated
// error handling and bounded-timeout shutdown.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownTimeout time.Duration
}

// New creates a Scheduler. shutdownTimeout bounds how long Stop waits for
// in-flight task invocations (spec.md §5 "bounded timeout (default 2s per
// task)").
func New(logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:            cron.New(),
		logger:          logger.With("component", "scheduler"),
		entries:         make(map[string]entry),
		ctx:             ctx,
		cancel:          cancel,
		shutdownTimeout: 2 * time.Second,
	}
}

// WithShutdownTimeout overrides the default 2s bounded shutdown wait.
func (s *Scheduler) WithShutdownTimeout(d time.Duration) *Scheduler {
	s.shutdownTimeout = d
	return s
}

// Start launches the cron runtime. Recurring/one-shot tasks run as soon as
// they are scheduled and do not depend on Start.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// ScheduleRecurring runs fn every interval until cancelled. Re-scheduling
// an existing name cancels the prior task first.
func (s *Scheduler) ScheduleRecurring(name string, interval time.Duration, fn Task) {
	taskCtx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.cancelLocked(name)
	s.entries[name] = entry{cancel: cancel}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-taskCtx.Done():
				return
			case <-ticker.C:
				s.runIsolated(name, taskCtx, fn)
			}
		}
	}()
}

// ScheduleOnce runs fn once after delay unless cancelled first.
func (s *Scheduler) ScheduleOnce(name string, delay time.Duration, fn Task) {
	taskCtx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.cancelLocked(name)
	s.entries[name] = entry{cancel: cancel}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-taskCtx.Done():
			return
		case <-timer.C:
			s.runIsolated(name, taskCtx, fn)
		}
	}()
}

// ScheduleDaily runs fn every day at hour:minute wall-clock time, handling
// missed slots by running on the next occurrence (robfig/cron's own
// catch-up-free semantics: a missed tick simply waits for the next match).
func (s *Scheduler) ScheduleDaily(name string, hour, minute int, fn Task) error {
	spec := fmt.Sprintf("%d %d * * *", minute, hour)
	id, err := s.cron.AddFunc(spec, func() {
		s.runIsolated(name, s.ctx, fn)
	})
	if err != nil {
		return fmt.Errorf("schedule daily task %q: %w", name, err)
	}

	s.mu.Lock()
	s.cancelLocked(name)
	s.entries[name] = entry{cronID: id, isCron: true}
	s.mu.Unlock()
	return nil
}

// Cancel stops and removes the named task, if scheduled.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(name)
}

// CancelAll stops and removes every scheduled task.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.entries {
		s.cancelLocked(name)
	}
}

// cancelLocked removes any existing entry for name. Callers must hold mu.
func (s *Scheduler) cancelLocked(name string) {
	e, ok := s.entries[name]
	if !ok {
		return
	}
	if e.isCron {
		s.cron.Remove(e.cronID)
	} else if e.cancel != nil {
		e.cancel()
	}
	delete(s.entries, name)
}

func (s *Scheduler) runIsolated(name string, ctx context.Context, fn Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "task", name, "panic", r)
		}
	}()
	if err := fn(ctx); err != nil {
		s.logger.Error("scheduled task failed", "task", name, "error", err)
	}
}

// Stop cancels all tasks, stops the cron runtime, and waits up to the
// configured bounded timeout for in-flight invocations to return.
func (s *Scheduler) Stop() {
	s.CancelAll()
	s.cancel()

	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(s.shutdownTimeout):
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn("scheduler shutdown timed out waiting for tasks")
	}

	s.logger.Info("scheduler stopped")
}
