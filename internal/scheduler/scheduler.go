// Package scheduler implements the single-armed-timer scheduler (C7):
// one-shot, interval, and cron tasks all compete for the same next-fire
// slot, and every creation/deletion/toggle/tick re-arms it.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// DriftClamp bounds how far in the future a single timer may be armed
// (§4.6 "clamped to 5 min").
const DriftClamp = 5 * time.Minute

// Task is one schedulable unit (§4.6). Exactly one of RunAt, EveryMs, or
// CronExpr should be set.
type Task struct {
	ID       string
	Prompt   string
	RunAt    time.Time
	EveryMs  int64
	CronExpr string
	Enabled  bool
	LastRun  time.Time
}

func (t *Task) isOneShot() bool  { return !t.RunAt.IsZero() }
func (t *Task) isInterval() bool { return t.EveryMs > 0 }
func (t *Task) isCron() bool     { return t.CronExpr != "" }

// Store is the persistence boundary the scheduler reads/writes through
// (backed by internal/store/sqlite in production).
type Store interface {
	ListEnabledTasks(ctx context.Context) ([]Task, error)
	MarkRun(ctx context.Context, taskID string, at time.Time) error
	DeleteTask(ctx context.Context, taskID string) error
}

// Runner executes one fired task as an isolated child session
// (§4.6 "Execution").
type Runner func(ctx context.Context, task Task, wrappedPrompt string) error

// Scheduler holds the single armed timer and its dependencies.
type Scheduler struct {
	mu      sync.Mutex
	store   Store
	runner  Runner
	timer   *time.Timer
	ticking bool
	now     func() time.Time
	stopped bool
}

func New(store Store, runner Runner) *Scheduler {
	return &Scheduler{store: store, runner: runner, now: time.Now}
}

// Stop halts the armed timer and makes every subsequent Rearm a no-op
// (§8: "rearm() is a no-op after stop()"). Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Rearm recomputes the earliest next fire across all enabled tasks and
// resets the single timer (§4.6 "Arm"). Safe to call from creation,
// deletion, toggle, or after a tick. A no-op once Stop has been called.
func (s *Scheduler) Rearm(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	tasks, err := s.store.ListEnabledTasks(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list tasks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	next, ok := s.earliestFire(tasks)
	if !ok {
		return nil
	}

	now := s.now()
	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	if delay > DriftClamp {
		delay = DriftClamp
	}

	s.timer = time.AfterFunc(delay, func() { s.tick(ctx) })
	return nil
}

func (s *Scheduler) earliestFire(tasks []Task) (time.Time, bool) {
	var best time.Time
	found := false
	now := s.now()

	for _, t := range tasks {
		var fire time.Time
		switch {
		case t.isOneShot():
			if !t.LastRun.IsZero() {
				continue
			}
			fire = t.RunAt
		case t.isInterval():
			base := t.LastRun
			if base.IsZero() {
				fire = now
			} else {
				fire = base.Add(time.Duration(t.EveryMs) * time.Millisecond)
			}
		case t.isCron():
			n, err := gronx.NextTickAfter(t.CronExpr, now, false)
			if err != nil {
				slog.Warn("scheduler.bad_cron", "taskId", t.ID, "expr", t.CronExpr, "err", err)
				continue
			}
			fire = n
		default:
			continue
		}

		if !found || fire.Before(best) {
			best = fire
			found = true
		}
	}
	return best, found
}

// tick fires every task that is due (§4.6 "Tick"). Reentrancy is guarded
// by the ticking flag: a slow runner call must not overlap a concurrent
// timer fire.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.ticking || s.stopped {
		s.mu.Unlock()
		return
	}
	s.ticking = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.ticking = false
		s.mu.Unlock()
		if err := s.Rearm(ctx); err != nil {
			slog.Warn("scheduler.rearm_failed", "err", err)
		}
	}()

	tasks, err := s.store.ListEnabledTasks(ctx)
	if err != nil {
		slog.Warn("scheduler.tick_list_failed", "err", err)
		return
	}

	now := s.now()
	for _, t := range tasks {
		if err := s.fireIfDue(ctx, t, now); err != nil {
			slog.Warn("scheduler.task_failed", "taskId", t.ID, "err", err)
		}
	}
}

func (s *Scheduler) fireIfDue(ctx context.Context, t Task, now time.Time) error {
	switch {
	case t.isOneShot():
		if !t.LastRun.IsZero() || t.RunAt.After(now) {
			return nil
		}
		if err := s.store.MarkRun(ctx, t.ID, now); err != nil {
			return err
		}
		if err := s.invoke(ctx, t, now); err != nil {
			return err
		}
		return s.store.DeleteTask(ctx, t.ID)

	case t.isInterval():
		due := t.LastRun.IsZero() || !t.LastRun.Add(time.Duration(t.EveryMs)*time.Millisecond).After(now)
		if !due {
			return nil
		}
		if err := s.store.MarkRun(ctx, t.ID, now); err != nil {
			return err
		}
		return s.invoke(ctx, t, now)

	case t.isCron():
		prev, err := gronx.PrevTickBefore(t.CronExpr, now, true)
		if err != nil {
			return fmt.Errorf("scheduler: bad cron expression: %w", err)
		}
		if !prev.After(t.LastRun) {
			return nil
		}
		if err := s.store.MarkRun(ctx, t.ID, now); err != nil {
			return err
		}
		return s.invoke(ctx, t, now)
	}
	return nil
}

func (s *Scheduler) invoke(ctx context.Context, t Task, now time.Time) error {
	prompt := wrapPrompt(t, now)
	return s.runner(ctx, t, prompt)
}

// wrapPrompt builds the runner-facing prompt of §4.6 "Prompt wrapper".
func wrapPrompt(t Task, now time.Time) string {
	loc := now.Location()
	return fmt.Sprintf(
		"[cron:#%s %s] %s\nCurrent time: %s (%s)\n\nReturn your response as plain text; it will be delivered automatically.",
		t.ID, t.Prompt, t.Prompt, now.Format("2006-01-02 15:04:05"), loc.String(),
	)
}

// ChildSessionID derives the synthetic isolated-session id for a fired
// task (§4.6 "Execution").
func ChildSessionID(taskID string) string {
	return "cron:" + taskID
}

// AllowedTools is the tool set an execution is restricted to (§4.6).
var AllowedTools = []string{"cron"}
