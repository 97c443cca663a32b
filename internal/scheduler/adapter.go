package scheduler

import (
	"context"
	"time"

	"github.com/sandboxagent/core/internal/model"
)

// TaskStore is the subset of store.TaskStore the scheduler's host-side
// adapter reads and writes through.
type TaskStore interface {
	ListEnabledTasks(ctx context.Context) ([]*model.ScheduledTask, error)
	UpdateTaskLastRun(ctx context.Context, id string, at time.Time) error
	DeleteTask(ctx context.Context, id string) error
}

// storeAdapter narrows a TaskStore (model.ScheduledTask) down to the
// scheduler's own minimal Task/Store shape, so the scheduler stays
// decoupled from the full persistence surface.
type storeAdapter struct {
	ts TaskStore
}

// NewStoreAdapter wraps ts so it satisfies Store.
func NewStoreAdapter(ts TaskStore) Store {
	return &storeAdapter{ts: ts}
}

func (a *storeAdapter) ListEnabledTasks(ctx context.Context) ([]Task, error) {
	rows, err := a.ts.ListEnabledTasks(ctx)
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, fromModel(r))
	}
	return tasks, nil
}

func (a *storeAdapter) MarkRun(ctx context.Context, taskID string, at time.Time) error {
	return a.ts.UpdateTaskLastRun(ctx, taskID, at)
}

func (a *storeAdapter) DeleteTask(ctx context.Context, taskID string) error {
	return a.ts.DeleteTask(ctx, taskID)
}

func fromModel(r *model.ScheduledTask) Task {
	t := Task{
		ID:       r.ID,
		Prompt:   r.Prompt,
		EveryMs:  r.EveryMs,
		CronExpr: r.CronExpr,
		Enabled:  r.Enabled,
	}
	if r.RunAt != nil {
		t.RunAt = *r.RunAt
	}
	if r.LastRun != nil {
		t.LastRun = *r.LastRun
	}
	return t
}
