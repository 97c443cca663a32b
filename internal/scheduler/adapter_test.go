package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandboxagent/core/internal/model"
)

type fakeTaskStore struct {
	tasks      []*model.ScheduledTask
	lastRunAt  map[string]time.Time
	deletedIDs []string
}

func (f *fakeTaskStore) ListEnabledTasks(context.Context) ([]*model.ScheduledTask, error) {
	return f.tasks, nil
}

func (f *fakeTaskStore) UpdateTaskLastRun(_ context.Context, id string, at time.Time) error {
	if f.lastRunAt == nil {
		f.lastRunAt = map[string]time.Time{}
	}
	f.lastRunAt[id] = at
	return nil
}

func (f *fakeTaskStore) DeleteTask(_ context.Context, id string) error {
	f.deletedIDs = append(f.deletedIDs, id)
	return nil
}

func TestStoreAdapterListEnabledTasksConvertsShape(t *testing.T) {
	runAt := time.Now().Add(-time.Minute)
	lastRun := time.Now().Add(-time.Hour)
	ts := &fakeTaskStore{tasks: []*model.ScheduledTask{
		{ID: "one-shot", Prompt: "ping", RunAt: &runAt, Enabled: true},
		{ID: "interval", Prompt: "tick", EveryMs: 60000, LastRun: &lastRun, Enabled: true},
		{ID: "cron", Prompt: "cron job", CronExpr: "*/5 * * * *", Enabled: true},
	}}

	adapter := NewStoreAdapter(ts)
	tasks, err := adapter.ListEnabledTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	require.Equal(t, "one-shot", tasks[0].ID)
	require.WithinDuration(t, runAt, tasks[0].RunAt, time.Millisecond)

	require.Equal(t, "interval", tasks[1].ID)
	require.Equal(t, int64(60000), tasks[1].EveryMs)
	require.WithinDuration(t, lastRun, tasks[1].LastRun, time.Millisecond)

	require.Equal(t, "cron", tasks[2].ID)
	require.Equal(t, "*/5 * * * *", tasks[2].CronExpr)
}

func TestStoreAdapterMarkRunDelegatesToUpdateTaskLastRun(t *testing.T) {
	ts := &fakeTaskStore{}
	adapter := NewStoreAdapter(ts)

	at := time.Now()
	require.NoError(t, adapter.MarkRun(context.Background(), "t1", at))
	require.WithinDuration(t, at, ts.lastRunAt["t1"], time.Millisecond)
}

func TestStoreAdapterDeleteTaskDelegates(t *testing.T) {
	ts := &fakeTaskStore{}
	adapter := NewStoreAdapter(ts)

	require.NoError(t, adapter.DeleteTask(context.Background(), "t1"))
	require.Equal(t, []string{"t1"}, ts.deletedIDs)
}
