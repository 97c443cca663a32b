package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	tasks   []Task
	deleted []string
	marked  map[string]time.Time
}

func (f *fakeStore) ListEnabledTasks(context.Context) ([]Task, error) { return f.tasks, nil }

func (f *fakeStore) MarkRun(_ context.Context, taskID string, at time.Time) error {
	if f.marked == nil {
		f.marked = map[string]time.Time{}
	}
	f.marked[taskID] = at
	for i := range f.tasks {
		if f.tasks[i].ID == taskID {
			f.tasks[i].LastRun = at
		}
	}
	return nil
}

func (f *fakeStore) DeleteTask(_ context.Context, taskID string) error {
	f.deleted = append(f.deleted, taskID)
	return nil
}

func TestFireIfDueOneShotDeletesAfterSuccess(t *testing.T) {
	store := &fakeStore{tasks: []Task{{ID: "t1", Prompt: "hi", RunAt: time.Now().Add(-time.Minute), Enabled: true}}}
	var invoked bool
	s := New(store, func(ctx context.Context, task Task, prompt string) error {
		invoked = true
		require.Contains(t, prompt, "cron:#t1")
		return nil
	})
	require.NoError(t, s.fireIfDue(context.Background(), store.tasks[0], time.Now()))
	require.True(t, invoked)
	require.Equal(t, []string{"t1"}, store.deleted)
}

func TestFireIfDueOneShotPreservesOnFailure(t *testing.T) {
	store := &fakeStore{tasks: []Task{{ID: "t1", Prompt: "hi", RunAt: time.Now().Add(-time.Minute), Enabled: true}}}
	s := New(store, func(ctx context.Context, task Task, prompt string) error {
		return require.AnError
	})
	err := s.fireIfDue(context.Background(), store.tasks[0], time.Now())
	require.Error(t, err)
	require.Empty(t, store.deleted)
}

func TestFireIfDueIntervalNeverRunFiresImmediately(t *testing.T) {
	store := &fakeStore{tasks: []Task{{ID: "t2", Prompt: "tick", EveryMs: 60000, Enabled: true}}}
	var invoked bool
	s := New(store, func(ctx context.Context, task Task, prompt string) error {
		invoked = true
		return nil
	})
	require.NoError(t, s.fireIfDue(context.Background(), store.tasks[0], time.Now()))
	require.True(t, invoked)
}

func TestFireIfDueIntervalNotYetDue(t *testing.T) {
	now := time.Now()
	store := &fakeStore{tasks: []Task{{ID: "t3", Prompt: "tick", EveryMs: 60000, LastRun: now, Enabled: true}}}
	var invoked bool
	s := New(store, func(ctx context.Context, task Task, prompt string) error {
		invoked = true
		return nil
	})
	require.NoError(t, s.fireIfDue(context.Background(), store.tasks[0], now.Add(time.Second)))
	require.False(t, invoked)
}

func TestEarliestFirePicksMinimum(t *testing.T) {
	now := time.Now()
	s := New(&fakeStore{}, nil)
	s.now = func() time.Time { return now }

	tasks := []Task{
		{ID: "far", RunAt: now.Add(time.Hour), Enabled: true},
		{ID: "near", RunAt: now.Add(time.Minute), Enabled: true},
	}
	next, ok := s.earliestFire(tasks)
	require.True(t, ok)
	require.WithinDuration(t, now.Add(time.Minute), next, time.Millisecond)
}

func TestEarliestFireNoTasksNotArmed(t *testing.T) {
	s := New(&fakeStore{}, nil)
	_, ok := s.earliestFire(nil)
	require.False(t, ok)
}

func TestChildSessionID(t *testing.T) {
	require.Equal(t, "cron:abc123", ChildSessionID("abc123"))
}
