package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandboxagent/core/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "core.db")
	st, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	sess, err := st.GetOrCreateSession(ctx, "sess-1", "chan-1")
	require.NoError(t, err)
	require.Equal(t, "sess-1", sess.ID)
	require.Equal(t, 0, sess.MessageCount)

	again, err := st.GetOrCreateSession(ctx, "sess-1", "chan-1")
	require.NoError(t, err)
	require.Equal(t, sess.CreatedAt.Unix(), again.CreatedAt.Unix())

	_, err = st.InsertMessage(ctx, &model.StoredMessage{
		SessionID: "sess-1", Role: model.RoleUser, Content: "hi", CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	updated, err := st.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, 1, updated.MessageCount)
}

func TestCompactionCandidates(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	_, err := st.GetOrCreateSession(ctx, "sess-2", "chan-1")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := st.InsertMessage(ctx, &model.StoredMessage{
			SessionID: "sess-2", Role: model.RoleUser, Content: "msg", CreatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	cutoff, older, err := st.GetCompactionCandidateMessages(ctx, "sess-2", 4)
	require.NoError(t, err)
	require.Len(t, older, 6)
	require.Equal(t, older[len(older)-1].ID, cutoff)

	require.NoError(t, st.DeleteMessagesBeforeID(ctx, "sess-2", cutoff))
	remaining, err := st.ListMessages(ctx, "sess-2")
	require.NoError(t, err)
	require.Len(t, remaining, 4)
}

func TestScheduledTaskInvariant(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	task := &model.ScheduledTask{
		ID: "task-1", SessionID: "sess-3", Prompt: "say hi",
		EveryMs: 60_000, Enabled: true, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateTask(ctx, task))

	got, err := st.GetTask(ctx, "task-1")
	require.NoError(t, err)
	require.True(t, got.IsInterval())
	require.False(t, got.IsOneShot())
	require.False(t, got.IsCron())

	require.NoError(t, st.DeleteTask(ctx, "task-1"))
	gone, err := st.GetTask(ctx, "task-1")
	require.NoError(t, err)
	require.Nil(t, gone)
}
