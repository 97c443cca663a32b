package compaction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandboxagent/core/internal/model"
)

type fakeStore struct {
	session        *model.Session
	older          []*model.StoredMessage
	cutoff         int64
	deletedUpTo    int64
	summary        string
	compactions    int
	memoryFlushSet bool
}

func (f *fakeStore) GetSession(context.Context, string) (*model.Session, error) { return f.session, nil }

func (f *fakeStore) GetCompactionCandidateMessages(context.Context, string, int) (int64, []*model.StoredMessage, error) {
	return f.cutoff, f.older, nil
}

func (f *fakeStore) DeleteMessagesBeforeID(_ context.Context, _ string, cutoffID int64) error {
	f.deletedUpTo = cutoffID
	return nil
}

func (f *fakeStore) SetSessionSummary(_ context.Context, _ string, summary string) error {
	f.summary = summary
	return nil
}

func (f *fakeStore) IncrementCompactionCount(context.Context, string) error {
	f.compactions++
	return nil
}

func (f *fakeStore) SetMemoryFlushAt(context.Context, string, time.Time) error {
	f.memoryFlushSet = true
	return nil
}

func olderMessages(n int) []*model.StoredMessage {
	out := make([]*model.StoredMessage, n)
	for i := range out {
		out[i] = &model.StoredMessage{ID: int64(i + 1), Role: "user", Content: "msg"}
	}
	return out
}

func TestRunSkipsBelowThreshold(t *testing.T) {
	store := &fakeStore{session: &model.Session{MessageCount: 10}}
	c := New(store, func(context.Context, string, string, string, []string) (string, error) {
		t.Fatal("should not call turn")
		return "", nil
	}, DefaultConfig())
	c.Run(context.Background(), "s1")
	require.Equal(t, int64(0), store.deletedUpTo)
}

func TestRunCommitsOnNonEmptySummary(t *testing.T) {
	store := &fakeStore{session: &model.Session{MessageCount: 130}, older: olderMessages(90), cutoff: 50}
	calls := 0
	c := New(store, func(_ context.Context, sessionID, system, prompt string, tools []string) (string, error) {
		calls++
		if len(tools) > 0 && tools[0] == "memory" {
			return memoryFlushSkipped, nil
		}
		return "```merged summary```", nil
	}, DefaultConfig())

	c.Run(context.Background(), "s1")
	require.Equal(t, 2, calls)
	require.Equal(t, int64(50), store.deletedUpTo)
	require.Equal(t, "merged summary", store.summary)
	require.Equal(t, 1, store.compactions)
	require.False(t, store.memoryFlushSet)
}

func TestRunSkipsCommitOnEmptySummary(t *testing.T) {
	store := &fakeStore{session: &model.Session{MessageCount: 130}, older: olderMessages(90), cutoff: 50}
	c := New(store, func(_ context.Context, _, _, _ string, tools []string) (string, error) {
		if len(tools) > 0 {
			return memoryFlushSkipped, nil
		}
		return "   ", nil
	}, DefaultConfig())

	c.Run(context.Background(), "s1")
	require.Equal(t, int64(0), store.deletedUpTo)
	require.Equal(t, "", store.summary)
}

func TestRunMarksMemoryFlushWhenNotSkipped(t *testing.T) {
	store := &fakeStore{session: &model.Session{MessageCount: 130}, older: olderMessages(90), cutoff: 50}
	c := New(store, func(_ context.Context, _, _, _ string, tools []string) (string, error) {
		if len(tools) > 0 {
			return "persisted some facts", nil
		}
		return "a summary", nil
	}, DefaultConfig())

	c.Run(context.Background(), "s1")
	require.True(t, store.memoryFlushSet)
}

func TestFormatTranscriptCapsMessages(t *testing.T) {
	out := formatTranscript(olderMessages(100), 10, 100000)
	require.Equal(t, 10, countLines(out))
}

func countLines(s string) int {
	n := 0
	for _, c := range s {
		if c == '\n' {
			n++
		}
	}
	return n
}
