package turndriver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandboxagent/core/internal/model"
)

func TestMergeOverridesFallsBackToSession(t *testing.T) {
	sess := &model.Session{BotID: "bot-1", ModelID: "model-1", EnableRAG: true}
	botID, modelID, enableRAG := mergeOverrides(sess, TurnOverrides{})
	require.Equal(t, "bot-1", botID)
	require.Equal(t, "model-1", modelID)
	require.True(t, enableRAG)
}

func TestMergeOverridesAppliesExplicitValues(t *testing.T) {
	sess := &model.Session{BotID: "bot-1", ModelID: "model-1", EnableRAG: true}
	off := false
	botID, modelID, enableRAG := mergeOverrides(sess, TurnOverrides{BotID: "bot-2", ModelID: "model-2", EnableRAG: &off})
	require.Equal(t, "bot-2", botID)
	require.Equal(t, "model-2", modelID)
	require.False(t, enableRAG)
}

func TestToTaskSummariesFormatsRunAt(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tasks := []*model.ScheduledTask{{ID: "t1", Prompt: "p", RunAt: &at, Enabled: true}}
	summaries := toTaskSummaries(tasks)
	require.Len(t, summaries, 1)
	require.Equal(t, "2026-01-02T03:04:05Z", summaries[0].RunAt)
}
