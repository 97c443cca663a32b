package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCronAddRejectsIntervalBelowFloor(t *testing.T) {
	tool := NewCronTool(nil)
	res := tool.Execute(context.Background(), map[string]interface{}{
		"action": "add",
		"prompt": "ping",
		"every":  float64(5000),
	})
	require.True(t, res.IsError)
	require.Contains(t, res.ForLLM, "at least")
	require.Empty(t, tool.PendingSchedules())
}

func TestCronAddAcceptsIntervalAtFloor(t *testing.T) {
	tool := NewCronTool(nil)
	res := tool.Execute(context.Background(), map[string]interface{}{
		"action": "add",
		"prompt": "ping",
		"every":  float64(10000),
	})
	require.False(t, res.IsError)
	require.Len(t, tool.PendingSchedules(), 1)
}
