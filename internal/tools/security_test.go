package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecurityHookBlocksRootDeleteWithScenarioReason(t *testing.T) {
	h := SecurityHook{}
	reason := h.OnBeforeToolCall(context.Background(), "write", map[string]interface{}{
		"contents": "#!/bin/sh\nrm -rf / \n",
	})
	require.Equal(t, "Detected destructive root delete pattern (`rm -rf /`) in file content.", reason)
}

func TestSecurityHookAllowsBenignWrite(t *testing.T) {
	h := SecurityHook{}
	reason := h.OnBeforeToolCall(context.Background(), "write", map[string]interface{}{
		"contents": "hello world",
	})
	require.Empty(t, reason)
}
