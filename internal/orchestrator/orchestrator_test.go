package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxagent/core/internal/containerpool"
	"github.com/sandboxagent/core/internal/delegation"
)

func TestRunChildTurnWrapsPoolError(t *testing.T) {
	exec := &PoolExecutor{Pool: containerpool.New(containerpool.Config{})}

	_, err := exec.RunChildTurn(context.Background(), delegation.ChildTurnRequest{
		SessionID: "child-1",
		Prompt:    "do the thing",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "orchestrator: run child turn")
	require.Contains(t, err.Error(), "no docker client configured")
}

func TestRunIsolatedTurnWrapsPoolError(t *testing.T) {
	exec := &PoolExecutor{Pool: containerpool.New(containerpool.Config{})}

	_, err := exec.RunIsolatedTurn(context.Background(), "sess-1", "you are a summarizer", "summarize this", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "orchestrator: run isolated turn")
	require.Contains(t, err.Error(), "no docker client configured")
}
