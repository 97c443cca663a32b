package containerpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxagent/core/internal/mailbox"
)

func TestRunTurnRejectsOverCapacityNewSession(t *testing.T) {
	p := New(Config{})
	for i := 0; i < MaxConcurrent; i++ {
		p.entries[mailboxSafeID(string(rune('a'+i)))] = &entry{sessionID: string(rune('a' + i))}
	}
	require.Equal(t, MaxConcurrent, p.Count())

	_, err := p.RunTurn(context.Background(), mailbox.TurnRequest{SessionID: "overflow"}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Too many active containers")
}

func TestSpawnWithoutDockerFailsFast(t *testing.T) {
	p := New(Config{MailboxRoot: t.TempDir()})
	_, err := p.RunTurn(context.Background(), mailbox.TurnRequest{SessionID: "s1"}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no docker client configured")
}

func TestMailboxSafeID(t *testing.T) {
	require.Equal(t, "delegate_d1_parent_123", mailboxSafeID("delegate:d1:parent:123"))
}

func TestStderrProgressPatterns(t *testing.T) {
	require.True(t, stderrProgressStart.MatchString("[tool] bash: ls -la"))
	require.True(t, stderrProgressFinish.MatchString("[tool] bash result (42ms): done"))
	require.False(t, stderrProgressStart.MatchString("not a progress line"))
}

func TestReleaseRemovesEntry(t *testing.T) {
	p := New(Config{})
	p.entries["s1"] = &entry{sessionID: "s1"}
	require.Equal(t, 1, p.Count())
	p.Release("s1")
	require.Equal(t, 0, p.Count())
}
