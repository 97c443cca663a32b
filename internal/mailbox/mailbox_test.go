package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHostContainerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	host, err := New(dir)
	require.NoError(t, err)
	inbox := NewInbox(dir)

	req := TurnRequest{SessionID: "sess-1", ChatbotID: "bot", BaseURL: "http://x"}
	require.NoError(t, host.SendFollowUp(req))

	got, err := inbox.PollNext(2 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "sess-1", got.SessionID)
	require.Empty(t, got.APIKey)

	// input.json must be unlinked after consumption.
	second, err := inbox.PollNext(300 * time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, second)

	result := "hello"
	resp := TurnResponse{Status: StatusSuccess, Result: &result, ToolsUsed: []string{}}
	require.NoError(t, inbox.WriteResponse(resp))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	gotResp, err := host.AwaitResponse(ctx, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, gotResp.Status)
	require.Equal(t, "hello", *gotResp.Result)
}

func TestAwaitResponseTimesOut(t *testing.T) {
	dir := t.TempDir()
	host, err := New(dir)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = host.AwaitResponse(ctx, 300*time.Millisecond)
	require.Error(t, err)
}
