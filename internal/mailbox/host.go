package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HostPollInterval is the fallback poll cadence when no filesystem
// notification arrives in time (§4.3 "host polls at 250 ms").
const HostPollInterval = 250 * time.Millisecond

// MaxReplyBytes bounds output.json; larger replies are unlinked and
// surfaced as an error (§4.3).
const MaxReplyBytes = 10 * 1024 * 1024

// Mailbox is the host-side view of one session's IPC directory.
type Mailbox struct {
	Dir string
}

// New returns a Mailbox rooted at dir, creating it if necessary.
func New(dir string) (*Mailbox, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("mailbox: mkdir: %w", err)
	}
	return &Mailbox{Dir: dir}, nil
}

func (m *Mailbox) inputPath() string  { return filepath.Join(m.Dir, "input.json") }
func (m *Mailbox) outputPath() string { return filepath.Join(m.Dir, "output.json") }

// SendFirstTurn writes req as a single line ending in \n to w — the spawn
// primitive's stdin — and must never be written to disk (§4.3).
func (m *Mailbox) SendFirstTurn(w io.Writer, req TurnRequest) error {
	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("mailbox: encode first-turn request: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("mailbox: write first-turn request: %w", err)
	}
	return nil
}

// SendFollowUp writes req to input.json with the API key blanked — the
// container retains the first-turn key in memory (§4.3).
func (m *Mailbox) SendFollowUp(req TurnRequest) error {
	req.APIKey = ""
	return writeAtomic(m.inputPath(), req)
}

func writeAtomic(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mailbox: encode: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("mailbox: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("mailbox: rename into place: %w", err)
	}
	return nil
}

// AwaitResponse waits for output.json to appear, reads it, unlinks it, and
// returns the parsed reply. It returns early on ctx cancellation or once
// idleTimeout elapses with no reply. A watcher wakes the poll loop promptly
// on filesystem events; a ticker is the fallback if the watch itself fails
// to fire (e.g. on filesystems without inotify support).
func (m *Mailbox) AwaitResponse(ctx context.Context, idleTimeout time.Duration) (*TurnResponse, error) {
	deadline := time.Now().Add(idleTimeout)

	watcher, werr := fsnotify.NewWatcher()
	if werr == nil {
		defer watcher.Close()
		_ = watcher.Add(m.Dir)
	}

	ticker := time.NewTicker(HostPollInterval)
	defer ticker.Stop()

	for {
		if resp, err := m.tryReadResponse(); resp != nil || err != nil {
			return resp, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("mailbox: timed out waiting for reply after %s", idleTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		case <-watcherEvents(watcher):
		}
	}
}

func watcherEvents(w *fsnotify.Watcher) <-chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

func (m *Mailbox) tryReadResponse() (*TurnResponse, error) {
	path := m.outputPath()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mailbox: stat output: %w", err)
	}
	if info.Size() > MaxReplyBytes {
		_ = os.Remove(path)
		return nil, fmt.Errorf("mailbox: reply exceeded %d bytes, discarded", MaxReplyBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("mailbox: read output: %w", err)
	}
	_ = os.Remove(path)

	var resp TurnResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("mailbox: decode output: %w", err)
	}
	return &resp, nil
}
