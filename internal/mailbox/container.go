package mailbox

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ContainerPollInterval is the cadence at which the in-container side polls
// for input.json (§4.3 "container polls at 200 ms").
const ContainerPollInterval = 200 * time.Millisecond

// Inbox is the container-side view of one session's mailbox directory.
type Inbox struct {
	Dir string
}

func NewInbox(dir string) *Inbox { return &Inbox{Dir: dir} }

func (in *Inbox) inputPath() string  { return filepath.Join(in.Dir, "input.json") }
func (in *Inbox) outputPath() string { return filepath.Join(in.Dir, "output.json") }

// ReadFirstTurn reads the single-line JSON request from stdin, as delivered
// by the spawn primitive for the first turn of the process's lifetime.
func ReadFirstTurn(r io.Reader) (*TurnRequest, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("mailbox: read first-turn stdin: %w", err)
		}
		return nil, io.EOF
	}
	var req TurnRequest
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		return nil, fmt.Errorf("mailbox: decode first-turn request: %w", err)
	}
	return &req, nil
}

// PollNext waits until input.json appears, consumes it (read then unlink),
// and returns the parsed request. On parse failure the file stays removed
// and polling continues, so a valid file the host writes later is picked up
// on a following tick (§4.3).
func (in *Inbox) PollNext(idleTimeout time.Duration) (*TurnRequest, error) {
	deadline := time.Now().Add(idleTimeout)
	ticker := time.NewTicker(ContainerPollInterval)
	defer ticker.Stop()

	for {
		req, err := in.tryConsume()
		if req != nil || err != nil {
			return req, err
		}
		if time.Now().After(deadline) {
			return nil, nil // caller treats nil, nil as "idle timeout, exit 0"
		}
		<-ticker.C
	}
}

func (in *Inbox) tryConsume() (*TurnRequest, error) {
	path := in.inputPath()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mailbox: read input: %w", err)
	}
	_ = os.Remove(path)

	var req TurnRequest
	if err := json.Unmarshal(data, &req); err != nil {
		// Parse failure: retry on next poll tick rather than aborting (§4.3).
		return nil, nil
	}
	return &req, nil
}

// WriteResponse writes resp as pretty JSON to output.json (§4.3).
func (in *Inbox) WriteResponse(resp TurnResponse) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("mailbox: encode response: %w", err)
	}
	tmp := in.outputPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("mailbox: write response: %w", err)
	}
	if err := os.Rename(tmp, in.outputPath()); err != nil {
		return fmt.Errorf("mailbox: rename response into place: %w", err)
	}
	return nil
}
