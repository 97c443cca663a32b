package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is embedded in every session's metadata genesis record.
const ProtocolVersion = "2.0"

// legacyPrevHash is used to seed the chain for logs written before the
// metadata genesis record existed. Kept only for backwards compatibility
// when replaying old files that lack a metadata line.
const legacyPrevHash = "0000000000000000000000000000000000000000000000000000000000000000000000000000"

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SafeID replaces characters outside [A-Za-z0-9_-] with underscores, for use
// in filesystem paths derived from untrusted identifiers.
func SafeID(id string) string {
	return unsafeIDChars.ReplaceAllString(id, "_")
}

// metadataRecord is the first line of every session's wire log.
type metadataRecord struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion"`
	SessionID       string `json:"sessionId"`
	CreatedAt       string `json:"createdAt"`
}

// WireRecord is one committed line of the audit log.
type WireRecord struct {
	Version      int         `json:"version"`
	Seq          int64       `json:"seq"`
	Timestamp    string      `json:"timestamp"`
	RunID        string      `json:"runId"`
	SessionID    string      `json:"sessionId"`
	ParentRunID  string      `json:"parentRunId,omitempty"`
	Event        interface{} `json:"event"`
	PrevHash     string      `json:"_prevHash"`
	Hash         string      `json:"_hash"`
}

// VerifyResult is returned by Chain.Verify.
type VerifyResult struct {
	OK             bool
	CheckedRecords int
	LastSeq        int64
	Errors         []string
}

type sessionState struct {
	mu       sync.Mutex
	path     string
	lastSeq  int64
	lastHash string
}

// Chain manages per-session hash-chained wire logs rooted at baseDir
// (conventionally "<data>/audit").
type Chain struct {
	baseDir string

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New creates a Chain rooted at baseDir. baseDir is created lazily on first
// append.
func New(baseDir string) *Chain {
	return &Chain{baseDir: baseDir, sessions: make(map[string]*sessionState)}
}

func (c *Chain) sessionDir(sessionID string) string {
	return filepath.Join(c.baseDir, SafeID(sessionID))
}

func (c *Chain) logPath(sessionID string) string {
	return filepath.Join(c.sessionDir(sessionID), "wire.jsonl")
}

// state returns the in-memory cache for sessionID, loading it by replaying
// the file from disk if this is the first touch in this process.
func (c *Chain) state(sessionID string) (*sessionState, error) {
	c.mu.Lock()
	st, ok := c.sessions[sessionID]
	if ok {
		c.mu.Unlock()
		return st, nil
	}
	st = &sessionState{path: c.logPath(sessionID)}
	c.sessions[sessionID] = st
	c.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	if err := c.replay(st, sessionID); err != nil {
		return nil, err
	}
	return st, nil
}

// replay reconstructs lastSeq/lastHash by reading the existing file, or
// creates a fresh metadata genesis record if none exists. Caller must hold
// st.mu.
func (c *Chain) replay(st *sessionState, sessionID string) error {
	f, err := os.Open(st.path)
	if os.IsNotExist(err) {
		return c.writeGenesis(st, sessionID)
	}
	if err != nil {
		return fmt.Errorf("audit: open log for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var genesisHash string
	haveMetadata := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var probe map[string]interface{}
		if err := json.Unmarshal(line, &probe); err != nil {
			continue
		}
		if t, _ := probe["type"].(string); t == "metadata" {
			var meta metadataRecord
			if err := json.Unmarshal(line, &meta); err != nil {
				return fmt.Errorf("audit: parse metadata record: %w", err)
			}
			canon, err := CanonicalJSON(meta)
			if err != nil {
				return err
			}
			genesisHash = sha256Hex(canon)
			haveMetadata = true
			st.lastHash = genesisHash
			st.lastSeq = 0
			continue
		}
		var rec WireRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("audit: parse wire record: %w", err)
		}
		st.lastSeq = rec.Seq
		st.lastHash = rec.Hash
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("audit: scan log: %w", err)
	}
	if !haveMetadata && st.lastSeq == 0 {
		st.lastHash = legacyPrevHash
	}
	return nil
}

func (c *Chain) writeGenesis(st *sessionState, sessionID string) error {
	if err := os.MkdirAll(filepath.Dir(st.path), 0o700); err != nil {
		return fmt.Errorf("audit: mkdir: %w", err)
	}
	meta := metadataRecord{
		Type:            "metadata",
		ProtocolVersion: ProtocolVersion,
		SessionID:       sessionID,
		CreatedAt:       time.Now().UTC().Format(time.RFC3339Nano),
	}
	canon, err := CanonicalJSON(meta)
	if err != nil {
		return err
	}
	hash := sha256Hex(canon)

	f, err := os.OpenFile(st.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: create log: %w", err)
	}
	defer f.Close()
	line, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write genesis: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("audit: fsync genesis: %w", err)
	}
	st.lastHash = hash
	st.lastSeq = 0
	return nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// AppendEvent appends a new wire record for sessionID and returns the
// committed record. Append failures are returned to the caller but are
// expected to be logged and swallowed by callers in the turn path — they
// must never abort the surrounding turn.
func (c *Chain) AppendEvent(sessionID, runID, parentRunID string, event interface{}) (*WireRecord, error) {
	st, err := c.state(sessionID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	redacted := RedactValue(normalizeEvent(event))

	rec := WireRecord{
		Version:     1,
		Seq:         st.lastSeq + 1,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		RunID:       runID,
		SessionID:   sessionID,
		ParentRunID: parentRunID,
		Event:       redacted,
		PrevHash:    st.lastHash,
	}
	unhashed := rec
	unhashed.Hash = ""
	canon, err := CanonicalJSON(unhashed)
	if err != nil {
		return nil, fmt.Errorf("audit: canonicalize record: %w", err)
	}
	rec.Hash = sha256Hex(canon)

	line, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal record: %w", err)
	}

	f, err := os.OpenFile(st.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open log for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("audit: write record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("audit: fsync record: %w", err)
	}

	st.lastSeq = rec.Seq
	st.lastHash = rec.Hash
	return &rec, nil
}

// AppendEventSafe is AppendEvent with the logging-and-continue contract
// baked in, for call sites that must never propagate an audit failure into
// the turn path (§4.1 Failure semantics).
func (c *Chain) AppendEventSafe(sessionID, runID, parentRunID string, event interface{}) {
	if _, err := c.AppendEvent(sessionID, runID, parentRunID, event); err != nil {
		slog.Warn("audit.append_failed", "session", sessionID, "runId", runID, "error", err)
	}
}

func normalizeEvent(event interface{}) interface{} {
	raw, err := json.Marshal(sanitizeNumbers(event))
	if err != nil {
		return map[string]string{"_marshalError": err.Error()}
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return map[string]string{"_unmarshalError": err.Error()}
	}
	return generic
}

// Verify replays sessionID's log and checks hash-chain continuity.
// Verify errors are accumulated, never fatal to the caller.
func (c *Chain) Verify(sessionID string) VerifyResult {
	result := VerifyResult{OK: true}
	path := c.logPath(sessionID)
	f, err := os.Open(path)
	if err != nil {
		result.OK = false
		result.Errors = append(result.Errors, fmt.Sprintf("open log: %v", err))
		return result
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	prevHash := ""
	haveGenesis := false
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		var probe map[string]interface{}
		if err := json.Unmarshal(line, &probe); err != nil {
			result.OK = false
			result.Errors = append(result.Errors, fmt.Sprintf("parse line: %v", err))
			continue
		}
		if t, _ := probe["type"].(string); t == "metadata" {
			var meta metadataRecord
			_ = json.Unmarshal(line, &meta)
			canon, err := CanonicalJSON(meta)
			if err != nil {
				result.OK = false
				result.Errors = append(result.Errors, fmt.Sprintf("canonicalize genesis: %v", err))
				continue
			}
			prevHash = sha256Hex(canon)
			haveGenesis = true
			continue
		}
		if !haveGenesis && prevHash == "" {
			prevHash = legacyPrevHash
		}

		var rec WireRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			result.OK = false
			result.Errors = append(result.Errors, fmt.Sprintf("parse wire record: %v", err))
			continue
		}
		result.CheckedRecords++

		if rec.PrevHash != prevHash {
			result.OK = false
			result.Errors = append(result.Errors, fmt.Sprintf("seq %d: prevHash mismatch", rec.Seq))
		}
		if rec.Seq != result.LastSeq+1 {
			result.OK = false
			result.Errors = append(result.Errors, fmt.Sprintf("seq %d: not dense (expected %d)", rec.Seq, result.LastSeq+1))
		}

		unhashed := rec
		unhashed.Hash = ""
		canon, err := CanonicalJSON(unhashed)
		if err != nil {
			result.OK = false
			result.Errors = append(result.Errors, fmt.Sprintf("seq %d: canonicalize: %v", rec.Seq, err))
			continue
		}
		wantHash := sha256Hex(canon)
		if wantHash != rec.Hash {
			result.OK = false
			result.Errors = append(result.Errors, fmt.Sprintf("seq %d: hash mismatch (tampered)", rec.Seq))
		}

		prevHash = rec.Hash
		result.LastSeq = rec.Seq
	}
	if err := scanner.Err(); err != nil {
		result.OK = false
		result.Errors = append(result.Errors, fmt.Sprintf("scan: %v", err))
	}
	return result
}

// NewRunID generates a run identifier for a turn or delegated sub-run.
func NewRunID() string {
	return uuid.NewString()
}
