// Package containerpool implements the per-session container pool (C6):
// spawn-or-reuse, concurrency capping, stderr tool-progress parsing, and
// best-effort teardown.
package containerpool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	dockerclient "github.com/docker/docker/client"

	"github.com/sandboxagent/core/internal/mailbox"
)

// MaxConcurrent bounds live pool entries (§4.5, default 5).
const MaxConcurrent = 5

// ProgressEvent is dispatched as stderr lines matching the tool-progress
// protocol are observed (§4.5 "Stderr stream").
type ProgressEvent struct {
	SessionID  string
	Kind       string // "start" | "finish"
	ToolName   string
	Preview    string
	DurationMs int64
}

// ProgressCallback receives progress events for a running turn.
type ProgressCallback func(ProgressEvent)

type entry struct {
	sessionID     string
	containerID   string
	startedAt     time.Time
	mailboxDir    string
	stdin         io.WriteCloser
	progress      ProgressCallback
	firstTurnSent bool
}

// Pool manages one container per session key (§4.5).
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry

	docker      *dockerclient.Client
	image       string
	mailboxRoot string
	workspaceRoot string
	idleTimeout time.Duration
}

// Config configures Pool. Docker may be nil in tests, in which case
// spawning fails fast with an explicit error rather than touching a real
// daemon.
type Config struct {
	Docker        *dockerclient.Client
	Image         string
	MailboxRoot   string
	WorkspaceRoot string
	IdleTimeout   time.Duration
}

func New(cfg Config) *Pool {
	return &Pool{
		entries:       make(map[string]*entry),
		docker:        cfg.Docker,
		image:         cfg.Image,
		mailboxRoot:   cfg.MailboxRoot,
		workspaceRoot: cfg.WorkspaceRoot,
		idleTimeout:   cfg.IdleTimeout,
	}
}

// Count returns the number of live entries.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// RunTurn acquires or spawns the session's container, delivers req, and
// awaits the reply (§4.5 runTurn).
func (p *Pool) RunTurn(ctx context.Context, req mailbox.TurnRequest, cb ProgressCallback) (*mailbox.TurnResponse, error) {
	e, isNew, err := p.acquire(ctx, req.SessionID, cb)
	if err != nil {
		return nil, err
	}

	box, err := mailbox.New(e.mailboxDir)
	if err != nil {
		return nil, fmt.Errorf("containerpool: mailbox: %w", err)
	}

	if isNew {
		if err := box.SendFirstTurn(e.stdin, req); err != nil {
			return nil, fmt.Errorf("containerpool: send first turn: %w", err)
		}
		e.firstTurnSent = true
	} else {
		if err := box.SendFollowUp(req); err != nil {
			return nil, fmt.Errorf("containerpool: send follow-up: %w", err)
		}
	}

	return box.AwaitResponse(ctx, p.idleTimeout)
}

func (p *Pool) acquire(ctx context.Context, sessionID string, cb ProgressCallback) (*entry, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[sessionID]; ok && p.alive(e) {
		e.progress = cb
		return e, false, nil
	}

	if len(p.entries) >= MaxConcurrent {
		if _, exists := p.entries[sessionID]; !exists {
			return nil, false, fmt.Errorf("Too many active containers")
		}
	}

	e, err := p.spawn(ctx, sessionID, cb)
	if err != nil {
		return nil, false, err
	}
	p.entries[sessionID] = e
	return e, true, nil
}

func (p *Pool) alive(e *entry) bool {
	if p.docker == nil {
		return false
	}
	resp, err := p.docker.ContainerInspect(context.Background(), e.containerID)
	if err != nil {
		return false
	}
	return resp.State != nil && resp.State.Running
}

func (p *Pool) spawn(ctx context.Context, sessionID string, cb ProgressCallback) (*entry, error) {
	if p.docker == nil {
		return nil, fmt.Errorf("containerpool: no docker client configured")
	}

	mailboxDir := mailboxDirFor(p.mailboxRoot, sessionID)
	hostCfg := &container.HostConfig{
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": ""},
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: p.workspaceRoot, Target: "/workspace"},
			{Type: mount.TypeBind, Source: mailboxDir, Target: "/mailbox"},
		},
	}
	containerCfg := &container.Config{
		Image:        p.image,
		Env:          []string{fmt.Sprintf("CONTAINER_IDLE_TIMEOUT=%d", p.idleTimeout.Milliseconds())},
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := p.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("containerpool: create: %w", err)
	}
	if err := p.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("containerpool: start: %w", err)
	}

	attach, err := p.docker.ContainerAttach(ctx, created.ID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("containerpool: attach: %w", err)
	}

	e := &entry{
		sessionID:   sessionID,
		containerID: created.ID,
		startedAt:   time.Now(),
		mailboxDir:  mailboxDir,
		stdin:       attach.Conn,
		progress:    cb,
	}
	go e.consumeStderr(attach.Reader)
	return e, nil
}

// stderrProgressStart / stderrProgressFinish match §4.5's tool-progress
// protocol: "[tool] <name>: <preview>" and
// "[tool] <name> result (<ms>ms): <preview>".
var (
	stderrProgressStart  = regexp.MustCompile(`^\[tool\] ([^:]+): (.*)$`)
	stderrProgressFinish = regexp.MustCompile(`^\[tool\] ([^ ]+) result \((\d+)ms\): (.*)$`)
)

func (e *entry) consumeStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if e.progress == nil {
			continue
		}
		if m := stderrProgressFinish.FindStringSubmatch(line); m != nil {
			var ms int64
			fmt.Sscanf(m[2], "%d", &ms)
			e.progress(ProgressEvent{SessionID: e.sessionID, Kind: "finish", ToolName: m[1], Preview: m[3], DurationMs: ms})
			continue
		}
		if m := stderrProgressStart.FindStringSubmatch(line); m != nil {
			e.progress(ProgressEvent{SessionID: e.sessionID, Kind: "start", ToolName: m[1], Preview: m[2]})
		}
	}
}

// StopAll best-effort terminates every live container (§4.5 Teardown).
func (p *Pool) StopAll(ctx context.Context) {
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	for _, e := range entries {
		p.stopOne(ctx, e)
	}
}

func (p *Pool) stopOne(ctx context.Context, e *entry) {
	if p.docker == nil {
		return
	}
	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	timeoutSec := 10
	if err := p.docker.ContainerStop(stopCtx, e.containerID, container.StopOptions{Timeout: &timeoutSec}); err != nil {
		slog.Warn("containerpool.stop_failed", "sessionId", e.sessionID, "err", err)
	}
}

// Release removes a session's pool entry without stopping the container
// (used after process-exit callbacks observe it already gone, §4.5
// Teardown).
func (p *Pool) Release(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, sessionID)
}

func mailboxDirFor(root, sessionID string) string {
	return fmt.Sprintf("%s/%s", root, mailboxSafeID(sessionID))
}

var unsafeMailboxChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

func mailboxSafeID(id string) string {
	return unsafeMailboxChars.ReplaceAllString(id, "_")
}
