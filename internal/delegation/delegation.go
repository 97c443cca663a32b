// Package delegation implements the delegation manager (C8): normalizing
// "delegate" side-effects into single/parallel/chain plans, enforcing depth
// and per-turn caps, and running child turns with retry and a two-view
// completion report.
package delegation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/sandboxagent/core/internal/mailbox"
)

// Defaults for the caps of §4.7 "Caps". Concrete deployments override these
// via config.
const (
	DefaultMaxDepth   = 3
	DefaultMaxPerTurn = 6
)

// MaxTasksPerPlan bounds a single plan regardless of caps (§4.7
// "Normalization").
const MaxTasksPerPlan = 6

// Mode values for a normalized Plan.
const (
	ModeSingle   = "single"
	ModeParallel = "parallel"
	ModeChain    = "chain"
)

// Plan is a normalized delegation request ready for execution.
type Plan struct {
	Mode  string
	Label string
	Tasks []Task
}

// Task is one normalized unit of work within a Plan.
type Task struct {
	Prompt string
	Label  string
	Model  string
}

// Normalize validates and classifies a raw payload per §4.7
// "Normalization".
func Normalize(p mailbox.DelegationPayload) (Plan, error) {
	mode := p.Mode
	if mode == "" {
		switch {
		case len(p.Chain) > 0:
			mode = ModeChain
		case len(p.Tasks) > 0:
			mode = ModeParallel
		default:
			mode = ModeSingle
		}
	}

	var rawTasks []mailbox.DelegationTaskSpec
	switch mode {
	case ModeChain:
		rawTasks = p.Chain
	case ModeParallel:
		rawTasks = p.Tasks
	case ModeSingle:
		if len(p.Tasks) > 0 {
			rawTasks = p.Tasks[:1]
		}
	default:
		return Plan{}, fmt.Errorf("delegation: unknown mode %q", mode)
	}

	if mode == ModeSingle && len(rawTasks) == 0 {
		return Plan{}, fmt.Errorf("delegation: single mode requires a prompt")
	}
	if len(rawTasks) > MaxTasksPerPlan {
		return Plan{}, fmt.Errorf("delegation: plan has %d tasks, exceeds limit of %d", len(rawTasks), MaxTasksPerPlan)
	}

	tasks := make([]Task, 0, len(rawTasks))
	for i, rt := range rawTasks {
		if strings.TrimSpace(rt.Prompt) == "" {
			return Plan{}, fmt.Errorf("delegation: task %d is missing a prompt", i)
		}
		model := rt.Model
		if model == "" {
			model = p.Model
		}
		tasks = append(tasks, Task{Prompt: rt.Prompt, Label: rt.Label, Model: model})
	}

	return Plan{Mode: mode, Label: p.Label, Tasks: tasks}, nil
}

// depthPrefix matches the "delegate:d<N>:" prefix of a child session id
// (§4.7 "Caps").
var depthPrefix = regexp.MustCompile(`^delegate:d(\d+):`)

// Depth computes the delegation depth of sessionID; a session with no
// delegate prefix is depth 0.
func Depth(sessionID string) int {
	m := depthPrefix.FindStringSubmatch(sessionID)
	if m == nil {
		return 0
	}
	d, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return d
}

var unsafeSessionChars = regexp.MustCompile(`[^a-zA-Z0-9:_-]`)

// ChildSessionID builds the id of §4.7 "Child session ids":
// delegate:d<N>:<safeParent>:<ts>:<nonce>.
func ChildSessionID(parentID string, depth int, now time.Time) string {
	safeParent := unsafeSessionChars.ReplaceAllString(parentID, "_")
	if len(safeParent) > 48 {
		safeParent = safeParent[:48]
	}
	return fmt.Sprintf("delegate:d%d:%s:%d:%s", depth, safeParent, now.UnixMilli(), nonce())
}

func nonce() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Executor runs one fully isolated child turn and reports its outcome.
// Implemented by orchestrator.PoolExecutor, which sends the task prompt as
// the child's only message together with the tool allow-list; it adds no
// subagent system prompt and creates no session row for the child.
type Executor interface {
	RunChildTurn(ctx context.Context, req ChildTurnRequest) (ChildTurnResult, error)
}

// ChildTurnRequest describes one task dispatch (§4.7 "Runtime").
type ChildTurnRequest struct {
	SessionID    string
	ParentID     string
	Prompt       string
	Model        string
	AllowedTools []string
}

// ChildTurnResult is what the executor reports back for one task.
type ChildTurnResult struct {
	Result    string
	ToolsUsed []string
}

// Manager runs accepted plans against an Executor, enforcing caps and
// producing completion reports (§4.7).
type Manager struct {
	Executor   Executor
	MaxDepth   int
	MaxPerTurn int
	Now        func() time.Time
}

func New(exec Executor, maxDepth, maxPerTurn int) *Manager {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if maxPerTurn <= 0 {
		maxPerTurn = DefaultMaxPerTurn
	}
	return &Manager{Executor: exec, MaxDepth: maxDepth, MaxPerTurn: maxPerTurn, Now: time.Now}
}

// Accept validates plan against depth and per-turn caps (§4.7 "Caps").
// acceptedThisTurn is the count of tasks already dispatched this turn
// before plan.
func (m *Manager) Accept(parentSessionID string, plan Plan, acceptedThisTurn int) error {
	depth := Depth(parentSessionID)
	if depth+1 > m.MaxDepth {
		return fmt.Errorf("delegation: depth %d exceeds MAX_DEPTH %d", depth+1, m.MaxDepth)
	}
	if acceptedThisTurn+len(plan.Tasks) > m.MaxPerTurn {
		return fmt.Errorf("delegation: plan would push accepted total past MAX_PER_TURN %d", m.MaxPerTurn)
	}
	return nil
}

// taskOutcome is the internal per-task record used to build both report
// views.
type taskOutcome struct {
	task       Task
	sessionID  string
	model      string
	status     string // "completed" | "failed" | "timeout"
	result     string
	err        error
	attempts   int
	durationMs int64
	toolsUsed  []string
}

// Run executes plan to completion and returns the two-view report
// (§4.7 "Completion report").
func (m *Manager) Run(ctx context.Context, parentSessionID string, plan Plan) Report {
	start := time.Now()
	depth := Depth(parentSessionID) + 1

	var outcomes []taskOutcome
	switch plan.Mode {
	case ModeChain:
		outcomes = m.runChain(ctx, parentSessionID, depth, plan.Tasks)
	default:
		outcomes = m.runParallel(ctx, parentSessionID, depth, plan.Tasks)
	}

	return buildReport(plan, outcomes, time.Since(start))
}

func (m *Manager) childAllowedTools(depth int) []string {
	base := []string{"read", "write", "edit", "delete", "glob", "grep", "bash", "memory"}
	if depth < m.MaxDepth {
		base = append(base, "delegate")
	}
	return base
}

func (m *Manager) runParallel(ctx context.Context, parentID string, depth int, tasks []Task) []taskOutcome {
	outcomes := make([]taskOutcome, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(tasks))

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			outcomes[i] = m.runOne(gctx, parentID, depth, task)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (m *Manager) runChain(ctx context.Context, parentID string, depth int, tasks []Task) []taskOutcome {
	outcomes := make([]taskOutcome, 0, len(tasks))
	var previous string

	for i, task := range tasks {
		prompt := task.Prompt
		if i > 0 {
			prompt = strings.ReplaceAll(prompt, "{previous}", strings.TrimSpace(previous))
		}
		t := task
		t.Prompt = prompt
		outcome := m.runOne(ctx, parentID, depth, t)
		outcomes = append(outcomes, outcome)
		if outcome.status != "completed" {
			break
		}
		previous = outcome.result
	}
	return outcomes
}

// runOne executes task with retry, backed by cenkalti/backoff/v5's
// ExponentialBackOff policy (same base/cap as the turn runner's model-call
// retry): permanent-classified errors stop retrying immediately, everything
// else doubles the delay up to retryMaxDelay for at most retryMaxAttempts
// tries.
func (m *Manager) runOne(ctx context.Context, parentID string, depth int, task Task) taskOutcome {
	sessionID := ChildSessionID(parentID, depth, m.Now())
	start := time.Now()
	attempt := 0

	policy := &backoff.ExponentialBackOff{
		InitialInterval: retryBaseDelay,
		MaxInterval:     retryMaxDelay,
		Multiplier:      2,
	}

	res, err := backoff.Retry(ctx, func() (ChildTurnResult, error) {
		attempt++
		res, err := m.Executor.RunChildTurn(ctx, ChildTurnRequest{
			SessionID:    sessionID,
			ParentID:     parentID,
			Prompt:       task.Prompt,
			Model:        task.Model,
			AllowedTools: m.childAllowedTools(depth),
		})
		if err == nil {
			return res, nil
		}
		if classifyError(err) == errorPermanent {
			return ChildTurnResult{}, backoff.Permanent(err)
		}
		slog.Warn("delegation.task_retry", "sessionId", sessionID, "attempt", attempt, "err", err)
		return ChildTurnResult{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(retryMaxAttempts)))

	outcome := taskOutcome{
		task:       task,
		sessionID:  sessionID,
		model:      task.Model,
		attempts:   attempt,
		durationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		outcome.err = err
		outcome.status = statusFromError(err)
		return outcome
	}
	outcome.status = "completed"
	outcome.result = res.Result
	outcome.toolsUsed = res.ToolsUsed
	return outcome
}

const (
	retryBaseDelay   = 2 * time.Second
	retryMaxDelay    = 8 * time.Second
	retryMaxAttempts = 3
)

type errorClass int

const (
	errorUnknown errorClass = iota
	errorPermanent
	errorTransient
)

var (
	permanentErrPattern = regexp.MustCompile(`(?i)forbidden|permission denied|unauthorized|not found|invalid api key|blocked by security hook`)
	transientErrPattern = regexp.MustCompile(`(?i)econnreset|etimedout|429|5\d\d|network|socket|fetch failed|temporar|rate limit|unavailable`)
	timeoutErrPattern   = regexp.MustCompile(`(?i)timeout|timed out|deadline exceeded`)
)

func classifyError(err error) errorClass {
	text := err.Error()
	switch {
	case permanentErrPattern.MatchString(text):
		return errorPermanent
	case transientErrPattern.MatchString(text):
		return errorTransient
	default:
		return errorUnknown
	}
}

func statusFromError(err error) string {
	if timeoutErrPattern.MatchString(err.Error()) {
		return "timeout"
	}
	return "failed"
}
