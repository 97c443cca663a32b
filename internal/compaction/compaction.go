// Package compaction implements session compaction (C9): a best-effort
// memory flush followed by a summarization pass, triggered after each user
// turn once a session's message count crosses a threshold.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sandboxagent/core/internal/model"
)

const (
	DefaultThreshold      = 120
	DefaultKeepRecent     = 40
	DefaultSummaryMaxChars = 8000

	memoryFlushMaxMessages = 80
	memoryFlushMaxChars    = 24000
	summaryMaxMessages     = 240
	summaryMaxChars        = 80000

	memoryFlushSkipped = "MEMORY_FLUSH_SKIPPED"
)

// Store is the persistence boundary compaction reads and writes through.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	GetCompactionCandidateMessages(ctx context.Context, sessionID string, keepRecent int) (int64, []*model.StoredMessage, error)
	DeleteMessagesBeforeID(ctx context.Context, sessionID string, cutoffID int64) error
	SetSessionSummary(ctx context.Context, sessionID, summary string) error
	IncrementCompactionCount(ctx context.Context, sessionID string) error
	SetMemoryFlushAt(ctx context.Context, sessionID string, at time.Time) error
}

// IsolatedTurn runs one turn with no conversation history beyond the single
// supplied user prompt, the given tool allow-list (nil/empty means no
// tools), and returns its reply text.
type IsolatedTurn func(ctx context.Context, sessionID, systemPrompt, userPrompt string, allowedTools []string) (string, error)

// Config tunes the thresholds of §4.8.
type Config struct {
	Threshold        int
	KeepRecent       int
	SummaryMaxChars  int
	MemoryFlushOn    bool
}

func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, KeepRecent: DefaultKeepRecent, SummaryMaxChars: DefaultSummaryMaxChars, MemoryFlushOn: true}
}

// Compactor drives the pipeline of §4.8.
type Compactor struct {
	Store  Store
	Turn   IsolatedTurn
	Config Config
	Now    func() time.Time
}

func New(store Store, turn IsolatedTurn, cfg Config) *Compactor {
	return &Compactor{Store: store, Turn: turn, Config: cfg, Now: time.Now}
}

// Run performs one best-effort compaction attempt for sessionID. Any
// failure leaves the session unchanged (§4.8 "Commit").
func (c *Compactor) Run(ctx context.Context, sessionID string) {
	if err := c.run(ctx, sessionID); err != nil {
		slog.Warn("compaction.failed", "sessionId", sessionID, "err", err)
	}
}

func (c *Compactor) run(ctx context.Context, sessionID string) error {
	threshold := c.Config.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	keepRecent := c.Config.KeepRecent
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecent
	}
	if keepRecent > threshold-1 {
		keepRecent = threshold - 1
	}

	sess, err := c.Store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("compaction: get session: %w", err)
	}
	if sess == nil || sess.MessageCount < threshold {
		return nil
	}

	cutoffID, older, err := c.Store.GetCompactionCandidateMessages(ctx, sessionID, keepRecent)
	if err != nil {
		return fmt.Errorf("compaction: get candidates: %w", err)
	}
	if len(older) == 0 {
		return nil
	}

	if c.Config.MemoryFlushOn {
		c.memoryFlush(ctx, sessionID, older)
	}

	summary, err := c.summarize(ctx, sessionID, sess.SessionSummary, older)
	if err != nil {
		return fmt.Errorf("compaction: summarize: %w", err)
	}
	if strings.TrimSpace(summary) == "" {
		return nil
	}

	if err := c.Store.DeleteMessagesBeforeID(ctx, sessionID, cutoffID); err != nil {
		return fmt.Errorf("compaction: delete compacted messages: %w", err)
	}
	if err := c.Store.SetSessionSummary(ctx, sessionID, summary); err != nil {
		return fmt.Errorf("compaction: set summary: %w", err)
	}
	return c.Store.IncrementCompactionCount(ctx, sessionID)
}

func (c *Compactor) memoryFlush(ctx context.Context, sessionID string, older []*model.StoredMessage) {
	excerpt := formatTranscript(older, memoryFlushMaxMessages, memoryFlushMaxChars)
	prompt := fmt.Sprintf(
		"Review this older portion of the conversation and persist any durable facts worth remembering "+
			"to MEMORY.md or memory/<YYYY-MM-DD>.md using the memory tool. Always append, never overwrite. "+
			"If nothing is worth persisting, reply exactly %s.\n\n%s", memoryFlushSkipped, excerpt)

	reply, err := c.Turn(ctx, sessionID+":flush", "", prompt, []string{"memory"})
	if err != nil {
		slog.Warn("compaction.memory_flush_failed", "sessionId", sessionID, "err", err)
		return
	}
	if strings.TrimSpace(reply) != memoryFlushSkipped {
		if setErr := c.Store.SetMemoryFlushAt(ctx, sessionID, c.now()); setErr != nil {
			slog.Warn("compaction.memory_flush_mark_failed", "sessionId", sessionID, "err", setErr)
		}
	}
}

func (c *Compactor) summarize(ctx context.Context, sessionID, existingSummary string, older []*model.StoredMessage) (string, error) {
	excerpt := formatTranscript(older, summaryMaxMessages, summaryMaxChars)

	system := "Replace the existing summary with a single merged, compressed summary of the conversation so far. " +
		"Preserve goals, decisions, constraints, preferences, and open follow-ups. Do not include tool output verbatim."
	prompt := fmt.Sprintf("Existing summary:\n%s\n\nOlder messages to merge in:\n%s", existingSummary, excerpt)

	reply, err := c.Turn(ctx, sessionID+":summarize", system, prompt, nil)
	if err != nil {
		return "", err
	}

	reply = stripCodeFences(reply)
	max := c.Config.SummaryMaxChars
	if max <= 0 {
		max = DefaultSummaryMaxChars
	}
	if len(reply) > max {
		reply = reply[:max]
	}
	return strings.TrimSpace(reply), nil
}

func (c *Compactor) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func formatTranscript(messages []*model.StoredMessage, maxMessages, maxChars int) string {
	start := 0
	if len(messages) > maxMessages {
		start = len(messages) - maxMessages
	}
	var b strings.Builder
	for _, m := range messages[start:] {
		line := fmt.Sprintf("[%s] %s\n", m.Role, m.Content)
		if b.Len()+len(line) > maxChars {
			break
		}
		b.WriteString(line)
	}
	return b.String()
}

func stripCodeFences(s string) string {
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
