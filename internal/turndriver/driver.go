// Package turndriver implements the end-to-end turn orchestration (C10):
// session resolution, message assembly, running the turn through the
// container pool, audit emission, and side-effect routing into the
// scheduler and delegation manager.
package turndriver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sandboxagent/core/internal/audit"
	"github.com/sandboxagent/core/internal/compaction"
	"github.com/sandboxagent/core/internal/containerpool"
	"github.com/sandboxagent/core/internal/delegation"
	"github.com/sandboxagent/core/internal/llm"
	"github.com/sandboxagent/core/internal/mailbox"
	"github.com/sandboxagent/core/internal/model"
	"github.com/sandboxagent/core/internal/scheduler"
)

// Store is the persistence surface the driver needs beyond what
// compaction/scheduler already define.
type Store interface {
	GetOrCreateSession(ctx context.Context, sessionID, channelID string) (*model.Session, error)
	UpdateSessionSettings(ctx context.Context, sessionID, botID, modelID string, enableRAG bool) error
	InsertMessage(ctx context.Context, msg *model.StoredMessage) (int64, error)
	ListMessages(ctx context.Context, sessionID string) ([]*model.StoredMessage, error)
	ListEnabledTasks(ctx context.Context) ([]*model.ScheduledTask, error)
	CreateTask(ctx context.Context, t *model.ScheduledTask) error
	DeleteTask(ctx context.Context, id string) error
}

// PromptHook produces a fragment of the system prompt, concatenated in
// registration order (§4.9 "build the message list").
type PromptHook func(ctx context.Context, sessionID string) (string, error)

// TurnOverrides carries per-request overrides merged onto session settings
// (§4.9 "merge request overrides with session settings").
type TurnOverrides struct {
	BotID     string
	ModelID   string
	EnableRAG *bool
	ChannelID string
}

// Driver wires C2 (store), C5 (pool), C7 (scheduler), C8 (delegation), and
// C9 (compaction) into one user-turn pipeline.
type Driver struct {
	Store       Store
	Pool        *containerpool.Pool
	Scheduler   *scheduler.Scheduler
	Delegations *delegation.Manager
	Compactor   *compaction.Compactor
	Audit       *audit.Chain
	PromptHooks []PromptHook
	BaseURL     string
}

// Result is the outcome of one driven turn, for the calling channel
// adapter to relay.
type Result struct {
	Reply string
	Err   error
}

// RunUserTurn executes §4.9 end to end for one incoming user message.
func (d *Driver) RunUserTurn(ctx context.Context, sessionID, userMessage string, overrides TurnOverrides) Result {
	runID := audit.NewRunID()
	d.Audit.AppendEventSafe(sessionID, runID, "", map[string]interface{}{"type": "session.start"})
	d.Audit.AppendEventSafe(sessionID, runID, "", map[string]interface{}{"type": "turn.start"})

	sess, err := d.Store.GetOrCreateSession(ctx, sessionID, overrides.ChannelID)
	if err != nil {
		return d.fail(sessionID, runID, fmt.Errorf("turndriver: resolve session: %w", err))
	}

	botID, modelID, enableRAG := mergeOverrides(sess, overrides)
	if botID != sess.BotID || modelID != sess.ModelID || enableRAG != sess.EnableRAG {
		if err := d.Store.UpdateSessionSettings(ctx, sessionID, botID, modelID, enableRAG); err != nil {
			slog.Warn("turndriver.settings_update_failed", "sessionId", sessionID, "err", err)
		}
	}

	history, err := d.Store.ListMessages(ctx, sessionID)
	if err != nil {
		return d.fail(sessionID, runID, fmt.Errorf("turndriver: list messages: %w", err))
	}

	messages, err := d.buildMessages(ctx, sessionID, sess.SessionSummary, history, userMessage)
	if err != nil {
		return d.fail(sessionID, runID, fmt.Errorf("turndriver: build messages: %w", err))
	}

	tasks, err := d.Store.ListEnabledTasks(ctx)
	if err != nil {
		return d.fail(sessionID, runID, fmt.Errorf("turndriver: list tasks: %w", err))
	}

	req := mailbox.TurnRequest{
		SessionID: sessionID,
		Messages:  messages,
		ChatbotID: botID,
		EnableRAG: enableRAG,
		BaseURL:   d.BaseURL,
		Model:     modelID,
		ChannelID: overrides.ChannelID,
		ScheduledTasks: toTaskSummaries(tasks),
	}

	start := time.Now()
	resp, err := d.Pool.RunTurn(ctx, req, func(ev containerpool.ProgressEvent) {
		d.Audit.AppendEventSafe(sessionID, runID, "", map[string]interface{}{
			"type": "tool." + ev.Kind, "tool": ev.ToolName, "preview": ev.Preview,
		})
	})
	if err != nil {
		return d.fail(sessionID, runID, fmt.Errorf("turndriver: run turn: %w", err))
	}

	for _, exec := range resp.ToolExecutions {
		d.Audit.AppendEventSafe(sessionID, runID, "", map[string]interface{}{
			"type": "tool.call", "name": exec.Name, "arguments": exec.Arguments,
		})
		if exec.Blocked {
			d.Audit.AppendEventSafe(sessionID, runID, "", map[string]interface{}{
				"type": "authorization.check", "tool": exec.Name, "allowed": false,
			})
			d.Audit.AppendEventSafe(sessionID, runID, "", map[string]interface{}{
				"type": "approval.request", "tool": exec.Name, "reason": exec.BlockedReason,
			})
			d.Audit.AppendEventSafe(sessionID, runID, "", map[string]interface{}{
				"type": "approval.response", "tool": exec.Name, "approved": false,
			})
		} else {
			d.Audit.AppendEventSafe(sessionID, runID, "", map[string]interface{}{
				"type": "authorization.check", "tool": exec.Name, "allowed": true,
			})
		}
		d.Audit.AppendEventSafe(sessionID, runID, "", map[string]interface{}{
			"type": "tool.result", "name": exec.Name, "durationMs": exec.DurationMs, "isError": exec.IsError,
		})
	}

	d.Audit.AppendEventSafe(sessionID, runID, "", map[string]interface{}{
		"type": "model.usage", "durationMs": time.Since(start).Milliseconds(), "toolCalls": len(resp.ToolExecutions),
	})

	if resp.Status == mailbox.StatusError {
		return d.fail(sessionID, runID, fmt.Errorf("turndriver: turn error: %s", resp.Error))
	}

	reply := ""
	if resp.Result != nil {
		reply = *resp.Result
	}

	if _, err := d.Store.InsertMessage(ctx, &model.StoredMessage{SessionID: sessionID, Role: model.RoleUser, Content: userMessage, CreatedAt: time.Now().UTC()}); err != nil {
		slog.Warn("turndriver.persist_user_failed", "sessionId", sessionID, "err", err)
	}
	if _, err := d.Store.InsertMessage(ctx, &model.StoredMessage{SessionID: sessionID, Role: model.RoleAssistant, Content: reply, CreatedAt: time.Now().UTC()}); err != nil {
		slog.Warn("turndriver.persist_assistant_failed", "sessionId", sessionID, "err", err)
	}

	if d.Compactor != nil {
		go d.Compactor.Run(context.Background(), sessionID)
	}

	d.processSideEffects(ctx, sessionID, resp.SideEffects)

	d.Audit.AppendEventSafe(sessionID, runID, "", map[string]interface{}{"type": "turn.end", "status": "success"})
	d.Audit.AppendEventSafe(sessionID, runID, "", map[string]interface{}{"type": "session.end", "status": "success"})

	return Result{Reply: reply}
}

func (d *Driver) fail(sessionID, runID string, err error) Result {
	d.Audit.AppendEventSafe(sessionID, runID, "", map[string]interface{}{"type": "error", "message": err.Error()})
	d.Audit.AppendEventSafe(sessionID, runID, "", map[string]interface{}{"type": "turn.end", "status": "error"})
	d.Audit.AppendEventSafe(sessionID, runID, "", map[string]interface{}{"type": "session.end", "status": "error"})
	return Result{Err: err}
}

func (d *Driver) buildMessages(ctx context.Context, sessionID, summary string, history []*model.StoredMessage, userMessage string) ([]llm.Message, error) {
	var systemParts []string
	if summary != "" {
		systemParts = append(systemParts, "Conversation summary so far:\n"+summary)
	}
	for _, hook := range d.PromptHooks {
		part, err := hook(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(part) != "" {
			systemParts = append(systemParts, part)
		}
	}

	messages := make([]llm.Message, 0, len(history)+2)
	if len(systemParts) > 0 {
		messages = append(messages, llm.Message{Role: model.RoleSystem, Content: strings.Join(systemParts, "\n\n")})
	}
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: model.RoleUser, Content: userMessage})
	return messages, nil
}

func (d *Driver) processSideEffects(ctx context.Context, sessionID string, effects *mailbox.SideEffects) {
	if effects == nil {
		return
	}

	for _, mut := range effects.Schedules {
		if err := d.applyScheduleMutation(ctx, sessionID, mut); err != nil {
			slog.Warn("turndriver.schedule_mutation_failed", "sessionId", sessionID, "err", err)
			continue
		}
		if d.Scheduler != nil {
			if err := d.Scheduler.Rearm(ctx); err != nil {
				slog.Warn("turndriver.rearm_failed", "err", err)
			}
		}
	}

	for _, payload := range effects.Delegations {
		plan, err := delegation.Normalize(payload)
		if err != nil {
			slog.Warn("turndriver.delegation_normalize_failed", "sessionId", sessionID, "err", err)
			continue
		}
		if d.Delegations == nil {
			continue
		}
		if err := d.Delegations.Accept(sessionID, plan, 0); err != nil {
			slog.Warn("turndriver.delegation_rejected", "sessionId", sessionID, "err", err)
			continue
		}
		go func(p delegation.Plan) {
			report := d.Delegations.Run(context.Background(), sessionID, p)
			if _, err := d.Store.InsertMessage(context.Background(), &model.StoredMessage{
				SessionID: sessionID, Role: model.RoleAssistant, Content: report.ModelFacing, CreatedAt: time.Now().UTC(),
			}); err != nil {
				slog.Warn("turndriver.delegation_report_persist_failed", "sessionId", sessionID, "err", err)
			}
		}(plan)
	}
}

func (d *Driver) applyScheduleMutation(ctx context.Context, sessionID string, mut mailbox.ScheduleMutation) error {
	switch mut.Action {
	case "add":
		if mut.EveryMs > 0 && mut.EveryMs < model.MinEveryMs {
			return fmt.Errorf("turndriver: every must be at least %dms", model.MinEveryMs)
		}
		task := &model.ScheduledTask{
			ID:        fmt.Sprintf("task-%d", time.Now().UnixNano()),
			SessionID: sessionID,
			Prompt:    mut.Prompt,
			CronExpr:  mut.CronExpr,
			EveryMs:   mut.EveryMs,
			Enabled:   true,
			CreatedAt: time.Now().UTC(),
		}
		if mut.RunAt != "" {
			if t, err := time.Parse(time.RFC3339, mut.RunAt); err == nil {
				task.RunAt = &t
			}
		}
		return d.Store.CreateTask(ctx, task)
	case "remove":
		return d.Store.DeleteTask(ctx, mut.TaskID)
	default:
		return fmt.Errorf("turndriver: unknown schedule mutation %q", mut.Action)
	}
}

func mergeOverrides(sess *model.Session, o TurnOverrides) (botID, modelID string, enableRAG bool) {
	botID, modelID, enableRAG = sess.BotID, sess.ModelID, sess.EnableRAG
	if o.BotID != "" {
		botID = o.BotID
	}
	if o.ModelID != "" {
		modelID = o.ModelID
	}
	if o.EnableRAG != nil {
		enableRAG = *o.EnableRAG
	}
	return
}

func toTaskSummaries(tasks []*model.ScheduledTask) []mailbox.TaskSummary {
	out := make([]mailbox.TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		summary := mailbox.TaskSummary{ID: t.ID, Prompt: t.Prompt, CronExpr: t.CronExpr, EveryMs: t.EveryMs, Enabled: t.Enabled}
		if t.RunAt != nil {
			summary.RunAt = t.RunAt.Format(time.RFC3339)
		}
		out = append(out, summary)
	}
	return out
}
