package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sandboxagent/core/internal/mailbox"
	"github.com/sandboxagent/core/internal/model"
)

// CronTool exposes the "list"/"add"/"remove" intents of §4.4.3. It never
// touches storage directly: add/remove append to pendingSchedules, which
// the host resolves into C2 writes and a scheduler re-arm on turn return.
type CronTool struct {
	mu       sync.Mutex
	tasks    []mailbox.TaskSummary
	pending  []mailbox.ScheduleMutation
}

func NewCronTool(tasks []mailbox.TaskSummary) *CronTool {
	return &CronTool{tasks: tasks}
}

// PendingSchedules drains and returns the mutations accumulated this turn.
func (t *CronTool) PendingSchedules() []mailbox.ScheduleMutation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.pending
	t.pending = nil
	return out
}

func (t *CronTool) Name() string        { return "cron" }
func (t *CronTool) Description() string { return "List, schedule, or cancel recurring/one-shot prompts" }
func (t *CronTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action":   map[string]interface{}{"type": "string", "enum": []string{"list", "add", "remove"}},
			"prompt":   map[string]interface{}{"type": "string"},
			"at":       map[string]interface{}{"type": "string", "description": "RFC3339 one-shot fire time"},
			"cron":     map[string]interface{}{"type": "string", "description": "5-field cron expression"},
			"every":    map[string]interface{}{"type": "integer", "description": "interval in milliseconds"},
			"taskId":   map[string]interface{}{"type": "string"},
		},
		"required": []string{"action"},
	}
}

func (t *CronTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)
	switch action {
	case "list":
		return t.list()
	case "add":
		return t.add(args)
	case "remove":
		return t.remove(args)
	default:
		return ErrorResult(fmt.Sprintf("unknown cron action %q", action))
	}
}

func (t *CronTool) list() *Result {
	t.mu.Lock()
	tasks := t.tasks
	t.mu.Unlock()

	if len(tasks) == 0 {
		return NewResult("no scheduled tasks")
	}
	var b strings.Builder
	for _, task := range tasks {
		fmt.Fprintf(&b, "- %s: %q", task.ID, task.Prompt)
		switch {
		case task.CronExpr != "":
			fmt.Fprintf(&b, " (cron %s)", task.CronExpr)
		case task.EveryMs > 0:
			fmt.Fprintf(&b, " (every %dms)", task.EveryMs)
		case task.RunAt != "":
			fmt.Fprintf(&b, " (at %s)", task.RunAt)
		}
		if !task.Enabled {
			b.WriteString(" [disabled]")
		}
		b.WriteByte('\n')
	}
	return NewResult(b.String())
}

func (t *CronTool) add(args map[string]interface{}) *Result {
	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return ErrorResult("prompt is required")
	}
	at, _ := args["at"].(string)
	cronExpr, _ := args["cron"].(string)
	every, _ := numberArg(args["every"])
	if at == "" && cronExpr == "" && every <= 0 {
		return ErrorResult("one of at, cron, or every is required")
	}
	if every > 0 && every < model.MinEveryMs {
		return ErrorResult(fmt.Sprintf("every must be at least %dms", model.MinEveryMs))
	}

	mutation := mailbox.ScheduleMutation{
		Action:   "add",
		Prompt:   prompt,
		CronExpr: cronExpr,
		RunAt:    at,
		EveryMs:  int64(every),
	}
	t.mu.Lock()
	t.pending = append(t.pending, mutation)
	t.mu.Unlock()

	return NewResult("scheduled: " + prompt)
}

func (t *CronTool) remove(args map[string]interface{}) *Result {
	taskID, _ := args["taskId"].(string)
	if taskID == "" {
		return ErrorResult("taskId is required")
	}
	t.mu.Lock()
	t.pending = append(t.pending, mailbox.ScheduleMutation{Action: "remove", TaskID: taskID})
	t.mu.Unlock()
	return NewResult("removal recorded for " + taskID)
}
