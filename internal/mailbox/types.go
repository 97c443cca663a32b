// Package mailbox implements the per-session IPC exchange between the host
// and a sandboxed container process (§4.3): a first-turn request delivered
// over a private stdin line, follow-up requests/replies exchanged through
// input.json/output.json in a bind-mounted directory.
package mailbox

import "github.com/sandboxagent/core/internal/llm"

// TurnRequest carries everything needed to drive one turn (§6).
type TurnRequest struct {
	SessionID      string        `json:"sessionId"`
	Messages       []llm.Message `json:"messages"`
	ChatbotID      string        `json:"chatbotId"`
	EnableRAG      bool          `json:"enableRag"`
	APIKey         string        `json:"apiKey"`
	BaseURL        string        `json:"baseUrl"`
	Model          string        `json:"model"`
	ChannelID      string        `json:"channelId"`
	ScheduledTasks []TaskSummary `json:"scheduledTasks,omitempty"`
	AllowedTools   []string      `json:"allowedTools,omitempty"`
}

// TaskSummary is a sanitized view of a scheduled task exposed to the
// container's "cron list" tool action — no session internals beyond what
// the turn needs to describe it.
type TaskSummary struct {
	ID       string `json:"id"`
	Prompt   string `json:"prompt"`
	CronExpr string `json:"cronExpr,omitempty"`
	RunAt    string `json:"runAt,omitempty"`
	EveryMs  int64  `json:"everyMs,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// ToolExecution is one recorded tool call within a turn.
type ToolExecution struct {
	Name          string `json:"name"`
	Arguments     string `json:"arguments"`
	Result        string `json:"result"`
	DurationMs    int64  `json:"durationMs"`
	IsError       bool   `json:"isError,omitempty"`
	Blocked       bool   `json:"blocked,omitempty"`
	BlockedReason string `json:"blockedReason,omitempty"`
}

// SideEffects carries host-processed follow-up work emitted by a turn.
type SideEffects struct {
	Schedules   []ScheduleMutation  `json:"schedules,omitempty"`
	Delegations []DelegationPayload `json:"delegations,omitempty"`
}

// ScheduleMutation is one pending add/remove produced by the "cron" tool.
type ScheduleMutation struct {
	Action   string `json:"action"` // "add" | "remove"
	TaskID   string `json:"taskId,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	CronExpr string `json:"cronExpr,omitempty"`
	RunAt    string `json:"runAt,omitempty"`
	EveryMs  int64  `json:"everyMs,omitempty"`
}

// DelegationPayload is the raw side-effect produced by the "delegate" tool,
// normalized downstream by the delegation manager (§4.7).
type DelegationPayload struct {
	Mode  string               `json:"mode,omitempty"`
	Label string               `json:"label,omitempty"`
	Tasks []DelegationTaskSpec `json:"tasks,omitempty"`
	Chain []DelegationTaskSpec `json:"chain,omitempty"`
	Model string               `json:"model,omitempty"`
}

// DelegationTaskSpec is one task entry within a DelegationPayload.
type DelegationTaskSpec struct {
	Prompt string `json:"prompt"`
	Label  string `json:"label,omitempty"`
	Model  string `json:"model,omitempty"`
}

// Status values for TurnResponse.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// TurnResponse is the reply written to output.json (§6).
type TurnResponse struct {
	Status         string          `json:"status"`
	Result         *string         `json:"result"`
	Error          string          `json:"error,omitempty"`
	ToolsUsed      []string        `json:"toolsUsed"`
	ToolExecutions []ToolExecution `json:"toolExecutions,omitempty"`
	SideEffects    *SideEffects    `json:"sideEffects,omitempty"`
}
