// Package model holds the data types shared across the core: sessions,
// stored messages, scheduled tasks, and audit/approval records (§3).
package model

import "time"

// Session is the persistent state for one conversation.
type Session struct {
	ID              string
	GuildID         string
	ChannelID       string
	BotID           string
	ModelID         string
	EnableRAG       bool
	MessageCount    int
	SessionSummary  string
	SummaryUpdated  *time.Time
	CompactionCount int
	MemoryFlushAt   *time.Time
	CreatedAt       time.Time
	LastActive      time.Time
}

// Role values for StoredMessage.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// StoredMessage is one persisted turn of conversation history.
type StoredMessage struct {
	ID        int64
	SessionID string
	UserID    string
	Username  string
	Role      string
	Content   string
	CreatedAt time.Time
}

// ScheduledTask is a cron, one-shot, or fixed-interval job (§3). Exactly one
// of CronExpr, RunAt, EveryMs is set.
type ScheduledTask struct {
	ID        string
	SessionID string
	ChannelID string
	Prompt    string
	CronExpr  string
	RunAt     *time.Time
	EveryMs   int64
	Enabled   bool
	LastRun   *time.Time
	CreatedAt time.Time
}

// MinEveryMs is the floor for interval tasks (§9 Open Questions: enforced at
// both the storage layer and any calling layer).
const MinEveryMs = 10_000

// IsOneShot reports whether t fires exactly once at an absolute instant.
func (t *ScheduledTask) IsOneShot() bool { return t.RunAt != nil }

// IsInterval reports whether t fires on a fixed period.
func (t *ScheduledTask) IsInterval() bool { return t.EveryMs > 0 }

// IsCron reports whether t fires on a cron expression.
func (t *ScheduledTask) IsCron() bool { return t.CronExpr != "" }

// StructuredAuditEntry mirrors one committed audit.WireRecord for storage
// in the structured-search index (§3, §4.2 searchStructuredAudit).
type StructuredAuditEntry struct {
	SessionID   string
	Seq         int64
	EventType   string
	Timestamp   time.Time
	RunID       string
	ParentRunID string
	Payload     string // redacted JSON
	WirePrevHash string
	WireHash     string
}

// ApprovalMethod values for ApprovalAuditEntry.Method.
const (
	ApprovalMethodPolicy      = "policy"
	ApprovalMethodInteractive = "interactive"
	ApprovalMethodCLI         = "cli"
)

// ApprovalAuditEntry records one tool-call approval outcome.
type ApprovalAuditEntry struct {
	ID         int64
	SessionID  string
	ToolCallID string
	Action     string
	Approved   bool
	ApprovedBy string
	Method     string
	PolicyName string
	Timestamp  time.Time
}

// DelegationMode values.
const (
	DelegationModeSingle   = "single"
	DelegationModeParallel = "parallel"
	DelegationModeChain    = "chain"
)

// DelegationTaskSpec is one task within a DelegationPlan.
type DelegationTaskSpec struct {
	Prompt string
	Label  string
	Model  string
}

// DelegationPlan is the normalized side-effect a turn can request (§3, §4.7).
type DelegationPlan struct {
	Mode  string
	Label string
	Tasks []DelegationTaskSpec
}

// MaxTasksPerPlan bounds |tasks| for a single plan.
const MaxTasksPerPlan = 6

// CacheEntry is one web-fetch cache slot.
type CacheEntry struct {
	Key       string
	Value     string
	ExpiresAt time.Time
}
