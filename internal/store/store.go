// Package store defines the persistence contract for sessions, messages,
// scheduled tasks, structured audit, and approvals (§3, §4.2), and a
// SQLite-backed implementation under store/sqlite.
package store

import (
	"context"
	"time"

	"github.com/sandboxagent/core/internal/model"
)

// Store is the full persistence surface consumed by the rest of the core.
type Store interface {
	SessionStore
	MessageStore
	TaskStore
	AuditIndexStore
	ApprovalStore

	Close() error
}

// SessionStore manages Session rows.
type SessionStore interface {
	GetOrCreateSession(ctx context.Context, sessionID, channelID string) (*model.Session, error)
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	UpdateSessionSettings(ctx context.Context, sessionID, botID, modelID string, enableRAG bool) error
	SetSessionSummary(ctx context.Context, sessionID, summary string) error
	BumpMessageCount(ctx context.Context, sessionID string, delta int) error
	IncrementCompactionCount(ctx context.Context, sessionID string) error
	SetMemoryFlushAt(ctx context.Context, sessionID string, at time.Time) error
	ClearSession(ctx context.Context, sessionID string) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// MessageStore manages StoredMessage rows.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *model.StoredMessage) (int64, error)
	ListMessages(ctx context.Context, sessionID string) ([]*model.StoredMessage, error)
	GetCompactionCandidateMessages(ctx context.Context, sessionID string, keepRecent int) (cutoffID int64, older []*model.StoredMessage, err error)
	DeleteMessagesBeforeID(ctx context.Context, sessionID string, cutoffID int64) error
}

// TaskStore manages ScheduledTask rows.
type TaskStore interface {
	CreateTask(ctx context.Context, t *model.ScheduledTask) error
	GetTask(ctx context.Context, id string) (*model.ScheduledTask, error)
	ListEnabledTasks(ctx context.Context) ([]*model.ScheduledTask, error)
	UpdateTaskLastRun(ctx context.Context, id string, at time.Time) error
	SetTaskEnabled(ctx context.Context, id string, enabled bool) error
	DeleteTask(ctx context.Context, id string) error
}

// AuditIndexStore manages the searchable structured-audit index that
// mirrors the append-only wire log (distinct from the hash-chained file
// itself, which lives in package audit).
type AuditIndexStore interface {
	IndexAuditEntry(ctx context.Context, e *model.StructuredAuditEntry) error
	SearchStructuredAudit(ctx context.Context, query string, limit int) ([]*model.StructuredAuditEntry, error)
	RecentAuditEntries(ctx context.Context, sessionID string, limit int) ([]*model.StructuredAuditEntry, error)
}

// ApprovalStore manages ApprovalAuditEntry rows.
type ApprovalStore interface {
	RecordApproval(ctx context.Context, a *model.ApprovalAuditEntry) error
	GetRecentApprovals(ctx context.Context, limit int, deniedOnly bool) ([]*model.ApprovalAuditEntry, error)
}
