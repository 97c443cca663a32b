package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sandboxagent/core/internal/model"
)

func (s *Store) IndexAuditEntry(ctx context.Context, e *model.StructuredAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO structured_audit (session_id, seq, event_type, timestamp, run_id, parent_run_id, payload, wire_prev_hash, wire_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Seq, e.EventType, e.Timestamp, e.RunID, nullableStr(e.ParentRunID), e.Payload, e.WirePrevHash, e.WireHash)
	if err != nil {
		return fmt.Errorf("sqlite: index audit entry: %w", err)
	}
	return nil
}

func (s *Store) SearchStructuredAudit(ctx context.Context, query string, limit int) ([]*model.StructuredAuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, event_type, timestamp, run_id, parent_run_id, payload, wire_prev_hash, wire_hash
		FROM structured_audit
		WHERE event_type LIKE ? OR payload LIKE ?
		ORDER BY timestamp DESC LIMIT ?`,
		"%"+query+"%", "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search structured audit: %w", err)
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

func (s *Store) RecentAuditEntries(ctx context.Context, sessionID string, limit int) ([]*model.StructuredAuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, event_type, timestamp, run_id, parent_run_id, payload, wire_prev_hash, wire_hash
		FROM structured_audit WHERE session_id = ? ORDER BY seq DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent audit entries: %w", err)
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

func scanAuditEntries(rows *sql.Rows) ([]*model.StructuredAuditEntry, error) {
	var out []*model.StructuredAuditEntry
	for rows.Next() {
		var e model.StructuredAuditEntry
		var parentRunID sql.NullString
		if err := rows.Scan(&e.SessionID, &e.Seq, &e.EventType, &e.Timestamp, &e.RunID, &parentRunID, &e.Payload, &e.WirePrevHash, &e.WireHash); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		e.ParentRunID = parentRunID.String
		out = append(out, &e)
	}
	return out, rows.Err()
}
