package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sandboxagent/core/internal/model"
)

func (s *Store) RecordApproval(ctx context.Context, a *model.ApprovalAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (session_id, tool_call_id, action, approved, approved_by, method, policy_name, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.SessionID, a.ToolCallID, a.Action, boolToInt(a.Approved), a.ApprovedBy, a.Method, nullableStr(a.PolicyName), a.Timestamp)
	if err != nil {
		return fmt.Errorf("sqlite: record approval: %w", err)
	}
	return nil
}

func (s *Store) GetRecentApprovals(ctx context.Context, limit int, deniedOnly bool) ([]*model.ApprovalAuditEntry, error) {
	query := `SELECT id, session_id, tool_call_id, action, approved, approved_by, method, policy_name, timestamp FROM approvals`
	if deniedOnly {
		query += ` WHERE approved = 0`
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get recent approvals: %w", err)
	}
	defer rows.Close()

	var out []*model.ApprovalAuditEntry
	for rows.Next() {
		var a model.ApprovalAuditEntry
		var policyName sql.NullString
		var approved int
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ToolCallID, &a.Action, &approved, &a.ApprovedBy, &a.Method, &policyName, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("sqlite: scan approval: %w", err)
		}
		a.Approved = approved != 0
		a.PolicyName = policyName.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
