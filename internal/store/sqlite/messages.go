package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sandboxagent/core/internal/model"
)

func (s *Store) InsertMessage(ctx context.Context, msg *model.StoredMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin insert message: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, user_id, username, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.SessionID, msg.UserID, msg.Username, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET message_count = message_count + 1, last_active = ? WHERE id = ?`,
		msg.CreatedAt, msg.SessionID); err != nil {
		return 0, fmt.Errorf("sqlite: bump message count on insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit insert message: %w", err)
	}
	return id, nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*model.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, username, role, content, created_at
		FROM messages WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Store) GetCompactionCandidateMessages(ctx context.Context, sessionID string, keepRecent int) (int64, []*model.StoredMessage, error) {
	all, err := s.ListMessages(ctx, sessionID)
	if err != nil {
		return 0, nil, err
	}
	if len(all) <= keepRecent {
		return 0, nil, nil
	}
	cutIdx := len(all) - keepRecent
	older := all[:cutIdx]
	cutoffID := older[len(older)-1].ID
	return cutoffID, older, nil
}

func (s *Store) DeleteMessagesBeforeID(ctx context.Context, sessionID string, cutoffID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE session_id = ? AND id <= ?`, sessionID, cutoffID)
	if err != nil {
		return fmt.Errorf("sqlite: delete messages before id: %w", err)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]*model.StoredMessage, error) {
	var out []*model.StoredMessage
	for rows.Next() {
		var m model.StoredMessage
		var username sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &username, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		m.Username = username.String
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows: %w", err)
	}
	return out, nil
}
