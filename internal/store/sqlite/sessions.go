package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sandboxagent/core/internal/model"
)

func (s *Store) GetOrCreateSession(ctx context.Context, sessionID, channelID string) (*model.Session, error) {
	if sess, err := s.GetSession(ctx, sessionID); err == nil && sess != nil {
		return sess, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, channel_id, created_at, last_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		sessionID, channelID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create session: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, guild_id, channel_id, bot_id, model, enable_rag, message_count,
		       session_summary, summary_updated_at, compaction_count, memory_flush_at,
		       created_at, last_active
		FROM sessions WHERE id = ?`, sessionID)

	var sess model.Session
	var guildID, botID, modelID, summary sql.NullString
	var summaryUpdated, memoryFlushAt sql.NullTime
	var enableRAG int
	err := row.Scan(&sess.ID, &guildID, &sess.ChannelID, &botID, &modelID, &enableRAG,
		&sess.MessageCount, &summary, &summaryUpdated, &sess.CompactionCount, &memoryFlushAt,
		&sess.CreatedAt, &sess.LastActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get session: %w", err)
	}
	sess.GuildID = guildID.String
	sess.BotID = botID.String
	sess.ModelID = modelID.String
	sess.EnableRAG = enableRAG != 0
	sess.SessionSummary = summary.String
	if summaryUpdated.Valid {
		sess.SummaryUpdated = &summaryUpdated.Time
	}
	if memoryFlushAt.Valid {
		sess.MemoryFlushAt = &memoryFlushAt.Time
	}
	return &sess, nil
}

func (s *Store) UpdateSessionSettings(ctx context.Context, sessionID, botID, modelID string, enableRAG bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET bot_id = ?, model = ?, enable_rag = ?, last_active = ? WHERE id = ?`,
		botID, modelID, boolToInt(enableRAG), time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("sqlite: update session settings: %w", err)
	}
	return nil
}

func (s *Store) SetSessionSummary(ctx context.Context, sessionID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET session_summary = ?, summary_updated_at = ? WHERE id = ?`,
		summary, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("sqlite: set session summary: %w", err)
	}
	return nil
}

func (s *Store) BumpMessageCount(ctx context.Context, sessionID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET message_count = message_count + ?, last_active = ? WHERE id = ?`,
		delta, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("sqlite: bump message count: %w", err)
	}
	return nil
}

func (s *Store) IncrementCompactionCount(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET compaction_count = compaction_count + 1 WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("sqlite: increment compaction count: %w", err)
	}
	return nil
}

func (s *Store) SetMemoryFlushAt(ctx context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET memory_flush_at = ? WHERE id = ?`, at, sessionID)
	if err != nil {
		return fmt.Errorf("sqlite: set memory flush at: %w", err)
	}
	return nil
}

func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin clear session: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite: clear messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET message_count = 0, session_summary = '' WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite: clear session summary: %w", err)
	}
	return tx.Commit()
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin delete session: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite: delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite: delete session: %w", err)
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
