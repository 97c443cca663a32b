package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sandboxagent/core/internal/model"
)

func (s *Store) CreateTask(ctx context.Context, t *model.ScheduledTask) error {
	if t.EveryMs > 0 && t.EveryMs < model.MinEveryMs {
		return fmt.Errorf("sqlite: create task: every must be at least %dms", model.MinEveryMs)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, session_id, channel_id, prompt, cron_expr, run_at, every_ms, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.ChannelID, t.Prompt, nullableStr(t.CronExpr), nullableTime(t.RunAt), t.EveryMs, boolToInt(t.Enabled), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: create task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*model.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, channel_id, prompt, cron_expr, run_at, every_ms, enabled, last_run, created_at
		FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (s *Store) ListEnabledTasks(ctx context.Context) ([]*model.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, channel_id, prompt, cron_expr, run_at, every_ms, enabled, last_run, created_at
		FROM tasks WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list enabled tasks: %w", err)
	}
	defer rows.Close()

	var out []*model.ScheduledTask
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTaskLastRun(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET last_run = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("sqlite: update task last run: %w", err)
	}
	return nil
}

func (s *Store) SetTaskEnabled(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("sqlite: set task enabled: %w", err)
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete task: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*model.ScheduledTask, error) {
	t, err := scanTaskRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func scanTaskRow(row rowScanner) (*model.ScheduledTask, error) {
	var t model.ScheduledTask
	var cronExpr sql.NullString
	var runAt, lastRun sql.NullTime
	var enabled int
	err := row.Scan(&t.ID, &t.SessionID, &t.ChannelID, &t.Prompt, &cronExpr, &runAt, &t.EveryMs, &enabled, &lastRun, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.CronExpr = cronExpr.String
	t.Enabled = enabled != 0
	if runAt.Valid {
		t.RunAt = &runAt.Time
	}
	if lastRun.Valid {
		t.LastRun = &lastRun.Time
	}
	return &t, nil
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
