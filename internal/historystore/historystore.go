// Package historystore is an optional, rebuildable SQLite rollup of
// per-session task history and counters. The dashboard markdown file
// remains the single source of truth (spec.md §6); this store exists only
// to answer cross-session queries ("how long did tasks in session X take",
// "how many times has this session crashed") cheaply, and can always be
// dropped and rebuilt from the dashboard files on disk.
package historystore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// Store wraps a single-writer SQLite connection holding the rollup tables.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at dbPath and
// ensures its schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		workspace_path TEXT NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		crash_count INTEGER DEFAULT 0,
		recovery_count INTEGER DEFAULT 0,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_history (
		session_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_agent_id TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		duration_seconds INTEGER DEFAULT 0,
		PRIMARY KEY (session_id, task_id)
	);

	CREATE INDEX IF NOT EXISTS idx_task_history_session ON task_history(session_id);
	CREATE INDEX IF NOT EXISTS idx_task_history_status ON task_history(session_id, status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertSession records or updates a session's top-line counters.
func (s *Store) UpsertSession(ctx context.Context, sessionID, workspacePath string, stats v1.DashboardStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, workspace_path, started_at, finished_at, crash_count, recovery_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			workspace_path = excluded.workspace_path,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			crash_count = excluded.crash_count,
			recovery_count = excluded.recovery_count,
			updated_at = excluded.updated_at
	`, sessionID, workspacePath, stats.SessionStartedAt, stats.SessionFinishedAt, stats.ProcessCrashCount, stats.ProcessRecoveryCount, time.Now().UTC())
	return err
}

// UpsertTask records or updates one task's history row, deriving a
// duration from created_at/completed_at when the task has reached a
// terminal status.
func (s *Store) UpsertTask(ctx context.Context, sessionID string, task *v1.Task) error {
	var duration int64
	if task.CompletedAt != nil {
		duration = int64(task.CompletedAt.Sub(task.CreatedAt).Seconds())
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_history (session_id, task_id, title, status, assigned_agent_id, created_at, started_at, completed_at, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, task_id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			assigned_agent_id = excluded.assigned_agent_id,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			duration_seconds = excluded.duration_seconds
	`, sessionID, task.ID, task.Title, string(task.Status), task.AssignedAgentID, task.CreatedAt, task.StartedAt, task.CompletedAt, duration)
	return err
}

// Rebuild replaces a session's entire rollup from a live snapshot of its
// tasks, the store's only required recovery path if the SQLite file is
// ever deleted or found to be corrupt.
func (s *Store) Rebuild(ctx context.Context, sessionID, workspacePath string, stats v1.DashboardStats, tasks []*v1.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_history WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	for _, task := range tasks {
		var duration int64
		if task.CompletedAt != nil {
			duration = int64(task.CompletedAt.Sub(task.CreatedAt).Seconds())
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_history (session_id, task_id, title, status, assigned_agent_id, created_at, started_at, completed_at, duration_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sessionID, task.ID, task.Title, string(task.Status), task.AssignedAgentID, task.CreatedAt, task.StartedAt, task.CompletedAt, duration); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, workspace_path, started_at, finished_at, crash_count, recovery_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			workspace_path = excluded.workspace_path,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			crash_count = excluded.crash_count,
			recovery_count = excluded.recovery_count,
			updated_at = excluded.updated_at
	`, sessionID, workspacePath, stats.SessionStartedAt, stats.SessionFinishedAt, stats.ProcessCrashCount, stats.ProcessRecoveryCount, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// TaskHistoryRow is one row of a session's task rollup.
type TaskHistoryRow struct {
	TaskID          string
	Title           string
	Status          string
	AssignedAgentID string
	DurationSeconds int64
}

// ListTaskHistory returns every recorded task for a session, most recently
// created first.
func (s *Store) ListTaskHistory(ctx context.Context, sessionID string) ([]TaskHistoryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, title, status, assigned_agent_id, duration_seconds
		FROM task_history WHERE session_id = ? ORDER BY created_at DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskHistoryRow
	for rows.Next() {
		var r TaskHistoryRow
		if err := rows.Scan(&r.TaskID, &r.Title, &r.Status, &r.AssignedAgentID, &r.DurationSeconds); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SessionSummary is the aggregate a session's counters roll up to.
type SessionSummary struct {
	WorkspacePath string
	CrashCount    int
	RecoveryCount int
	TotalTasks    int
	CompletedTasks int
	FailedTasks   int
}

// SessionSummaryFor computes a session's aggregate counters.
func (s *Store) SessionSummaryFor(ctx context.Context, sessionID string) (*SessionSummary, error) {
	summary := &SessionSummary{}
	err := s.db.QueryRowContext(ctx, `
		SELECT workspace_path, crash_count, recovery_count FROM sessions WHERE session_id = ?
	`, sessionID).Scan(&summary.WorkspacePath, &summary.CrashCount, &summary.RecoveryCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM task_history WHERE session_id = ? GROUP BY status`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		summary.TotalTasks += count
		switch v1.TaskStatus(status) {
		case v1.TaskCompleted:
			summary.CompletedTasks = count
		case v1.TaskFailed:
			summary.FailedTasks = count
		}
	}
	return summary, rows.Err()
}
