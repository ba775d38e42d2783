package historystore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertSessionAndSummary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	started := time.Now().UTC().Add(-time.Hour)

	stats := v1.DashboardStats{SessionStartedAt: &started, ProcessCrashCount: 2, ProcessRecoveryCount: 1}
	if err := store.UpsertSession(ctx, "sess-1", "/work", stats); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	summary, err := store.SessionSummaryFor(ctx, "sess-1")
	if err != nil {
		t.Fatalf("SessionSummaryFor: %v", err)
	}
	if summary.CrashCount != 2 || summary.RecoveryCount != 1 || summary.WorkspacePath != "/work" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestUpsertTaskIsIdempotentAndComputesDuration(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Now().UTC().Add(-10 * time.Minute)
	completed := time.Now().UTC()

	task := &v1.Task{ID: "t1", Title: "build x", Status: v1.TaskCompleted, CreatedAt: created, CompletedAt: &completed}
	if err := store.UpsertTask(ctx, "sess-1", task); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}
	if err := store.UpsertTask(ctx, "sess-1", task); err != nil {
		t.Fatalf("UpsertTask (second call): %v", err)
	}

	rows, err := store.ListTaskHistory(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ListTaskHistory: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one row after repeated upsert, got %d", len(rows))
	}
	if rows[0].DurationSeconds < 590 || rows[0].DurationSeconds > 610 {
		t.Fatalf("expected duration near 600s, got %d", rows[0].DurationSeconds)
	}
}

func TestRebuildReplacesSessionHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Now().UTC()

	stale := &v1.Task{ID: "stale", Title: "old", Status: v1.TaskFailed, CreatedAt: created}
	if err := store.UpsertTask(ctx, "sess-1", stale); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}

	fresh := []*v1.Task{
		{ID: "t1", Title: "a", Status: v1.TaskCompleted, CreatedAt: created},
		{ID: "t2", Title: "b", Status: v1.TaskFailed, CreatedAt: created},
	}
	if err := store.Rebuild(ctx, "sess-1", "/work", v1.DashboardStats{}, fresh); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	rows, err := store.ListTaskHistory(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ListTaskHistory: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected rebuild to replace stale history with exactly 2 rows, got %d", len(rows))
	}
	for _, r := range rows {
		if r.TaskID == "stale" {
			t.Fatalf("expected stale task row to be gone after rebuild")
		}
	}

	summary, err := store.SessionSummaryFor(ctx, "sess-1")
	if err != nil {
		t.Fatalf("SessionSummaryFor: %v", err)
	}
	if summary.CompletedTasks != 1 || summary.FailedTasks != 1 || summary.TotalTasks != 2 {
		t.Fatalf("unexpected summary after rebuild: %+v", summary)
	}
}

func TestSessionSummaryForUnknownSessionErrors(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.SessionSummaryFor(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected error for unknown session")
	}
}
