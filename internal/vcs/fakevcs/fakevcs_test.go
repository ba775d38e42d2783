package fakevcs

import (
	"context"
	"testing"
)

func TestWorktreeAddAndRemove(t *testing.T) {
	a := New()
	ctx := context.Background()

	if err := a.WorktreeAdd(ctx, "/repo", "/repo/.worktrees/w1", "feature-1", "main"); err != nil {
		t.Fatalf("WorktreeAdd: %v", err)
	}
	exists, err := a.BranchExists(ctx, "/repo", "feature-1")
	if err != nil || !exists {
		t.Fatalf("expected feature-1 to exist, err=%v", err)
	}
	if err := a.WorktreeAdd(ctx, "/repo", "/repo/.worktrees/w2", "feature-1", "main"); err == nil {
		t.Fatalf("expected duplicate branch creation to fail")
	}
	if err := a.WorktreeRemove(ctx, "/repo", "/repo/.worktrees/w1", false); err != nil {
		t.Fatalf("WorktreeRemove: %v", err)
	}
	if err := a.WorktreeRemove(ctx, "/repo", "/repo/.worktrees/w1", false); err == nil {
		t.Fatalf("expected second remove to fail")
	}
}

func TestMergePreviewConflict(t *testing.T) {
	a := New()
	ctx := context.Background()
	if err := a.WorktreeAdd(ctx, "/repo", "/repo/.worktrees/w1", "feature-1", "main"); err != nil {
		t.Fatalf("WorktreeAdd: %v", err)
	}
	a.RegisterConflict("feature-1", "main", []string{"src/app.go"})

	result, err := a.MergePreview(ctx, "/repo", "main", "feature-1")
	if err != nil {
		t.Fatalf("MergePreview: %v", err)
	}
	if !result.Conflicted {
		t.Fatalf("expected conflict")
	}
	if len(result.ConflictPaths) != 1 || result.ConflictPaths[0] != "src/app.go" {
		t.Fatalf("unexpected conflict paths: %v", result.ConflictPaths)
	}
}

func TestMergePreviewClean(t *testing.T) {
	a := New()
	ctx := context.Background()
	if err := a.WorktreeAdd(ctx, "/repo", "/repo/.worktrees/w1", "feature-2", "main"); err != nil {
		t.Fatalf("WorktreeAdd: %v", err)
	}
	result, err := a.MergePreview(ctx, "/repo", "main", "feature-2")
	if err != nil {
		t.Fatalf("MergePreview: %v", err)
	}
	if result.Conflicted {
		t.Fatalf("expected clean merge")
	}
}

func TestMergePreviewUnknownBranch(t *testing.T) {
	a := New()
	if _, err := a.MergePreview(context.Background(), "/repo", "main", "ghost"); err == nil {
		t.Fatalf("expected error for unknown branch")
	}
}
