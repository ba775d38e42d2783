package workspace

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentmux/agentmux/internal/terminal/faketerm"
	"github.com/agentmux/agentmux/internal/vcs/fakevcs"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func newTestProvisioner() (*Provisioner, *faketerm.Adapter, *fakevcs.Adapter) {
	term := faketerm.New()
	vc := fakevcs.New()
	return New(term, vc, nil), term, vc
}

func TestProvisionSessionLaysOutGridAndWritesConfig(t *testing.T) {
	p, _, _ := newTestProvisioner()
	dir := t.TempDir()
	cfg := v1.SessionConfig{SessionID: "sess-1", EnableGit: true}

	layout, err := p.ProvisionSession(context.Background(), dir, ".agentmux", cfg, 3)
	if err != nil {
		t.Fatalf("ProvisionSession: %v", err)
	}
	if layout.AdminPane.PaneIndex != 0 {
		t.Fatalf("expected admin pane at index 0, got %+v", layout.AdminPane)
	}
	if len(layout.WorkerPanes) != 3 {
		t.Fatalf("expected 3 worker panes, got %d", len(layout.WorkerPanes))
	}
	for i, ref := range layout.WorkerPanes {
		if ref.PaneIndex != i+1 {
			t.Errorf("worker pane %d has non-sequential index %d", i, ref.PaneIndex)
		}
	}

	root := filepath.Join(dir, ".agentmux")
	for _, sub := range []string{"dashboard", "tasks", "reports", "ipc", "memory"} {
		if _, err := os.Stat(filepath.Join(root, sub)); err != nil {
			t.Errorf("expected directory %s to exist: %v", sub, err)
		}
	}
	data, err := os.ReadFile(filepath.Join(root, "config.json"))
	if err != nil {
		t.Fatalf("config.json missing: %v", err)
	}
	var doc configDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("config.json not valid JSON: %v", err)
	}
	if !doc.EnableGit || doc.SessionID != "sess-1" {
		t.Fatalf("unexpected config contents: %+v", doc)
	}
}

func TestProvisionSessionFailsWhenSessionNameTaken(t *testing.T) {
	term := faketerm.New()
	vc := fakevcs.New()
	p := New(term, vc, nil)
	dir := t.TempDir()
	ctx := context.Background()

	// Pre-create a live session with the same name, so ProvisionSession's
	// CreateSession call fails before any pane is split.
	cfg := v1.SessionConfig{SessionID: "dup-session"}
	if _, err := term.CreateSession(ctx, "dup-session", dir); err != nil {
		t.Fatalf("pre-create: %v", err)
	}

	_, err := p.ProvisionSession(ctx, dir, ".agentmux", cfg, 2)
	if err == nil {
		t.Fatalf("expected ProvisionSession to fail because the session name is already taken")
	}
}

func TestResolveEnableGitPrecedence(t *testing.T) {
	dir := t.TempDir()
	truth := true
	falsity := false

	if got := ResolveEnableGit(&falsity, dir, true); got != false {
		t.Fatalf("call arg should win over everything, got %v", got)
	}

	data, _ := json.Marshal(configDoc{SessionID: "s", EnableGit: false})
	if err := os.WriteFile(filepath.Join(dir, "config.json"), data, 0o644); err != nil {
		t.Fatalf("write config.json: %v", err)
	}
	if got := ResolveEnableGit(nil, dir, true); got != false {
		t.Fatalf("existing config.json should win over env/config default, got %v", got)
	}

	empty := t.TempDir()
	if got := ResolveEnableGit(nil, empty, true); got != true {
		t.Fatalf("env/config default should apply when no config.json exists, got %v", got)
	}
	_ = truth
}

func TestCreateWorktreeRefusesOccupiedBranch(t *testing.T) {
	p, _, _ := newTestProvisioner()
	live := []*v1.Worktree{{Path: "/existing", Branch: "feature-x"}}

	_, err := p.CreateWorktree(context.Background(), "/repo", true, "/new/path", "feature-x", "main", live)
	if err == nil {
		t.Fatalf("expected conflict error for already-occupied branch")
	}
}

func TestCreateWorktreeRefusesWhenGitDisabled(t *testing.T) {
	p, _, _ := newTestProvisioner()
	_, err := p.CreateWorktree(context.Background(), "/repo", false, "/new/path", "feature-x", "main", nil)
	if err == nil {
		t.Fatalf("expected git-disabled error")
	}
}

func TestCreateWorktreeSucceeds(t *testing.T) {
	p, _, vc := newTestProvisioner()
	vc.AddBranch("main")
	wt, err := p.CreateWorktree(context.Background(), "/repo", true, "/wt/feature-x", "feature-x", "main", nil)
	if err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	if wt.Path != "/wt/feature-x" || wt.Branch != "feature-x" {
		t.Fatalf("unexpected worktree record: %+v", wt)
	}
}

func TestMergeCompletedTasksAlreadyMergedSkipped(t *testing.T) {
	p, _, vc := newTestProvisioner()
	vc.AddBranch("main")
	vc.AddBranch("task-1")
	vc.SetAncestor("task-1", "main", true)

	report, err := p.MergeCompletedTasks(context.Background(), "/repo", "main", StrategyMerge, []string{"task-1", "task-1"})
	if err != nil {
		t.Fatalf("MergeCompletedTasks: %v", err)
	}
	if len(report.AlreadyMerged) != 1 || report.AlreadyMerged[0] != "task-1" {
		t.Fatalf("expected task-1 reported as already merged exactly once, got %+v", report.AlreadyMerged)
	}
	if len(report.Merged) != 0 || !report.Success {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestMergeCompletedTasksMergesCleanBranch(t *testing.T) {
	p, _, vc := newTestProvisioner()
	vc.AddBranch("main")
	vc.AddBranch("task-1")

	report, err := p.MergeCompletedTasks(context.Background(), "/repo", "main", StrategyMerge, []string{"task-1"})
	if err != nil {
		t.Fatalf("MergeCompletedTasks: %v", err)
	}
	if len(report.Merged) != 1 || report.Merged[0] != "task-1" {
		t.Fatalf("expected task-1 merged, got %+v", report)
	}
	if !report.Success || !report.WorkingTreeUpdated {
		t.Fatalf("expected success with working tree updated, got %+v", report)
	}
	if report.BaseHead != "main" {
		t.Fatalf("expected base_head recorded as main, got %q", report.BaseHead)
	}
}

func TestMergeCompletedTasksReportsConflict(t *testing.T) {
	p, _, vc := newTestProvisioner()
	vc.AddBranch("main")
	vc.AddBranch("task-1")
	vc.SetConflict("task-1", []string{"src/main.go"})

	report, err := p.MergeCompletedTasks(context.Background(), "/repo", "main", StrategyMerge, []string{"task-1"})
	if err != nil {
		t.Fatalf("MergeCompletedTasks: %v", err)
	}
	if report.Success {
		t.Fatalf("expected success=false when a branch conflicts")
	}
	if paths := report.Conflicts["task-1"]; len(paths) != 1 || paths[0] != "src/main.go" {
		t.Fatalf("expected conflict paths recorded, got %+v", report.Conflicts)
	}
}

func TestMergeCompletedTasksUnknownBaseBranchFails(t *testing.T) {
	p, _, _ := newTestProvisioner()
	_, err := p.MergeCompletedTasks(context.Background(), "/repo", "missing-base", StrategyMerge, []string{"task-1"})
	if err == nil {
		t.Fatalf("expected branch-not-found error for unknown base branch")
	}
}
