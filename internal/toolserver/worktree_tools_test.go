package toolserver

import "testing"

func TestCreateWorktreeThenAssignThenGetStatus(t *testing.T) {
	deps, _ := testDeps(t)
	createOut := callHandler(t, handleCreateWorktree(deps), map[string]any{
		"caller_agent_id": "owner",
		"repo_dir":        "/repo",
		"worktree_path":   "/repo/.worktrees/feature",
		"branch":          "feature",
	})
	wantSuccess(t, createOut)

	assignOut := callHandler(t, handleAssignWorktree(deps), map[string]any{
		"caller_agent_id": "owner",
		"worktree_path":   "/repo/.worktrees/feature",
		"agent_id":        "worker-1",
	})
	wantSuccess(t, assignOut)

	statusOut := callHandler(t, handleGetWorktreeStatus(deps), map[string]any{
		"caller_agent_id": "owner",
		"worktree_path":   "/repo/.worktrees/feature",
	})
	wantSuccess(t, statusOut)

	agent, err := deps.Registry.Lookup("worker-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if agent.WorktreePath != "/repo/.worktrees/feature" || agent.Branch != "feature" {
		t.Fatalf("expected agent record to carry the assigned worktree, got %+v", agent)
	}
}

func TestMergeCompletedTasksRefusesWhenGitDisabled(t *testing.T) {
	deps, _ := testDeps(t)
	deps.EnableGit = false
	out := callHandler(t, handleMergeCompletedTasks(deps), map[string]any{
		"caller_agent_id": "owner",
		"repo_dir":        "/repo",
		"base_branch":     "main",
	})
	wantErrorCode(t, out, "GIT_DISABLED")
}

func TestMergeCompletedTasksDefaultsBranchesFromCompletedTasks(t *testing.T) {
	deps, _ := testDeps(t)
	task, err := deps.Dashboard.CreateTask("t1", "Ship it", "", nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := deps.Dashboard.UpdateTaskStatus(task.ID, "in_progress", nil, ""); err != nil {
		t.Fatalf("UpdateTaskStatus in_progress: %v", err)
	}
	if _, err := deps.Dashboard.UpdateTaskStatus(task.ID, "completed", nil, ""); err != nil {
		t.Fatalf("UpdateTaskStatus completed: %v", err)
	}

	out := callHandler(t, handleMergeCompletedTasks(deps), map[string]any{
		"caller_agent_id": "owner",
		"repo_dir":        "/repo",
		"base_branch":     "main",
	})
	wantSuccess(t, out)
}
