package toolserver

import "testing"

func TestCreateTaskIsIdempotentOnDuplicateID(t *testing.T) {
	deps, _ := testDeps(t)
	args := map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"title":           "Ship it",
	}
	first := callHandler(t, handleCreateTask(deps), args)
	wantSuccess(t, first)
	second := callHandler(t, handleCreateTask(deps), args)
	wantSuccess(t, second)

	tasks, err := deps.Dashboard.ListTasks()
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected exactly 1 task after duplicate create, got %d", len(tasks))
	}
}

func TestUpdateTaskStatusRejectsInvalidTransition(t *testing.T) {
	deps, _ := testDeps(t)
	callHandler(t, handleCreateTask(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"title":           "Ship it",
	})
	out := callHandler(t, handleUpdateTaskStatus(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"status":          "completed",
	})
	wantErrorCode(t, out, "INVALID_TRANSITION")
}

func TestUpdateTaskStatusRejectsMutatingTerminalTask(t *testing.T) {
	deps, _ := testDeps(t)
	callHandler(t, handleCreateTask(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"title":           "Ship it",
	})
	callHandler(t, handleUpdateTaskStatus(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"status":          "in_progress",
	})
	done := callHandler(t, handleUpdateTaskStatus(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"status":          "completed",
	})
	wantSuccess(t, done)

	out := callHandler(t, handleUpdateTaskStatus(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"status":          "in_progress",
	})
	wantErrorCode(t, out, "TERMINAL_STATE_IMMUTABLE")
}

func TestReopenTaskResetsTerminalTaskToPending(t *testing.T) {
	deps, _ := testDeps(t)
	callHandler(t, handleCreateTask(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"title":           "Ship it",
	})
	callHandler(t, handleUpdateTaskStatus(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"status":          "in_progress",
	})
	callHandler(t, handleUpdateTaskStatus(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"status":          "failed",
	})

	out := callHandler(t, handleReopenTask(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
	})
	wantSuccess(t, out)

	task, err := deps.Dashboard.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != "pending" {
		t.Fatalf("expected reopened task to be pending, got %q", task.Status)
	}
}

func TestAssignTaskToAgentSetsCurrentTask(t *testing.T) {
	deps, _ := testDeps(t)
	callHandler(t, handleCreateTask(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"title":           "Ship it",
	})
	out := callHandler(t, handleAssignTaskToAgent(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"agent_id":        "worker-1",
	})
	wantSuccess(t, out)

	task, err := deps.Dashboard.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.AssignedAgentID != "worker-1" {
		t.Fatalf("expected task assigned to worker-1, got %q", task.AssignedAgentID)
	}
}

func TestReportTaskProgressUpdatesProgress(t *testing.T) {
	deps, _ := testDeps(t)
	callHandler(t, handleCreateTask(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"title":           "Ship it",
	})
	callHandler(t, handleAssignTaskToAgent(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"agent_id":        "worker-1",
	})
	callHandler(t, handleUpdateTaskStatus(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"status":          "in_progress",
	})

	out := callHandler(t, handleReportTaskProgress(deps), map[string]any{
		"caller_agent_id": "worker-1",
		"task_id":         "t1",
		"progress":        float64(42),
		"message":         "halfway there",
	})
	wantSuccess(t, out)

	task, err := deps.Dashboard.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Progress != 42 {
		t.Fatalf("expected progress 42, got %d", task.Progress)
	}
}

func TestReportTaskCompletionTransitionsToTerminal(t *testing.T) {
	deps, _ := testDeps(t)
	callHandler(t, handleCreateTask(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"title":           "Ship it",
	})
	callHandler(t, handleAssignTaskToAgent(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"agent_id":        "worker-1",
	})
	callHandler(t, handleUpdateTaskStatus(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"status":          "in_progress",
	})

	out := callHandler(t, handleReportTaskCompletion(deps), map[string]any{
		"caller_agent_id": "worker-1",
		"task_id":         "t1",
		"status":          "completed",
		"message":         "all done",
	})
	wantSuccess(t, out)

	task, err := deps.Dashboard.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != "completed" {
		t.Fatalf("expected completed status, got %q", task.Status)
	}
}

func TestRemoveTaskDeletesRecord(t *testing.T) {
	deps, _ := testDeps(t)
	callHandler(t, handleCreateTask(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"title":           "Ship it",
	})
	out := callHandler(t, handleRemoveTask(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
	})
	wantSuccess(t, out)

	if _, err := deps.Dashboard.GetTask("t1"); err == nil {
		t.Fatalf("expected GetTask to fail after removal")
	}
}

func TestGetDashboardReturnsSnapshot(t *testing.T) {
	deps, _ := testDeps(t)
	callHandler(t, handleCreateTask(deps), map[string]any{
		"caller_agent_id": "owner",
		"task_id":         "t1",
		"title":           "Ship it",
	})
	out := callHandler(t, handleGetDashboard(deps), map[string]any{"caller_agent_id": "owner"})
	wantSuccess(t, out)
	if _, ok := out["dashboard"]; !ok {
		t.Fatalf("expected dashboard field in response: %#v", out)
	}
}

func TestGetDashboardSummaryReturnsMarkdown(t *testing.T) {
	deps, _ := testDeps(t)
	out := callHandler(t, handleGetDashboardSummary(deps), map[string]any{"caller_agent_id": "owner"})
	wantSuccess(t, out)
	summary, _ := out["summary"].(string)
	if summary == "" {
		t.Fatalf("expected non-empty rendered summary")
	}
}
