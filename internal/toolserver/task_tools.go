package toolserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/permission"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func registerTaskTools(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("create_task",
			mcp.WithDescription("Create a task on the dashboard. Creating with an id that already exists is an idempotent no-op."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("task_id", mcp.Required()),
			mcp.WithString("title", mcp.Required()),
			mcp.WithString("description"),
		),
		handleCreateTask(d),
	)

	s.AddTool(
		mcp.NewTool("reopen_task",
			mcp.WithDescription("Reset a terminal task back to pending."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("task_id", mcp.Required()),
		),
		handleReopenTask(d),
	)

	s.AddTool(
		mcp.NewTool("update_task_status",
			mcp.WithDescription("Transition a task's status, validated against the allowed transition graph. Terminal statuses are immutable; use reopen_task first."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("task_id", mcp.Required()),
			mcp.WithString("status", mcp.Required(), mcp.Enum("pending", "in_progress", "blocked", "completed", "failed", "cancelled")),
			mcp.WithNumber("progress", mcp.Description("0-100")),
			mcp.WithString("error_message"),
		),
		handleUpdateTaskStatus(d),
	)

	s.AddTool(
		mcp.NewTool("assign_task_to_agent",
			mcp.WithDescription("Assign a task to an agent, freeing any prior assignee's current_task_id."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("task_id", mcp.Required()),
			mcp.WithString("agent_id", mcp.Required()),
		),
		handleAssignTaskToAgent(d),
	)

	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List every task on the dashboard."),
			mcp.WithString("caller_agent_id", mcp.Required()),
		),
		handleListTasks(d),
	)

	s.AddTool(
		mcp.NewTool("get_task",
			mcp.WithDescription("Fetch one task's record."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("task_id", mcp.Required()),
		),
		handleGetTask(d),
	)

	s.AddTool(
		mcp.NewTool("remove_task",
			mcp.WithDescription("Delete a task record outright."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("task_id", mcp.Required()),
		),
		handleRemoveTask(d),
	)

	s.AddTool(
		mcp.NewTool("report_task_progress",
			mcp.WithDescription("Worker-facing progress report: updates progress and logs a task_progress message. Self-only for workers."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("task_id", mcp.Required()),
			mcp.WithNumber("progress", mcp.Required()),
			mcp.WithString("message"),
		),
		handleReportTaskProgress(d),
	)

	s.AddTool(
		mcp.NewTool("report_task_completion",
			mcp.WithDescription("Worker-facing completion report: transitions the task to completed or failed and logs a completion message. Self-only for workers."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("task_id", mcp.Required()),
			mcp.WithString("status", mcp.Required(), mcp.Enum("completed", "failed")),
			mcp.WithString("message"),
		),
		handleReportTaskCompletion(d),
	)

	s.AddTool(
		mcp.NewTool("get_dashboard",
			mcp.WithDescription("Fetch the full dashboard snapshot: tasks, agent summaries, session stats, and the message log."),
			mcp.WithString("caller_agent_id", mcp.Required()),
		),
		handleGetDashboard(d),
	)

	s.AddTool(
		mcp.NewTool("get_dashboard_summary",
			mcp.WithDescription("Fetch the dashboard's rendered markdown (the same TASKS.md content a human would read)."),
			mcp.WithString("caller_agent_id", mcp.Required()),
		),
		handleGetDashboardSummary(d),
	)
}

func handleCreateTask(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return fail(agerrors.ValidationError("task_id", err.Error()))
		}
		title, err := req.RequireString("title")
		if err != nil {
			return fail(agerrors.ValidationError("title", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "create_task", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		description := req.GetString("description", "")
		task, err2 := d.Dashboard.CreateTask(taskID, title, description, nil)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		d.notify("task " + taskID + " created")
		return ok(map[string]any{"task": task})
	}
}

func handleReopenTask(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return fail(agerrors.ValidationError("task_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "reopen_task", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		task, err2 := d.Dashboard.ReopenTask(taskID)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		d.notify("task " + taskID + " reopened")
		return ok(map[string]any{"task": task})
	}
}

func handleUpdateTaskStatus(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return fail(agerrors.ValidationError("task_id", err.Error()))
		}
		status, err := req.RequireString("status")
		if err != nil {
			return fail(agerrors.ValidationError("status", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "update_task_status", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}

		args := req.GetArguments()
		var progress *int
		if p := intArg(args, "progress", -1); p >= 0 {
			progress = &p
		}
		errMsg := stringArg(args, "error_message")
		task, err2 := d.Dashboard.UpdateTaskStatus(taskID, v1.TaskStatus(status), progress, errMsg)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		d.notify("task " + taskID + " status -> " + status)
		return ok(map[string]any{"task": task})
	}
}

func handleAssignTaskToAgent(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return fail(agerrors.ValidationError("task_id", err.Error()))
		}
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "assign_task_to_agent", CallerAgentID: callerID, TargetAgentID: agentID}); appErr != nil {
			return fail(appErr)
		}
		task, err2 := d.Dashboard.AssignTaskToAgent(taskID, agentID)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		d.notify("task " + taskID + " assigned to " + agentID)
		return ok(map[string]any{"task": task})
	}
}

func handleListTasks(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "list_tasks", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		tasks, err2 := d.Dashboard.ListTasks()
		if err2 != nil {
			return fail(asAppError(err2))
		}
		return ok(map[string]any{"tasks": tasks})
	}
}

func handleGetTask(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return fail(agerrors.ValidationError("task_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "get_task", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		task, err2 := d.Dashboard.GetTask(taskID)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		return ok(map[string]any{"task": task})
	}
}

func handleRemoveTask(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return fail(agerrors.ValidationError("task_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "remove_task", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		if err := d.Dashboard.RemoveTask(taskID); err != nil {
			return fail(asAppError(err))
		}
		d.notify("task " + taskID + " removed")
		return ok(map[string]any{"task_id": taskID})
	}
}

func handleReportTaskProgress(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return fail(agerrors.ValidationError("task_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "report_task_progress", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		args := req.GetArguments()
		progress := intArg(args, "progress", 0)
		message := stringArg(args, "message")
		task, err2 := d.Dashboard.ReportTaskProgress(taskID, callerID, progress, message)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		d.notify(fmt.Sprintf("task %s progress %d", taskID, progress))
		return ok(map[string]any{"task": task})
	}
}

func handleReportTaskCompletion(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return fail(agerrors.ValidationError("task_id", err.Error()))
		}
		status, err := req.RequireString("status")
		if err != nil {
			return fail(agerrors.ValidationError("status", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "report_task_completion", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		message := req.GetString("message", "")
		task, err2 := d.Dashboard.ReportTaskCompletion(taskID, callerID, v1.TaskStatus(status), message)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		d.notify("task " + taskID + " reported " + status)
		return ok(map[string]any{"task": task})
	}
}

func handleGetDashboard(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "get_dashboard", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		snapshot, err2 := d.Dashboard.GetSnapshot()
		if err2 != nil {
			return fail(asAppError(err2))
		}
		return ok(map[string]any{"dashboard": snapshot})
	}
}

func handleGetDashboardSummary(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "get_dashboard_summary", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		markdown, err2 := d.Dashboard.RenderMarkdown()
		if err2 != nil {
			return fail(asAppError(err2))
		}
		return ok(map[string]any{"summary": string(markdown)})
	}
}
