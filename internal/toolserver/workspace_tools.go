package toolserver

import (
	"context"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/permission"
	"github.com/agentmux/agentmux/internal/workspace"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func registerWorkspaceTools(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("init_tmux_workspace",
			mcp.WithDescription("Provision a session's on-disk workspace and pane grid (one admin pane plus N worker panes). Run this once before creating any agent."),
			mcp.WithString("project_root", mcp.Required(), mcp.Description("Absolute path to the project root the workspace is provisioned under")),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier; also used as the multiplexer session name")),
			mcp.WithNumber("worker_count", mcp.Description("Number of worker panes to lay out (default 0)")),
			mcp.WithBoolean("enable_git", mcp.Description("Enable worktree/merge features for this session (precedence: this argument > config.json > default true)")),
		),
		handleInitWorkspace(d),
	)

	s.AddTool(
		mcp.NewTool("cleanup_workspace",
			mcp.WithDescription("Tear down the session's multiplexer session and every pane inside it. Owner only."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("The calling agent's id")),
		),
		handleCleanupWorkspace(d),
	)

	s.AddTool(
		mcp.NewTool("check_all_tasks_completed",
			mcp.WithDescription("Report whether every task on the dashboard has reached a terminal status."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("The calling agent's id")),
		),
		handleCheckAllTasksCompleted(d),
	)

	s.AddTool(
		mcp.NewTool("cleanup_on_completion",
			mcp.WithDescription("If every task is terminal, tear down the workspace the same way cleanup_workspace does; otherwise report what is still outstanding."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("The calling agent's id")),
		),
		handleCleanupOnCompletion(d),
	)

	s.AddTool(
		mcp.NewTool("list_agent_types",
			mcp.WithDescription("List the AI CLI backends agentmux knows how to launch, with their default command and required env vars."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("The calling agent's id")),
		),
		handleListAgentTypes(d),
	)

	s.AddTool(
		mcp.NewTool("get_session_config",
			mcp.WithDescription("Fetch this session's resolved configuration: session id, enable_git, worker slot ceiling, and the active CLI resolution settings."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("The calling agent's id")),
		),
		handleGetSessionConfig(d),
	)
}

func handleInitWorkspace(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if err := guard(permission.Call{Role: v1.RoleOwner, Tool: "init_tmux_workspace"}); err != nil {
			return fail(err)
		}
		projectRoot := stringArg(args, "project_root")
		sessionID := stringArg(args, "session_id")
		if projectRoot == "" || sessionID == "" {
			return fail(agerrors.ValidationError("project_root/session_id", "both are required"))
		}
		workerCount := intArg(args, "worker_count", 0)
		root := filepath.Join(projectRoot, d.McpDir)
		enableGit := workspace.ResolveEnableGit(boolPtrArg(args, "enable_git"), root, true)

		cfg := v1.SessionConfig{SessionID: sessionID, EnableGit: enableGit}
		layout, err := d.Provisioner.ProvisionSession(ctx, projectRoot, d.McpDir, cfg, workerCount)
		if err != nil {
			return fail(asAppError(err))
		}
		d.notify("workspace provisioned for session " + sessionID)
		return ok(map[string]any{
			"session_id":   sessionID,
			"enable_git":   enableGit,
			"admin_pane":   layout.AdminPane,
			"worker_panes": layout.WorkerPanes,
		})
	}
}

func handleCleanupWorkspace(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "cleanup_workspace", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		if err := d.Term.KillSession(ctx, d.SessionID); err != nil {
			return fail(asAppError(err))
		}
		d.notify("workspace cleaned up for session " + d.SessionID)
		return ok(map[string]any{"session_id": d.SessionID})
	}
}

func handleCheckAllTasksCompleted(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "check_all_tasks_completed", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		tasks, listErr := d.Dashboard.ListTasks()
		if listErr != nil {
			return fail(asAppError(listErr))
		}
		complete, outstanding := allTerminal(tasks)
		return ok(map[string]any{"all_completed": complete, "outstanding_task_ids": outstanding})
	}
}

func handleCleanupOnCompletion(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "cleanup_on_completion", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		tasks, listErr := d.Dashboard.ListTasks()
		if listErr != nil {
			return fail(asAppError(listErr))
		}
		complete, outstanding := allTerminal(tasks)
		if !complete {
			return ok(map[string]any{"cleaned_up": false, "outstanding_task_ids": outstanding})
		}
		if err := d.Term.KillSession(ctx, d.SessionID); err != nil {
			return fail(asAppError(err))
		}
		d.notify("workspace cleaned up on completion for session " + d.SessionID)
		return ok(map[string]any{"cleaned_up": true})
	}
}

func handleListAgentTypes(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "list_agent_types", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		return ok(map[string]any{"agent_types": d.Catalog.All()})
	}
}

func handleGetSessionConfig(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "get_session_config", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		return ok(map[string]any{
			"session_id":  d.SessionID,
			"enable_git":  d.EnableGit,
			"max_workers": d.Registry.MaxWorkers(),
			"resolution":  d.Settings(),
		})
	}
}

func allTerminal(tasks []*v1.Task) (bool, []string) {
	var outstanding []string
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			outstanding = append(outstanding, t.ID)
		}
	}
	return len(outstanding) == 0, outstanding
}
