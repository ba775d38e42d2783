package toolserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/permission"
	"github.com/agentmux/agentmux/internal/workspace"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func registerWorktreeTools(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("create_worktree",
			mcp.WithDescription("Create an isolated git worktree on a new branch. Refuses if enable_git is false or the branch is already occupied by a live worktree."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("repo_dir", mcp.Required(), mcp.Description("Repository root the worktree is created from")),
			mcp.WithString("worktree_path", mcp.Required()),
			mcp.WithString("branch", mcp.Required()),
			mcp.WithString("base_branch", mcp.Description("Branch to base the new branch on (defaults to the repo's current branch)")),
		),
		handleCreateWorktree(d),
	)

	s.AddTool(
		mcp.NewTool("list_worktrees",
			mcp.WithDescription("List every live worktree record."),
			mcp.WithString("caller_agent_id", mcp.Required()),
		),
		handleListWorktrees(d),
	)

	s.AddTool(
		mcp.NewTool("remove_worktree",
			mcp.WithDescription("Remove a worktree's working copy and drop its record."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("repo_dir", mcp.Required()),
			mcp.WithString("worktree_path", mcp.Required()),
			mcp.WithBoolean("force", mcp.Description("Force removal even with uncommitted changes")),
		),
		handleRemoveWorktree(d),
	)

	s.AddTool(
		mcp.NewTool("assign_worktree",
			mcp.WithDescription("Assign a worktree to an agent."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("worktree_path", mcp.Required()),
			mcp.WithString("agent_id", mcp.Required()),
		),
		handleAssignWorktree(d),
	)

	s.AddTool(
		mcp.NewTool("get_worktree_status",
			mcp.WithDescription("Fetch one worktree's record."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("worktree_path", mcp.Required()),
		),
		handleGetWorktreeStatus(d),
	)

	s.AddTool(
		mcp.NewTool("merge_completed_tasks",
			mcp.WithDescription("Preview-merge the branches of every completed task into base_branch, without committing the result. Returns merged/already_merged/failed/conflicts."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("repo_dir", mcp.Required()),
			mcp.WithString("base_branch", mcp.Required()),
			mcp.WithString("strategy", mcp.Enum("merge", "squash", "rebase"), mcp.Description("Defaults to merge")),
			mcp.WithArray("completed_task_branches", mcp.Description("Branches to merge; defaults to every completed task's branch when omitted")),
		),
		handleMergeCompletedTasks(d),
	)
}

func handleCreateWorktree(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		repoDir, err := req.RequireString("repo_dir")
		if err != nil {
			return fail(agerrors.ValidationError("repo_dir", err.Error()))
		}
		worktreePath, err := req.RequireString("worktree_path")
		if err != nil {
			return fail(agerrors.ValidationError("worktree_path", err.Error()))
		}
		branch, err := req.RequireString("branch")
		if err != nil {
			return fail(agerrors.ValidationError("branch", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "create_worktree", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}

		baseBranch := req.GetString("base_branch", "")
		live, err2 := d.Worktrees.List()
		if err2 != nil {
			return fail(asAppError(err2))
		}
		wt, err3 := d.Provisioner.CreateWorktree(ctx, repoDir, d.EnableGit, worktreePath, branch, baseBranch, live)
		if err3 != nil {
			return fail(asAppError(err3))
		}
		if err := d.Worktrees.Add(wt); err != nil {
			return fail(asAppError(err))
		}
		d.notify("worktree created at " + worktreePath)
		return ok(map[string]any{"worktree": wt})
	}
}

func handleListWorktrees(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "list_worktrees", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		list, err2 := d.Worktrees.List()
		if err2 != nil {
			return fail(asAppError(err2))
		}
		return ok(map[string]any{"worktrees": list})
	}
}

func handleRemoveWorktree(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		repoDir, err := req.RequireString("repo_dir")
		if err != nil {
			return fail(agerrors.ValidationError("repo_dir", err.Error()))
		}
		worktreePath, err := req.RequireString("worktree_path")
		if err != nil {
			return fail(agerrors.ValidationError("worktree_path", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "remove_worktree", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		force := boolArg(req.GetArguments(), "force", false)
		if err := d.Provisioner.RemoveWorktree(ctx, repoDir, worktreePath, force); err != nil {
			return fail(asAppError(err))
		}
		if err := d.Worktrees.Remove(worktreePath); err != nil {
			return fail(asAppError(err))
		}
		d.notify("worktree removed at " + worktreePath)
		return ok(map[string]any{"worktree_path": worktreePath})
	}
}

func handleAssignWorktree(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		worktreePath, err := req.RequireString("worktree_path")
		if err != nil {
			return fail(agerrors.ValidationError("worktree_path", err.Error()))
		}
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "assign_worktree", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		wt, err2 := d.Worktrees.Assign(worktreePath, agentID)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		if err := d.Registry.Update(agentID, func(a *v1.Agent) {
			a.WorktreePath = wt.Path
			a.Branch = wt.Branch
		}); err != nil {
			return fail(asAppError(err))
		}
		return ok(map[string]any{"worktree": wt})
	}
}

func handleGetWorktreeStatus(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		worktreePath, err := req.RequireString("worktree_path")
		if err != nil {
			return fail(agerrors.ValidationError("worktree_path", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "get_worktree_status", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		wt, err2 := d.Worktrees.Get(worktreePath)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		return ok(map[string]any{"worktree": wt})
	}
}

func handleMergeCompletedTasks(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		repoDir, err := req.RequireString("repo_dir")
		if err != nil {
			return fail(agerrors.ValidationError("repo_dir", err.Error()))
		}
		baseBranch, err := req.RequireString("base_branch")
		if err != nil {
			return fail(agerrors.ValidationError("base_branch", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "merge_completed_tasks", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		if !d.EnableGit {
			return fail(agerrors.GitDisabled())
		}

		args := req.GetArguments()
		strategy := workspace.MergeStrategy(stringArg(args, "strategy"))
		if strategy == "" {
			strategy = workspace.StrategyMerge
		}
		branches := stringSliceArg(args, "completed_task_branches")
		if len(branches) == 0 {
			tasks, err2 := d.Dashboard.ListTasks()
			if err2 != nil {
				return fail(asAppError(err2))
			}
			for _, t := range tasks {
				if t.Status == v1.TaskCompleted && t.Branch != "" {
					branches = append(branches, t.Branch)
				}
			}
		}

		report, err3 := d.Provisioner.MergeCompletedTasks(ctx, repoDir, baseBranch, strategy, branches)
		if err3 != nil {
			return fail(asAppError(err3))
		}
		d.notify("merge_completed_tasks run against " + baseBranch)
		return ok(map[string]any{"report": report})
	}
}
