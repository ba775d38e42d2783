package toolserver

import (
	"context"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentmux/agentmux/internal/agentreg"
	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/permission"
	"github.com/agentmux/agentmux/internal/terminal"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func registerAgentTools(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("create_agent",
			mcp.WithDescription("Register a new agent against an already-provisioned pane. role=owner requires no caller_agent_id; every other role does."),
			mcp.WithString("caller_agent_id", mcp.Description("The calling agent's id (omit only when role is owner)")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("New agent's id")),
			mcp.WithString("role", mcp.Required(), mcp.Enum("owner", "admin", "worker"), mcp.Description("Position in the owner/admin/worker hierarchy")),
			mcp.WithString("session_name", mcp.Required(), mcp.Description("Multiplexer session name the agent's pane lives in")),
			mcp.WithNumber("window_index", mcp.Required(), mcp.Description("Multiplexer window index")),
			mcp.WithNumber("pane_index", mcp.Required(), mcp.Description("Multiplexer pane index")),
			mcp.WithString("working_dir", mcp.Required(), mcp.Description("Absolute working directory for the pane")),
			mcp.WithNumber("worker_slot", mcp.Description("Explicit worker slot; resolved automatically for role=worker when omitted")),
		),
		handleCreateAgent(d),
	)

	s.AddTool(
		mcp.NewTool("create_workers_batch",
			mcp.WithDescription("Register several worker agents at once against already-split panes."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("session_name", mcp.Required()),
			mcp.WithString("working_dir", mcp.Required()),
			mcp.WithArray("panes", mcp.Required(), mcp.Description("Array of {window_index, pane_index} objects, one per worker")),
		),
		handleCreateWorkersBatch(d),
	)

	s.AddTool(
		mcp.NewTool("list_agents",
			mcp.WithDescription("List every agent registered in the session."),
			mcp.WithString("caller_agent_id", mcp.Required()),
		),
		handleListAgents(d),
	)

	s.AddTool(
		mcp.NewTool("get_agent_status",
			mcp.WithDescription("Fetch one agent's current record."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("agent_id", mcp.Required()),
		),
		handleGetAgentStatus(d),
	)

	s.AddTool(
		mcp.NewTool("terminate_agent",
			mcp.WithDescription("Mark an agent terminated. Terminated agents are never resurrected."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("agent_id", mcp.Required()),
		),
		handleTerminateAgent(d),
	)

	s.AddTool(
		mcp.NewTool("initialize_agent",
			mcp.WithDescription("Launch an agent's AI CLI in its pane for the first time, without dispatching a task."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("agent_id", mcp.Required()),
		),
		handleInitializeAgent(d),
	)
}

func handleCreateAgent(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		role := v1.AgentRole(stringArg(args, "role"))
		callerID := stringArg(args, "caller_agent_id")

		callerRole := v1.RoleOwner
		if callerID != "" {
			r, appErr := d.callerRole(callerID)
			if appErr != nil {
				return fail(appErr)
			}
			callerRole = r
		} else if role != v1.RoleOwner {
			return fail(agerrors.ValidationError("caller_agent_id", "required unless role is owner"))
		}
		if appErr := guard(permission.Call{Role: callerRole, Tool: "create_agent", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}

		agentID := stringArg(args, "agent_id")
		if agentID == "" {
			return fail(agerrors.ValidationError("agent_id", "required"))
		}
		slot := intArg(args, "worker_slot", 0)
		if role == v1.RoleWorker && slot == 0 {
			resolved, err := d.Registry.ResolveWorkerSlot()
			if err != nil {
				return fail(asAppError(err))
			}
			slot = resolved
		}

		now := time.Now().UTC()
		agent := &v1.Agent{
			ID:           agentID,
			Role:         role,
			Status:       v1.AgentIdle,
			SessionName:  stringArg(args, "session_name"),
			WindowIndex:  intArg(args, "window_index", 0),
			PaneIndex:    intArg(args, "pane_index", 0),
			WorkingDir:   stringArg(args, "working_dir"),
			WorkerSlot:   slot,
			LastActivity: now,
			CreatedAt:    now,
		}
		if err := d.Registry.Register(agent); err != nil {
			return fail(asAppError(err))
		}
		d.notify("agent " + agentID + " created")
		return ok(map[string]any{"agent": agent})
	}
}

func handleCreateWorkersBatch(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "create_workers_batch", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}

		args := req.GetArguments()
		sessionName := stringArg(args, "session_name")
		workingDir := stringArg(args, "working_dir")
		rawPanes, _ := args["panes"].([]any)

		var created []*v1.Agent
		for _, raw := range rawPanes {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			slot, err := d.Registry.ResolveWorkerSlot()
			if err != nil {
				return fail(asAppError(err))
			}
			now := time.Now().UTC()
			agent := &v1.Agent{
				ID:           agentIDForSlot(sessionName, slot),
				Role:         v1.RoleWorker,
				Status:       v1.AgentIdle,
				SessionName:  sessionName,
				WindowIndex:  intArg(m, "window_index", 0),
				PaneIndex:    intArg(m, "pane_index", 0),
				WorkingDir:   workingDir,
				WorkerSlot:   slot,
				LastActivity: now,
				CreatedAt:    now,
			}
			if err := d.Registry.Register(agent); err != nil {
				return fail(asAppError(err))
			}
			created = append(created, agent)
		}
		d.notify("batch-created workers for session " + sessionName)
		return ok(map[string]any{"agents": created})
	}
}

func agentIDForSlot(sessionName string, slot int) string {
	return sessionName + "-worker-" + strconv.Itoa(slot)
}

func handleListAgents(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "list_agents", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		agents, err2 := d.Registry.List()
		if err2 != nil {
			return fail(asAppError(err2))
		}
		return ok(map[string]any{"agents": agents})
	}
}

func handleGetAgentStatus(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "get_agent_status", CallerAgentID: callerID, TargetAgentID: agentID}); appErr != nil {
			return fail(appErr)
		}
		agent, err2 := d.Registry.Lookup(agentID)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		return ok(map[string]any{"agent": agent})
	}
}

func handleTerminateAgent(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "terminate_agent", CallerAgentID: callerID, TargetAgentID: agentID}); appErr != nil {
			return fail(appErr)
		}
		if err := d.Registry.Terminate(agentID); err != nil {
			return fail(asAppError(err))
		}
		d.notify("agent " + agentID + " terminated")
		return ok(map[string]any{"agent_id": agentID})
	}
}

func handleInitializeAgent(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "initialize_agent", CallerAgentID: callerID, TargetAgentID: agentID}); appErr != nil {
			return fail(appErr)
		}
		agent, err2 := d.Registry.Lookup(agentID)
		if err2 != nil {
			return fail(asAppError(err2))
		}

		settings := d.Settings()
		resolvedCLI := agentreg.DefaultGlobalCLI
		if agent.Role == v1.RoleWorker {
			resolvedCLI = agentreg.ResolveWorkerCLI(settings, agent.WorkerSlot)
		} else if settings.GlobalDefault != "" {
			resolvedCLI = settings.GlobalDefault
		}
		cliCfg, found := d.Catalog.Get(resolvedCLI)
		if !found {
			return fail(agerrors.ValidationError("ai_cli", "unknown CLI '"+resolvedCLI+"'"))
		}
		cmd := agentreg.LaunchCommand(cliCfg, agent.WorkingDir)
		ref := terminal.PaneRef{SessionName: agent.SessionName, WindowIndex: agent.WindowIndex, PaneIndex: agent.PaneIndex}
		for _, part := range cmd {
			if err := d.Term.SendKeys(ctx, ref, part+" ", false); err != nil {
				return fail(asAppError(err))
			}
		}
		if err := d.Term.SendKeys(ctx, ref, "", true); err != nil {
			return fail(asAppError(err))
		}
		if err := d.Registry.Update(agentID, func(a *v1.Agent) {
			a.AICli = resolvedCLI
			a.LastActivity = time.Now().UTC()
		}); err != nil {
			return fail(asAppError(err))
		}
		return ok(map[string]any{"agent_id": agentID, "ai_cli": resolvedCLI})
	}
}
