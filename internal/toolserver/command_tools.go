package toolserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/permission"
	"github.com/agentmux/agentmux/internal/terminal"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func registerCommandTools(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("send_command",
			mcp.WithDescription("Type a literal command into an agent's pane and press Enter."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("agent_id", mcp.Required()),
			mcp.WithString("command", mcp.Required()),
		),
		handleSendCommand(d),
	)

	s.AddTool(
		mcp.NewTool("get_output",
			mcp.WithDescription("Read an agent's recent pane scrollback."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("agent_id", mcp.Required()),
			mcp.WithNumber("lines", mcp.Description("Number of trailing lines to return (default 50)")),
		),
		handleGetOutput(d),
	)

	s.AddTool(
		mcp.NewTool("send_task",
			mcp.WithDescription("Write a task brief to the worker's task file and launch its AI CLI on it."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("agent_id", mcp.Required()),
			mcp.WithString("task_content", mcp.Required(), mcp.Description("Markdown task brief written to tasks/{agent_id}.md")),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Must match the target agent's own session")),
		),
		handleSendTask(d),
	)

	s.AddTool(
		mcp.NewTool("open_session",
			mcp.WithDescription("Open a new standalone multiplexer session outside the provisioned pane grid, e.g. for ad hoc inspection."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("session_name", mcp.Required()),
			mcp.WithString("working_dir", mcp.Required()),
		),
		handleOpenSession(d),
	)

	s.AddTool(
		mcp.NewTool("broadcast_command",
			mcp.WithDescription("Send the same literal command to every live (non-terminated) agent's pane."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("command", mcp.Required()),
		),
		handleBroadcastCommand(d),
	)
}

func handleSendCommand(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("agent_id", err.Error()))
		}
		command, err := req.RequireString("command")
		if err != nil {
			return fail(agerrors.ValidationError("command", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "send_command", CallerAgentID: callerID, TargetAgentID: agentID}); appErr != nil {
			return fail(appErr)
		}
		agent, err2 := d.Registry.Lookup(agentID)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		ref := terminal.PaneRef{SessionName: agent.SessionName, WindowIndex: agent.WindowIndex, PaneIndex: agent.PaneIndex}
		if err := d.Term.SendKeys(ctx, ref, command, true); err != nil {
			return fail(asAppError(err))
		}
		return ok(map[string]any{"agent_id": agentID})
	}
}

func handleGetOutput(d *Deps) server.ToolHandlerFunc {
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
		if appErr := guard(permission.Call{Role: role, Tool: "get_output", CallerAgentID: callerID, TargetAgentID: agentID}); appErr != nil {
			return fail(appErr)
		}
		agent, err2 := d.Registry.Lookup(agentID)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		lines := intArg(req.GetArguments(), "lines", 50)
		ref := terminal.PaneRef{SessionName: agent.SessionName, WindowIndex: agent.WindowIndex, PaneIndex: agent.PaneIndex}
		tail, err3 := d.Term.PaneTail(ctx, ref, lines)
		if err3 != nil {
			return fail(asAppError(err3))
		}
		return ok(map[string]any{"agent_id": agentID, "output": tail})
	}
}

func handleSendTask(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("agent_id", err.Error()))
		}
		taskContent, err := req.RequireString("task_content")
		if err != nil {
			return fail(agerrors.ValidationError("task_content", err.Error()))
		}
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return fail(agerrors.ValidationError("session_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "send_task", CallerAgentID: callerID, TargetAgentID: agentID}); appErr != nil {
			return fail(appErr)
		}
		if err := d.Dispatcher.SendTask(ctx, agentID, taskContent, sessionID, d.Settings()); err != nil {
			return fail(asAppError(err))
		}
		d.notify("task dispatched to agent " + agentID)
		return ok(map[string]any{"agent_id": agentID})
	}
}

func handleOpenSession(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		sessionName, err := req.RequireString("session_name")
		if err != nil {
			return fail(agerrors.ValidationError("session_name", err.Error()))
		}
		workingDir, err := req.RequireString("working_dir")
		if err != nil {
			return fail(agerrors.ValidationError("working_dir", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "open_session", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		pane, err2 := d.Term.CreateSession(ctx, sessionName, workingDir)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		return ok(map[string]any{"pane": pane})
	}
}

func handleBroadcastCommand(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		command, err := req.RequireString("command")
		if err != nil {
			return fail(agerrors.ValidationError("command", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "broadcast_command", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		agents, err2 := d.Registry.List()
		if err2 != nil {
			return fail(asAppError(err2))
		}
		var delivered, failed []string
		for _, agent := range agents {
			if agent.Status == v1.AgentTerminated {
				continue
			}
			ref := terminal.PaneRef{SessionName: agent.SessionName, WindowIndex: agent.WindowIndex, PaneIndex: agent.PaneIndex}
			if err := d.Term.SendKeys(ctx, ref, command, true); err != nil {
				failed = append(failed, agent.ID)
				continue
			}
			delivered = append(delivered, agent.ID)
		}
		return ok(map[string]any{"delivered_to": delivered, "failed_for": failed})
	}
}
