package toolserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/permission"
)

func registerHealthcheckTools(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("healthcheck_agent",
			mcp.WithDescription("Check one agent's pane liveness and task-stall state."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("agent_id", mcp.Required()),
		),
		handleHealthcheckAgent(d),
	)

	s.AddTool(
		mcp.NewTool("healthcheck_all",
			mcp.WithDescription("Check every live agent's pane liveness and task-stall state."),
			mcp.WithString("caller_agent_id", mcp.Required()),
		),
		handleHealthcheckAll(d),
	)

	s.AddTool(
		mcp.NewTool("get_unhealthy_agents",
			mcp.WithDescription("Check every live agent and return only the unhealthy ones."),
			mcp.WithString("caller_agent_id", mcp.Required()),
		),
		handleGetUnhealthyAgents(d),
	)

	s.AddTool(
		mcp.NewTool("attempt_recovery",
			mcp.WithDescription("Run the soft-recovery step (a keypress nudge, then escalating to a pane restart) for one agent's verdict."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("agent_id", mcp.Required()),
		),
		handleAttemptRecovery(d),
	)

	s.AddTool(
		mcp.NewTool("full_recovery",
			mcp.WithDescription("Run hard recovery for one agent: kill and recreate its pane, then relaunch its AI CLI."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("agent_id", mcp.Required()),
		),
		handleFullRecovery(d),
	)

	s.AddTool(
		mcp.NewTool("monitor_and_recover_workers",
			mcp.WithDescription("Run one pass of the healthcheck/recovery monitor loop across every worker, reporting whether the loop should stop (every task terminal for enough consecutive passes)."),
			mcp.WithString("caller_agent_id", mcp.Required()),
		),
		handleMonitorAndRecoverWorkers(d),
	)
}

func handleHealthcheckAgent(d *Deps) server.ToolHandlerFunc {
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
		if appErr := guard(permission.Call{Role: role, Tool: "healthcheck_agent", CallerAgentID: callerID, TargetAgentID: agentID}); appErr != nil {
			return fail(appErr)
		}
		agent, err2 := d.Registry.Lookup(agentID)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		verdict, err3 := d.Healthcheck.CheckAgent(ctx, agent)
		if err3 != nil {
			return fail(asAppError(err3))
		}
		return ok(map[string]any{"verdict": verdict})
	}
}

func handleHealthcheckAll(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "healthcheck_all", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		verdicts, err2 := d.Healthcheck.CheckAll(ctx)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		return ok(map[string]any{"verdicts": verdicts})
	}
}

func handleGetUnhealthyAgents(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "get_unhealthy_agents", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		verdicts, err2 := d.Healthcheck.CheckAll(ctx)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		var unhealthy []any
		for _, v := range verdicts {
			if !v.Healthy {
				unhealthy = append(unhealthy, v)
			}
		}
		return ok(map[string]any{"unhealthy": unhealthy})
	}
}

func handleAttemptRecovery(d *Deps) server.ToolHandlerFunc {
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
		if appErr := guard(permission.Call{Role: role, Tool: "attempt_recovery", CallerAgentID: callerID, TargetAgentID: agentID}); appErr != nil {
			return fail(appErr)
		}
		agent, err2 := d.Registry.Lookup(agentID)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		verdict, err3 := d.Healthcheck.CheckAgent(ctx, agent)
		if err3 != nil {
			return fail(asAppError(err3))
		}
		if err := d.Healthcheck.AttemptRecovery(ctx, agent, verdict); err != nil {
			return fail(asAppError(err))
		}
		d.notify("recovery attempted for agent " + agentID)
		return ok(map[string]any{"agent_id": agentID})
	}
}

func handleFullRecovery(d *Deps) server.ToolHandlerFunc {
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
		if appErr := guard(permission.Call{Role: role, Tool: "full_recovery", CallerAgentID: callerID, TargetAgentID: agentID}); appErr != nil {
			return fail(appErr)
		}
		agent, err2 := d.Registry.Lookup(agentID)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		if err := d.Healthcheck.FullRecovery(ctx, agent); err != nil {
			return fail(asAppError(err))
		}
		d.notify("full recovery run for agent " + agentID)
		return ok(map[string]any{"agent_id": agentID})
	}
}

func handleMonitorAndRecoverWorkers(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "monitor_and_recover_workers", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		shouldStop, err2 := d.Healthcheck.RunMonitorPass(ctx)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		return ok(map[string]any{"should_stop": shouldStop})
	}
}
