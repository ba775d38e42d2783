// Package toolserver is the MCP tool façade (spec §6): every tool listed
// there is registered against a mark3labs/mcp-go server, each handler
// passes through the permission guard before touching a store, and every
// returned error collapses to the {success, error_code, message} shape
// tool callers rely on.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/agentreg"
	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/dashboard"
	"github.com/agentmux/agentmux/internal/dispatch"
	"github.com/agentmux/agentmux/internal/events/bus"
	"github.com/agentmux/agentmux/internal/healthcheck"
	"github.com/agentmux/agentmux/internal/historystore"
	"github.com/agentmux/agentmux/internal/ipc"
	"github.com/agentmux/agentmux/internal/permission"
	"github.com/agentmux/agentmux/internal/registry"
	"github.com/agentmux/agentmux/internal/terminal"
	"github.com/agentmux/agentmux/internal/vcs"
	"github.com/agentmux/agentmux/internal/workspace"
	"github.com/agentmux/agentmux/internal/wsnotify"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// Deps bundles every collaborator a tool handler might need. One Deps
// backs one running session; toolserver never fans out across sessions.
type Deps struct {
	ProjectRoot string
	McpDir      string
	SessionDir  string
	SessionID   string

	Registry     *registry.Registry
	Dashboard    *dashboard.Store
	Mailbox      *ipc.Mailbox
	Healthcheck  *healthcheck.Engine
	Provisioner  *workspace.Provisioner
	Worktrees    *workspace.WorktreeStore
	Dispatcher   *dispatch.Dispatcher
	Term         terminal.Adapter
	VC           vcs.Adapter
	Catalog      *agentreg.Catalog
	History      *historystore.Store // optional, may be nil
	Bus          bus.Bus             // optional, defaults to a no-op bus
	Hub          *wsnotify.Hub       // optional, may be nil
	Log          *logger.Logger

	// EnableGit mirrors config.json's enable_git at startup. Worktree tool
	// handlers read this field rather than re-deriving it, since by the
	// time a session is running, init_tmux_workspace has already resolved
	// and persisted the precedence chain once.
	EnableGit bool

	// Settings is re-read fresh by callers that need it rather than cached
	// here, since resolution settings live in config.json/env and must never
	// go stale the way a struct field copied once at startup would.
	Settings func() agentreg.ResolutionSettings
}

// notify publishes a dashboard-changed event on both the in-process
// websocket hub and the cross-process bus, best-effort. Never returns an
// error: a dropped notification never blocks a tool call.
func (d *Deps) notify(line string) {
	if d.Hub != nil {
		d.Hub.Publish([]byte(line))
	}
	if d.Bus != nil {
		event := bus.NewEvent(bus.KindDashboardChanged, d.SessionID)
		_ = d.Bus.Publish(context.Background(), bus.SubjectForSession(d.SessionID), event)
	}
}

// guard runs call through the permission package, translating a denial into
// the *errors.AppError tool handlers return as-is.
func guard(call permission.Call) *agerrors.AppError {
	verdict, err := permission.Guard(call)
	if err != nil {
		return err
	}
	if !verdict.Allow {
		return agerrors.PermissionDenied(string(call.Role), call.Tool)
	}
	return nil
}

// callerRole resolves the role of callerAgentID by looking it up in the
// registry. Tools exempt from requiring a caller (init_tmux_workspace,
// create_agent for the owner) pass an empty callerAgentID and role owner,
// since nothing has been registered yet.
func (d *Deps) callerRole(callerAgentID string) (v1.AgentRole, *agerrors.AppError) {
	if callerAgentID == "" {
		return v1.RoleOwner, nil
	}
	agent, err := d.Registry.Lookup(callerAgentID)
	if err != nil {
		if appErr, ok := err.(*agerrors.AppError); ok {
			return "", appErr
		}
		return "", agerrors.Wrap(err, "resolve caller role")
	}
	return agent.Role, nil
}

// ok builds a successful tool result, merging payload fields (if any) with
// success: true, rendered as JSON text the way every teacher tool handler
// renders its API responses.
func ok(payload map[string]any) (*mcp.CallToolResult, error) {
	out := map[string]any{"success": true}
	for k, v := range payload {
		out[k] = v
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal tool result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// fail renders an *errors.AppError as the stable {success, error_code,
// message} shape spec §6 promises. It is always returned as the tool
// result's content, never as the handler's Go error, so MCP clients receive
// a structured failure instead of a transport-level error.
func fail(appErr *agerrors.AppError) (*mcp.CallToolResult, error) {
	out := map[string]any{
		"success":    false,
		"error_code": appErr.Code,
		"message":    appErr.Message,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(appErr.Message), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// asAppError normalizes any error returned by a store/engine into an
// *errors.AppError, wrapping unrecognized errors as INTERNAL_ERROR.
func asAppError(err error) *agerrors.AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*agerrors.AppError); ok {
		return appErr
	}
	return agerrors.Wrap(err, "tool call failed")
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func boolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// boolPtrArg returns nil when key is absent, distinguishing "not supplied"
// from "supplied false" for precedence chains like enable_git.
func boolPtrArg(args map[string]any, key string) *bool {
	v, ok := args[key].(bool)
	if !ok {
		return nil
	}
	return &v
}

// Register wires every §6 tool onto s. Call once per running MCP server.
func Register(s *server.MCPServer, d *Deps) {
	registerWorkspaceTools(s, d)
	registerAgentTools(s, d)
	registerCommandTools(s, d)
	registerWorktreeTools(s, d)
	registerIPCTools(s, d)
	registerTaskTools(s, d)
	registerHealthcheckTools(s, d)

	if d.Log != nil {
		d.Log.Info("registered MCP tools", zap.Int("count", toolCount))
	}
}

// toolCount mirrors the registered tool surface exactly, kept in lockstep by
// hand since mcp-go has no introspection hook cheaper than re-summing here:
// 6 workspace + 6 agent + 5 command + 6 worktree/merge + 5 IPC + 11 task/dashboard + 6 healthcheck.
const toolCount = 6 + 6 + 5 + 6 + 5 + 11 + 6
