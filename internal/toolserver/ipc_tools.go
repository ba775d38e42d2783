package toolserver

import (
	"context"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/permission"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func registerIPCTools(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Deliver a message to one or more agents' mailboxes, with a best-effort pane notification."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithArray("recipient_ids", mcp.Required(), mcp.Description("One or more agent ids to deliver to")),
			mcp.WithString("message_type", mcp.Enum("task_assign", "task_progress", "task_complete", "task_failed", "task_approved", "status_update", "request", "response", "broadcast", "system", "error"), mcp.Description("Defaults to request")),
			mcp.WithString("priority", mcp.Enum("low", "normal", "high"), mcp.Description("Defaults to normal")),
			mcp.WithString("subject", mcp.Description("Optional subject line")),
			mcp.WithString("content", mcp.Required()),
		),
		handleSendMessage(d),
	)

	s.AddTool(
		mcp.NewTool("read_messages",
			mcp.WithDescription("Read the caller's own mailbox. The owner's read additionally applies the wait-lock and polling-blocked back-pressure rules; an admin's read additionally auto-syncs the dashboard."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithBoolean("unread_only", mcp.Description("Defaults to true")),
			mcp.WithBoolean("mark_as_read", mcp.Description("Defaults to true")),
		),
		handleReadMessages(d),
	)

	s.AddTool(
		mcp.NewTool("get_unread_count",
			mcp.WithDescription("Count the caller's unread messages without modifying anything."),
			mcp.WithString("caller_agent_id", mcp.Required()),
		),
		handleGetUnreadCount(d),
	)

	s.AddTool(
		mcp.NewTool("register_agent_to_ipc",
			mcp.WithDescription("Confirm an agent's mailbox directory exists. Idempotent; most callers never need it since send_message creates the directory lazily."),
			mcp.WithString("caller_agent_id", mcp.Required()),
			mcp.WithString("agent_id", mcp.Required()),
		),
		handleRegisterAgentToIPC(d),
	)

	s.AddTool(
		mcp.NewTool("unlock_owner_wait",
			mcp.WithDescription("Clear the owner's wait-lock early, without waiting for an admin reply to arrive in the mailbox. Owner only."),
			mcp.WithString("caller_agent_id", mcp.Required()),
		),
		handleUnlockOwnerWait(d),
	)
}

func handleSendMessage(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		content, err := req.RequireString("content")
		if err != nil {
			return fail(agerrors.ValidationError("content", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "send_message", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}

		args := req.GetArguments()
		recipients := stringSliceArg(args, "recipient_ids")
		if len(recipients) == 0 {
			return fail(agerrors.ValidationError("recipient_ids", "at least one recipient is required"))
		}
		msgType := v1.MessageType(stringArg(args, "message_type"))
		if msgType == "" {
			msgType = v1.MsgRequest
		}
		priority := v1.MessagePriority(stringArg(args, "priority"))
		if priority == "" {
			priority = v1.PriorityNormal
		}
		subject := stringArg(args, "subject")

		delivered, failures := d.Mailbox.Broadcast(ctx, callerID, recipients, msgType, priority, subject, content, func() string {
			return uuid.New().String()
		})
		failed := make(map[string]string, len(failures))
		for recv, err := range failures {
			failed[recv] = err.Error()
		}
		return ok(map[string]any{"delivered": delivered, "failed": failed})
	}
}

func handleReadMessages(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "read_messages", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}

		args := req.GetArguments()
		unreadOnly := boolArg(args, "unread_only", true)
		markAsRead := boolArg(args, "mark_as_read", true)

		if role == v1.RoleOwner {
			adminID, findErr := d.firstAdminID()
			if findErr != nil {
				return fail(findErr)
			}
			result, readErr := d.Mailbox.ReadMessagesAsOwner(callerID, adminID, unreadOnly, markAsRead)
			if readErr != nil {
				return fail(asAppError(readErr))
			}
			return ok(map[string]any{"messages": result.Messages})
		}

		result, readErr := d.Mailbox.ReadMessages(callerID, unreadOnly, markAsRead, role == v1.RoleAdmin, d.Dashboard)
		if readErr != nil {
			return fail(asAppError(readErr))
		}
		return ok(map[string]any{
			"messages":                  result.Messages,
			"dashboard_updates_applied": result.DashboardUpdatesApplied,
			"dashboard_updates_skipped": result.DashboardUpdatesSkipped,
		})
	}
}

// firstAdminID resolves the session's admin agent, the one whose reply clears
// the owner's wait-lock. Sessions are spec'd to carry exactly one admin.
func (d *Deps) firstAdminID() (string, *agerrors.AppError) {
	agents, err := d.Registry.List()
	if err != nil {
		return "", asAppError(err)
	}
	for _, a := range agents {
		if a.Role == v1.RoleAdmin {
			return a.ID, nil
		}
	}
	return "", nil
}

func handleGetUnreadCount(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "get_unread_count", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		count, err2 := d.Mailbox.UnreadCount(callerID)
		if err2 != nil {
			return fail(asAppError(err2))
		}
		return ok(map[string]any{"unread_count": count})
	}
}

func handleRegisterAgentToIPC(d *Deps) server.ToolHandlerFunc {
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
		if appErr := guard(permission.Call{Role: role, Tool: "register_agent_to_ipc", CallerAgentID: callerID, TargetAgentID: agentID}); appErr != nil {
			return fail(appErr)
		}
		if _, err2 := d.Registry.Lookup(agentID); err2 != nil {
			return fail(asAppError(err2))
		}
		if err := d.Mailbox.EnsureDir(agentID); err != nil {
			return fail(asAppError(err))
		}
		return ok(map[string]any{"agent_id": agentID})
	}
}

func handleUnlockOwnerWait(d *Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callerID, err := req.RequireString("caller_agent_id")
		if err != nil {
			return fail(agerrors.ValidationError("caller_agent_id", err.Error()))
		}
		role, appErr := d.callerRole(callerID)
		if appErr != nil {
			return fail(appErr)
		}
		if appErr := guard(permission.Call{Role: role, Tool: "unlock_owner_wait", CallerAgentID: callerID}); appErr != nil {
			return fail(appErr)
		}
		if err := d.Registry.SetOwnerWait(false); err != nil {
			return fail(asAppError(err))
		}
		return ok(map[string]any{"owner_wait_active": false})
	}
}
