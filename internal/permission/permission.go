// Package permission is the single chokepoint between the tool façade and
// every stateful operation (spec component 4.7): a capability table maps
// (role, tool) to allowed/denied/self_only, and Guard is the only thing
// allowed to approve a call before it reaches a store.
package permission

import (
	v1 "github.com/agentmux/agentmux/pkg/api/v1"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
)

// Effect is one capability-table verdict.
type Effect int

const (
	// Denied means the role can never call this tool.
	Denied Effect = iota
	// Allowed means the role can call this tool against any target.
	Allowed
	// SelfOnly means the role may call this tool only when the target
	// agent id equals the caller's own id.
	SelfOnly
)

// Call is the request a tool handler hands to the guard before doing
// anything with side effects.
type Call struct {
	Role           v1.AgentRole
	Tool           string
	CallerAgentID  string
	TargetAgentID  string // empty when the tool has no single target agent
	OwnerWaitOK    bool   // true while the owner's wait-lock is held; Guard then admits only ownerWaitAllowed tools for the owner
}

// toolsWithoutCaller are the only two tools spec.md §6 exempts from
// requiring a caller_agent_id: they run before any agent exists.
var toolsWithoutCaller = map[string]bool{
	"init_tmux_workspace": true,
	"create_agent":        true, // only when role == owner; the create_agent tool handler enforces that
}

// ownerWaitAllowed are the three tools an owner may still call while its
// wait-lock is held (read_messages, get_unread_count, unlock_owner_wait).
var ownerWaitAllowed = map[string]bool{
	"read_messages":     true,
	"get_unread_count":  true,
	"unlock_owner_wait": true,
}

// table[role][tool] -> Effect. Tools omitted for a role default to Denied.
var table = map[v1.AgentRole]map[string]Effect{
	v1.RoleOwner: {
		"init_tmux_workspace":         Allowed,
		"cleanup_workspace":           Allowed,
		"check_all_tasks_completed":   Allowed,
		"cleanup_on_completion":       Allowed,
		"create_agent":                Allowed,
		"create_workers_batch":        Allowed,
		"list_agents":                 Allowed,
		"get_agent_status":            Allowed,
		"terminate_agent":             Allowed,
		"initialize_agent":            Allowed,
		"send_command":                Allowed,
		"get_output":                  Allowed,
		"send_task":                   Allowed,
		"open_session":                Allowed,
		"broadcast_command":           Allowed,
		"create_worktree":             Allowed,
		"list_worktrees":              Allowed,
		"remove_worktree":             Allowed,
		"assign_worktree":             Allowed,
		"get_worktree_status":         Allowed,
		"merge_completed_tasks":       Allowed,
		"send_message":                Allowed,
		"read_messages":               SelfOnly,
		"get_unread_count":            SelfOnly,
		"register_agent_to_ipc":       Allowed,
		"unlock_owner_wait":           SelfOnly,
		"create_task":                 Allowed,
		"reopen_task":                 Allowed,
		"update_task_status":          Allowed,
		"assign_task_to_agent":        Allowed,
		"list_tasks":                  Allowed,
		"get_task":                    Allowed,
		"remove_task":                 Allowed,
		"report_task_progress":        Allowed,
		"report_task_completion":      Allowed,
		"get_dashboard":               Allowed,
		"get_dashboard_summary":       Allowed,
		"healthcheck_agent":           Allowed,
		"healthcheck_all":             Allowed,
		"get_unhealthy_agents":        Allowed,
		"attempt_recovery":            Allowed,
		"full_recovery":               Allowed,
		"monitor_and_recover_workers": Allowed,
		"list_agent_types":            Allowed,
		"get_session_config":          Allowed,
	},
	v1.RoleAdmin: {
		"cleanup_workspace":           Denied,
		"check_all_tasks_completed":   Allowed,
		"cleanup_on_completion":       Allowed,
		"create_agent":                Allowed,
		"create_workers_batch":        Allowed,
		"list_agents":                 Allowed,
		"get_agent_status":            Allowed,
		"terminate_agent":             Allowed,
		"initialize_agent":            Allowed,
		"send_command":                Allowed,
		"get_output":                  Allowed,
		"send_task":                   Allowed,
		"open_session":                Allowed,
		"broadcast_command":           Allowed,
		"create_worktree":             Allowed,
		"list_worktrees":              Allowed,
		"remove_worktree":             Allowed,
		"assign_worktree":             Allowed,
		"get_worktree_status":         Allowed,
		"merge_completed_tasks":       Allowed,
		"send_message":                Allowed,
		"read_messages":               SelfOnly,
		"get_unread_count":            SelfOnly,
		"register_agent_to_ipc":       Allowed,
		"unlock_owner_wait":           Denied,
		"create_task":                 Allowed,
		"reopen_task":                 Allowed,
		"update_task_status":          Allowed,
		"assign_task_to_agent":        Allowed,
		"list_tasks":                  Allowed,
		"get_task":                    Allowed,
		"remove_task":                 Allowed,
		"report_task_progress":        Allowed,
		"report_task_completion":      Allowed,
		"get_dashboard":               Allowed,
		"get_dashboard_summary":       Allowed,
		"healthcheck_agent":           Allowed,
		"healthcheck_all":             Allowed,
		"get_unhealthy_agents":        Allowed,
		"attempt_recovery":            Allowed,
		"full_recovery":               Allowed,
		"monitor_and_recover_workers": Allowed,
		"list_agent_types":            Allowed,
		"get_session_config":          Allowed,
	},
	v1.RoleWorker: {
		"list_agents":             Allowed,
		"get_agent_status":        SelfOnly,
		"get_output":              SelfOnly,
		"send_message":            Allowed,
		"read_messages":           SelfOnly,
		"get_unread_count":        SelfOnly,
		"register_agent_to_ipc":   SelfOnly,
		"list_tasks":              Allowed,
		"get_task":                Allowed,
		"report_task_progress":    SelfOnly,
		"report_task_completion":  SelfOnly,
		"get_dashboard":           Allowed,
		"get_dashboard_summary":   Allowed,
		"get_worktree_status":     SelfOnly,
		"healthcheck_agent":       SelfOnly,
		"list_agent_types":        Allowed,
		"get_session_config":      Allowed,
	},
}

// Verdict is the guard's decision: allow plus the reason supporting it (or
// the rule that rejected the call).
type Verdict struct {
	Allow  bool
	Reason string
}

// Guard evaluates call against the capability table and the owner
// wait-lock, and returns an *errors.AppError describing the failing rule
// when the call is rejected, or nil when it is approved.
func Guard(call Call) (Verdict, *agerrors.AppError) {
	if call.OwnerWaitOK && call.Role == v1.RoleOwner {
		if !ownerWaitAllowed[call.Tool] {
			return Verdict{}, agerrors.OwnerWaitActive(call.CallerAgentID)
		}
		return Verdict{Allow: true, Reason: "allowed while owner wait-lock is held"}, nil
	}

	if !toolsWithoutCaller[call.Tool] && call.CallerAgentID == "" {
		return Verdict{}, agerrors.ValidationError("caller_agent_id", "required for tool '"+call.Tool+"'")
	}

	roleTable, ok := table[call.Role]
	if !ok {
		return Verdict{}, agerrors.PermissionDenied(string(call.Role), call.Tool)
	}
	effect, ok := roleTable[call.Tool]
	if !ok {
		effect = Denied
	}

	switch effect {
	case Allowed:
		return Verdict{Allow: true, Reason: "role '" + string(call.Role) + "' is allowed to call '" + call.Tool + "'"}, nil
	case SelfOnly:
		if call.TargetAgentID == "" || call.TargetAgentID == call.CallerAgentID {
			return Verdict{Allow: true, Reason: "self_only: target matches caller"}, nil
		}
		return Verdict{}, agerrors.PermissionDenied(string(call.Role), call.Tool)
	default:
		return Verdict{}, agerrors.PermissionDenied(string(call.Role), call.Tool)
	}
}
