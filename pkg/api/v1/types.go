// Package v1 holds the wire types shared between the core stores, the tool
// façade, and the admin HTTP surface.
package v1

import "time"

// AgentRole identifies an agent's position in the Owner → Admin → Worker
// hierarchy.
type AgentRole string

const (
	RoleOwner  AgentRole = "owner"
	RoleAdmin  AgentRole = "admin"
	RoleWorker AgentRole = "worker"
)

// AgentStatus is the current runtime status of an agent.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentBusy       AgentStatus = "busy"
	AgentBlocked    AgentStatus = "blocked"
	AgentTerminated AgentStatus = "terminated"
)

// Agent is one entry in the agent registry.
type Agent struct {
	ID             string      `json:"id"`
	Role           AgentRole   `json:"role"`
	Status         AgentStatus `json:"status"`
	SessionName    string      `json:"session_name"`
	WindowIndex    int         `json:"window_index"`
	PaneIndex      int         `json:"pane_index"`
	WorkingDir     string      `json:"working_dir"`
	WorktreePath   string      `json:"worktree_path,omitempty"`
	Branch         string      `json:"branch,omitempty"`
	AICli          string      `json:"ai_cli"`
	WorkerSlot     int         `json:"worker_slot,omitempty"`
	CurrentTaskID  string      `json:"current_task_id,omitempty"`
	LastActivity   time.Time   `json:"last_activity"`
	CreatedAt      time.Time   `json:"created_at"`
}

// PaneKey uniquely identifies a pane within a multiplexer session.
type PaneKey struct {
	SessionName string `json:"session_name"`
	WindowIndex int     `json:"window_index"`
	PaneIndex   int     `json:"pane_index"`
}

// Pane returns the pane key occupied by the agent.
func (a *Agent) Pane() PaneKey {
	return PaneKey{SessionName: a.SessionName, WindowIndex: a.WindowIndex, PaneIndex: a.PaneIndex}
}

// TaskStatus is one node of the task state-transition graph (spec.md §3).
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskBlocked    TaskStatus = "blocked"
)

// IsTerminal reports whether a status can only be exited via reopen.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// taskTransitions is the allowed status transition graph from spec.md §3.
// Reopen is handled separately since it applies uniformly to every terminal
// state and resets to pending rather than being listed per-state.
var taskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskPending: {
		TaskInProgress: true,
		TaskCancelled:  true,
		TaskBlocked:    true,
	},
	TaskInProgress: {
		TaskCompleted: true,
		TaskFailed:    true,
		TaskCancelled: true,
		TaskBlocked:   true,
	},
	TaskBlocked: {
		TaskInProgress: true,
		TaskCancelled:  true,
		TaskFailed:     true,
	},
}

// AllowedTransitions returns the statuses reachable from the current one via
// update_task_status (not counting reopen_task, which is always available
// from a terminal state).
func AllowedTransitions(from TaskStatus) []TaskStatus {
	next := taskTransitions[from]
	out := make([]TaskStatus, 0, len(next))
	for s := range next {
		out = append(out, s)
	}
	return out
}

// CanTransition reports whether from -> to is a legal update_task_status move.
func CanTransition(from, to TaskStatus) bool {
	return taskTransitions[from] != nil && taskTransitions[from][to]
}

// Task is a durable unit of work tracked by the dashboard.
type Task struct {
	ID                  string                 `json:"id"`
	Title               string                 `json:"title"`
	Description         string                 `json:"description"`
	Status              TaskStatus             `json:"status"`
	Progress            int                    `json:"progress"`
	AssignedAgentID     string                 `json:"assigned_agent_id,omitempty"`
	PreviousAgentID     string                 `json:"previous_agent_id,omitempty"`
	Branch              string                 `json:"branch,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	StartedAt           *time.Time             `json:"started_at,omitempty"`
	CompletedAt         *time.Time             `json:"completed_at,omitempty"`
	ErrorMessage        string                 `json:"error_message,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
	TaskFilePath        string                 `json:"task_file_path,omitempty"`
}

// Reserved metadata keys called out by spec.md §3.
const (
	MetaTaskKind             = "task_kind"
	MetaRequiresPlaywright   = "requires_playwright"
	MetaOutputDir            = "output_dir"
	MetaRequestedDescription = "requested_description"
	MetaRecoveryCount        = "process_recovery_count"
	MetaLastRecoveryReason   = "last_recovery_reason"
	MetaLastRecoveryAt       = "last_recovery_at"
)

// MessageType enumerates IPC message kinds.
type MessageType string

const (
	MsgTaskAssign    MessageType = "task_assign"
	MsgTaskProgress  MessageType = "task_progress"
	MsgTaskComplete  MessageType = "task_complete"
	MsgTaskFailed    MessageType = "task_failed"
	MsgTaskApproved  MessageType = "task_approved"
	MsgStatusUpdate  MessageType = "status_update"
	MsgRequest       MessageType = "request"
	MsgResponse      MessageType = "response"
	MsgBroadcast     MessageType = "broadcast"
	MsgSystem        MessageType = "system"
	MsgError         MessageType = "error"
)

// MessagePriority orders delivery/notification emphasis; it does not affect
// on-disk ordering (that is always filename-timestamp order).
type MessagePriority string

const (
	PriorityLow    MessagePriority = "low"
	PriorityNormal MessagePriority = "normal"
	PriorityHigh   MessagePriority = "high"
)

// Message is one entry in a recipient's IPC mailbox.
type Message struct {
	ID         string                 `json:"id"`
	SenderID   string                 `json:"sender_id"`
	ReceiverID string                 `json:"receiver_id"`
	Type       MessageType            `json:"message_type"`
	Priority   MessagePriority        `json:"priority"`
	Subject    string                 `json:"subject,omitempty"`
	Content    string                 `json:"content"`
	CreatedAt  time.Time              `json:"created_at"`
	ReadAt     *time.Time             `json:"read_at,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Worktree is one isolated version-control working copy record.
type Worktree struct {
	Path            string    `json:"path"`
	Branch          string    `json:"branch"`
	AssignedAgentID string    `json:"assigned_agent_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// SessionConfig is the per-session config.json document (spec.md §3/§6).
type SessionConfig struct {
	SessionID     string `json:"session_id" mapstructure:"session_id"`
	EnableGit     bool   `json:"enable_git" mapstructure:"enable_git"`
	McpToolPrefix string `json:"mcp_tool_prefix,omitempty" mapstructure:"mcp_tool_prefix"`
}

// DashboardStats carries the session-wide counters (spec.md §3 Dashboard).
type DashboardStats struct {
	SessionStartedAt   *time.Time `json:"session_started_at,omitempty"`
	SessionFinishedAt  *time.Time `json:"session_finished_at,omitempty"`
	ProcessCrashCount  int        `json:"process_crash_count"`
	ProcessRecoveryCount int      `json:"process_recovery_count"`
}
