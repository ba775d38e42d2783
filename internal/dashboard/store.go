// Package dashboard implements the durable task state machine and session
// activity log (spec component 4.2): a single dashboard.md file with YAML
// front matter as the machine source and a derived markdown view, guarded
// by a sibling advisory lock file.
package dashboard

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/fsutil"
	"github.com/agentmux/agentmux/internal/common/logger"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

const lockTimeout = time.Second

// AgentSummary is the subset of agent state the dashboard renders; the
// registry remains the owner of the full agent record.
type AgentSummary struct {
	ID            string          `yaml:"id"`
	Role          v1.AgentRole    `yaml:"role"`
	Status        v1.AgentStatus  `yaml:"status"`
	CurrentTaskID string          `yaml:"current_task_id,omitempty"`
	WorktreePath  string          `yaml:"worktree_path,omitempty"`
}

// frontMatter is the machine-readable state persisted at the top of
// dashboard.md. Every field here is authoritative; the markdown body below
// it is re-derived from this struct on every write.
type frontMatter struct {
	WorkspaceID  string           `yaml:"workspace_id"`
	WorkspacePath string          `yaml:"workspace_path"`
	UpdatedAt    time.Time        `yaml:"updated_at"`

	Tasks  []*v1.Task      `yaml:"tasks"`
	Agents []*AgentSummary `yaml:"agents"`

	SessionStartedAt     *time.Time `yaml:"session_started_at,omitempty"`
	SessionFinishedAt    *time.Time `yaml:"session_finished_at,omitempty"`
	ProcessCrashCount    int        `yaml:"process_crash_count"`
	ProcessRecoveryCount int        `yaml:"process_recovery_count"`

	Messages []*v1.Message `yaml:"messages"`
}

// SyncResult reports what dashboard auto-sync did with a batch of inbound
// messages (spec 4.2/4.3: "Returns counts: messages, dashboard_updates_applied,
// dashboard_updates_skipped with reasons").
type SyncResult struct {
	Applied int
	Skipped []SkippedUpdate
}

// SkippedUpdate records one rejected auto-sync transition; these never
// propagate as errors to the read_messages caller.
type SkippedUpdate struct {
	TaskID string
	Sender string
	Reason string
}

// Store is the dashboard.md file store for one session.
type Store struct {
	path string // {session_dir}/dashboard/dashboard.md
	log  *logger.Logger
}

// New returns a Store rooted at {sessionDir}/dashboard/dashboard.md.
func New(sessionDir string, log *logger.Logger) *Store {
	return &Store{path: filepath.Join(sessionDir, "dashboard", "dashboard.md"), log: log}
}

// lockPath returns the resource name AcquireLock should append ".lock" to,
// so the sibling lock file is exactly "dashboard.lock" (not
// "dashboard.md.lock") per the on-disk layout contract.
func (s *Store) lockPath() string {
	return filepath.Join(filepath.Dir(s.path), "dashboard")
}

func (s *Store) load() (*frontMatter, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &frontMatter{WorkspacePath: filepath.Dir(filepath.Dir(s.path))}, nil
		}
		return nil, fmt.Errorf("read dashboard.md: %w", err)
	}
	fm, err := parseFrontMatter(data)
	if err != nil {
		return nil, err
	}
	return fm, nil
}

// parseFrontMatter splits a "---\n<yaml>\n---\n<markdown>" document and
// decodes the YAML block. A missing document (empty file) yields a zero
// frontMatter.
func parseFrontMatter(data []byte) (*frontMatter, error) {
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return &frontMatter{}, nil
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, fmt.Errorf("dashboard.md: malformed front matter, missing closing delimiter")
	}
	yamlBlock := rest[:end]
	var fm frontMatter
	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return nil, fmt.Errorf("parse dashboard.md front matter: %w", err)
	}
	return &fm, nil
}

// render produces the full dashboard.md document: YAML front matter
// followed by a markdown view, purely as a function of fm. Calling render
// twice on the same fm (mutated identically) yields byte-identical output,
// satisfying the dashboard render-idempotence property.
func render(fm *frontMatter) ([]byte, error) {
	yamlBlock, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("marshal dashboard front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(yamlBlock)
	buf.WriteString("---\n\n")
	buf.WriteString("# Dashboard\n\n")

	buf.WriteString("## Agents\n\n")
	buf.WriteString("| id | role | status | current task | worktree |\n")
	buf.WriteString("|---|---|---|---|---|\n")
	agents := append([]*AgentSummary(nil), fm.Agents...)
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	for _, a := range agents {
		fmt.Fprintf(&buf, "| %s | %s | %s | %s | %s |\n", a.ID, a.Role, a.Status, a.CurrentTaskID, a.WorktreePath)
	}

	buf.WriteString("\n## Tasks\n\n")
	buf.WriteString("| id | title | status | progress | assignee | branch |\n")
	buf.WriteString("|---|---|---|---|---|---|\n")
	tasks := append([]*v1.Task(nil), fm.Tasks...)
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	for _, t := range tasks {
		fmt.Fprintf(&buf, "| %s | %s | %s | %d%% | %s | %s |\n", t.ID, t.Title, t.Status, t.Progress, t.AssignedAgentID, t.Branch)
	}

	buf.WriteString("\n## Session\n\n")
	fmt.Fprintf(&buf, "- started: %s\n", formatTimePtr(fm.SessionStartedAt))
	fmt.Fprintf(&buf, "- finished: %s\n", formatTimePtr(fm.SessionFinishedAt))
	fmt.Fprintf(&buf, "- process crashes: %d\n", fm.ProcessCrashCount)
	fmt.Fprintf(&buf, "- process recoveries: %d\n", fm.ProcessRecoveryCount)

	buf.WriteString("\n## Recent messages\n\n")
	msgs := lastN(fm.Messages, 20)
	for _, m := range msgs {
		fmt.Fprintf(&buf, "- [%s] %s -> %s (%s): %s\n", m.CreatedAt.Format(time.RFC3339), m.SenderID, m.ReceiverID, m.Type, m.Subject)
	}

	return buf.Bytes(), nil
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func lastN(msgs []*v1.Message, n int) []*v1.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// withLock acquires dashboard.lock, loads the current document, lets fn
// mutate the front matter in place, re-renders and atomically writes the
// result, then releases the lock. Callers that only read should not use
// this; use load() directly instead (spec 4.2: "Read-only operations do
// not take the lock").
func (s *Store) withLock(fn func(*frontMatter) error) error {
	lock, err := fsutil.AcquireLock(s.lockPath(), lockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	fm, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(fm); err != nil {
		return err
	}
	fm.UpdatedAt = time.Now().UTC()
	doc, err := render(fm)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.path, doc, 0o644)
}

func findTask(fm *frontMatter, taskID string) (*v1.Task, error) {
	for _, t := range fm.Tasks {
		if t.ID == taskID {
			return t, nil
		}
	}
	return nil, agerrors.NotFound("task", taskID)
}

func findAgent(fm *frontMatter, agentID string) *AgentSummary {
	for _, a := range fm.Agents {
		if a.ID == agentID {
			return a
		}
	}
	return nil
}

// CreateTask appends a new task in pending status.
func (s *Store) CreateTask(id, title, description string, metadata map[string]interface{}) (*v1.Task, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	if _, ok := metadata[v1.MetaOutputDir]; !ok {
		metadata[v1.MetaOutputDir] = "reports"
	}
	task := &v1.Task{
		ID:          id,
		Title:       title,
		Description: description,
		Status:      v1.TaskPending,
		Progress:    0,
		CreatedAt:   time.Now().UTC(),
		Metadata:    metadata,
	}
	err := s.withLock(func(fm *frontMatter) error {
		for _, t := range fm.Tasks {
			if t.ID == id {
				// idempotent create_task: duplicate explicit id is a no-op success.
				task = t
				return nil
			}
		}
		fm.Tasks = append(fm.Tasks, task)
		return nil
	})
	return task, err
}

// UpdateTaskStatus validates newStatus against the transition graph and
// applies it, setting started_at/completed_at as appropriate.
func (s *Store) UpdateTaskStatus(taskID string, newStatus v1.TaskStatus, progress *int, errMsg string) (*v1.Task, error) {
	var result *v1.Task
	err := s.withLock(func(fm *frontMatter) error {
		task, err := findTask(fm, taskID)
		if err != nil {
			return err
		}
		if task.Status.IsTerminal() {
			return agerrors.TerminalStateImmutable(taskID, string(task.Status))
		}
		if !v1.CanTransition(task.Status, newStatus) {
			return agerrors.InvalidTransition(string(task.Status), string(newStatus))
		}
		task.Status = newStatus
		if progress != nil {
			task.Progress = *progress
		}
		if errMsg != "" {
			task.ErrorMessage = errMsg
		}
		now := time.Now().UTC()
		if newStatus == v1.TaskInProgress && task.StartedAt == nil {
			task.StartedAt = &now
		}
		if newStatus.IsTerminal() {
			task.CompletedAt = &now
			if allTasksTerminal(fm.Tasks) && fm.SessionFinishedAt == nil {
				fm.SessionFinishedAt = &now
			}
		}
		result = task
		return nil
	})
	return result, err
}

func allTasksTerminal(tasks []*v1.Task) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// ReopenTask resets a terminal task back to pending, preserving metadata
// and previous_agent_id.
func (s *Store) ReopenTask(taskID string) (*v1.Task, error) {
	var result *v1.Task
	err := s.withLock(func(fm *frontMatter) error {
		task, err := findTask(fm, taskID)
		if err != nil {
			return err
		}
		if !task.Status.IsTerminal() {
			return agerrors.InvalidTransition(string(task.Status), string(v1.TaskPending))
		}
		task.Status = v1.TaskPending
		task.CompletedAt = nil
		task.ErrorMessage = ""
		task.Progress = 0
		fm.SessionFinishedAt = nil
		result = task
		return nil
	})
	return result, err
}

// AssignTaskToAgent sets assigned_agent_id, clearing current_task_id on any
// prior holder.
func (s *Store) AssignTaskToAgent(taskID, agentID string) (*v1.Task, error) {
	var result *v1.Task
	err := s.withLock(func(fm *frontMatter) error {
		task, err := findTask(fm, taskID)
		if err != nil {
			return err
		}
		if task.AssignedAgentID != "" && task.AssignedAgentID != agentID {
			if prior := findAgent(fm, task.AssignedAgentID); prior != nil && prior.CurrentTaskID == taskID {
				prior.CurrentTaskID = ""
			}
		}
		task.PreviousAgentID = task.AssignedAgentID
		task.AssignedAgentID = agentID
		if agent := findAgent(fm, agentID); agent != nil {
			agent.CurrentTaskID = taskID
		}
		result = task
		return nil
	})
	return result, err
}

// ReportTaskProgress updates progress and appends a task_progress entry to
// the message log without bypassing the transition graph.
func (s *Store) ReportTaskProgress(taskID, agentID string, progress int, message string) (*v1.Task, error) {
	var result *v1.Task
	err := s.withLock(func(fm *frontMatter) error {
		task, err := findTask(fm, taskID)
		if err != nil {
			return err
		}
		if task.Status.IsTerminal() {
			return agerrors.TerminalStateImmutable(taskID, string(task.Status))
		}
		task.Progress = progress
		fm.Messages = append(fm.Messages, &v1.Message{
			ID:         fmt.Sprintf("progress-%d", time.Now().UnixNano()),
			SenderID:   agentID,
			ReceiverID: "admin",
			Type:       v1.MsgTaskProgress,
			Priority:   v1.PriorityNormal,
			Content:    message,
			CreatedAt:  time.Now().UTC(),
			Metadata:   map[string]interface{}{"task_id": taskID},
		})
		result = task
		return nil
	})
	return result, err
}

// ReportTaskCompletion is update_task_status plus a message-log entry; the
// caller is responsible for the persistent-memory write and outbound IPC
// (dashboard.Store only owns task state and the log).
func (s *Store) ReportTaskCompletion(taskID, agentID string, status v1.TaskStatus, message string) (*v1.Task, error) {
	task, err := s.UpdateTaskStatus(taskID, status, nil, "")
	if err != nil {
		return nil, err
	}
	msgType := v1.MsgTaskComplete
	if status == v1.TaskFailed {
		msgType = v1.MsgTaskFailed
	}
	logErr := s.withLock(func(fm *frontMatter) error {
		fm.Messages = append(fm.Messages, &v1.Message{
			ID:         fmt.Sprintf("completion-%d", time.Now().UnixNano()),
			SenderID:   agentID,
			ReceiverID: "admin",
			Type:       msgType,
			Priority:   v1.PriorityHigh,
			Content:    message,
			CreatedAt:  time.Now().UTC(),
			Metadata:   map[string]interface{}{"task_id": taskID},
		})
		return nil
	})
	if logErr != nil {
		return nil, logErr
	}
	return task, nil
}

// ListTasks returns every task (read-only, no lock).
func (s *Store) ListTasks() ([]*v1.Task, error) {
	fm, err := s.load()
	if err != nil {
		return nil, err
	}
	return fm.Tasks, nil
}

// GetTask returns one task by id (read-only, no lock).
func (s *Store) GetTask(taskID string) (*v1.Task, error) {
	fm, err := s.load()
	if err != nil {
		return nil, err
	}
	return findTask(fm, taskID)
}

// RemoveTask deletes a task record outright.
func (s *Store) RemoveTask(taskID string) error {
	return s.withLock(func(fm *frontMatter) error {
		for i, t := range fm.Tasks {
			if t.ID == taskID {
				fm.Tasks = append(fm.Tasks[:i], fm.Tasks[i+1:]...)
				return nil
			}
		}
		return agerrors.NotFound("task", taskID)
	})
}

// UpsertAgentSummary creates or updates the dashboard's cached view of an
// agent. The registry remains authoritative; this keeps the rendered
// markdown's agent table current without a cross-package read on every
// render.
func (s *Store) UpsertAgentSummary(summary *AgentSummary) error {
	return s.withLock(func(fm *frontMatter) error {
		if existing := findAgent(fm, summary.ID); existing != nil {
			*existing = *summary
			return nil
		}
		fm.Agents = append(fm.Agents, summary)
		return nil
	})
}

// MarkSessionStarted sets session_started_at if unset.
func (s *Store) MarkSessionStarted() error {
	return s.withLock(func(fm *frontMatter) error {
		if fm.SessionStartedAt == nil {
			now := time.Now().UTC()
			fm.SessionStartedAt = &now
		}
		return nil
	})
}

// IncrementRecoveryCount bumps process_recovery_count by one.
func (s *Store) IncrementRecoveryCount() error {
	return s.withLock(func(fm *frontMatter) error {
		fm.ProcessRecoveryCount++
		return nil
	})
}

// IncrementCrashCount bumps process_crash_count by one.
func (s *Store) IncrementCrashCount() error {
	return s.withLock(func(fm *frontMatter) error {
		fm.ProcessCrashCount++
		return nil
	})
}

// Stats returns the session counters (read-only, no lock).
func (s *Store) Stats() (v1.DashboardStats, error) {
	fm, err := s.load()
	if err != nil {
		return v1.DashboardStats{}, err
	}
	return v1.DashboardStats{
		SessionStartedAt:     fm.SessionStartedAt,
		SessionFinishedAt:    fm.SessionFinishedAt,
		ProcessCrashCount:    fm.ProcessCrashCount,
		ProcessRecoveryCount: fm.ProcessRecoveryCount,
	}, nil
}

// ApplyInboundMessage performs dashboard auto-sync for one admin-read
// message: progress/complete/failed messages carrying a task_id in their
// metadata drive the corresponding task mutation. Rejected transitions are
// recorded as skipped, never returned as an error.
func (s *Store) ApplyInboundMessage(msg *v1.Message) (applied bool, skip *SkippedUpdate) {
	taskID, _ := msg.Metadata["task_id"].(string)
	if taskID == "" {
		return false, nil
	}

	var newStatus v1.TaskStatus
	switch msg.Type {
	case v1.MsgTaskProgress:
		progress := extractProgress(msg)
		if _, err := s.ReportTaskProgress(taskID, msg.SenderID, progress, msg.Content); err != nil {
			return false, &SkippedUpdate{TaskID: taskID, Sender: msg.SenderID, Reason: err.Error()}
		}
		return true, nil
	case v1.MsgTaskComplete:
		newStatus = v1.TaskCompleted
	case v1.MsgTaskFailed:
		newStatus = v1.TaskFailed
	default:
		return false, nil
	}

	if _, err := s.UpdateTaskStatus(taskID, newStatus, nil, msg.Content); err != nil {
		return false, &SkippedUpdate{TaskID: taskID, Sender: msg.SenderID, Reason: err.Error()}
	}
	return true, nil
}

func extractProgress(msg *v1.Message) int {
	if v, ok := msg.Metadata["progress"]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return 0
}

// Snapshot is the read-only view of a session's dashboard state exposed
// outside this package (the admin HTTP surface, the SQLite rollup).
// Unlike frontMatter, every field is exported so callers can marshal it
// directly to JSON.
type Snapshot struct {
	WorkspaceID   string          `json:"workspace_id"`
	WorkspacePath string          `json:"workspace_path"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Tasks         []*v1.Task      `json:"tasks"`
	Agents        []*AgentSummary `json:"agents"`
	Stats         v1.DashboardStats `json:"stats"`
	Messages      []*v1.Message   `json:"messages"`
}

// GetSnapshot returns the full dashboard state as a JSON-ready value
// (read-only, no lock).
func (s *Store) GetSnapshot() (*Snapshot, error) {
	fm, err := s.load()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		WorkspaceID:   fm.WorkspaceID,
		WorkspacePath: fm.WorkspacePath,
		UpdatedAt:     fm.UpdatedAt,
		Tasks:         fm.Tasks,
		Agents:        fm.Agents,
		Messages:      fm.Messages,
		Stats: v1.DashboardStats{
			SessionStartedAt:     fm.SessionStartedAt,
			SessionFinishedAt:    fm.SessionFinishedAt,
			ProcessCrashCount:    fm.ProcessCrashCount,
			ProcessRecoveryCount: fm.ProcessRecoveryCount,
		},
	}, nil
}

// RenderMarkdown returns the exact bytes dashboard.md currently holds (or
// would hold for a brand-new session), for callers that want the
// human-readable view rather than the JSON snapshot.
func (s *Store) RenderMarkdown() ([]byte, error) {
	fm, err := s.load()
	if err != nil {
		return nil, err
	}
	return render(fm)
}
