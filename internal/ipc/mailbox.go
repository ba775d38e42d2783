// Package ipc implements the file-backed mailbox that delivers messages
// between agents (spec component 4.3): one directory per recipient, one
// timestamp-named file per message, plus the owner wait-lock back-pressure
// mechanism and best-effort pane notifications.
package ipc

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/fsutil"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/dashboard"
	"github.com/agentmux/agentmux/internal/registry"
	"github.com/agentmux/agentmux/internal/terminal"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// PaneNotifier delivers a single-line wake-up to an agent's pane, or
// attempts a platform notification for agents that run without one (the
// owner). Implementations must never block on user interaction.
type PaneNotifier interface {
	NotifyPane(ctx context.Context, agent *v1.Agent, line string) (delivered bool)
	NotifyOwner(ctx context.Context, line string) (delivered bool)
}

// TermNotifier is the default PaneNotifier, sending a literal line to the
// recipient's live pane via a terminal.Adapter.
type TermNotifier struct {
	Term terminal.Adapter
	Log  *logger.Logger
}

func (n *TermNotifier) NotifyPane(ctx context.Context, agent *v1.Agent, line string) bool {
	if n.Term == nil || agent.Status == v1.AgentTerminated {
		return false
	}
	ref := terminal.PaneRef{SessionName: agent.SessionName, WindowIndex: agent.WindowIndex, PaneIndex: agent.PaneIndex}
	alive, err := n.Term.SessionAlive(ctx, ref)
	if err != nil || !alive {
		return false
	}
	if err := n.Term.SendKeys(ctx, ref, line, true); err != nil {
		if n.Log != nil {
			n.Log.WithError(err).Warn("ipc: pane notification failed")
		}
		return false
	}
	return true
}

// NotifyOwner has no pane to write to (the owner runs externally); real
// platform-notification integration would live here. Agentmux has none
// wired, so this silently omits per spec 4.3 ("if unavailable, silently
// omit").
func (n *TermNotifier) NotifyOwner(ctx context.Context, line string) bool {
	return false
}

var unsafeReceiverChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// sanitizeReceiverID applies spec 4.3's exact rule set, distinct from
// fsutil.SanitizeName: replace the reserved filesystem characters with an
// underscore, trim surrounding whitespace/dots, and fall back to the
// literal "entry" when nothing is left.
func sanitizeReceiverID(id string) string {
	id = unsafeReceiverChars.ReplaceAllString(id, "_")
	id = strings.Trim(id, " \t.")
	if id == "" {
		return "entry"
	}
	return id
}

// Mailbox is the per-session IPC store.
type Mailbox struct {
	sessionDir string
	reg        *registry.Registry
	notifier   PaneNotifier
	log        *logger.Logger
}

// New returns a Mailbox rooted at {sessionDir}/ipc.
func New(sessionDir string, reg *registry.Registry, notifier PaneNotifier, log *logger.Logger) *Mailbox {
	return &Mailbox{sessionDir: sessionDir, reg: reg, notifier: notifier, log: log}
}

func (m *Mailbox) dir(receiverID string) string {
	return filepath.Join(m.sessionDir, "ipc", sanitizeReceiverID(receiverID))
}

// EnsureDir creates receiverID's mailbox directory if it does not already
// exist. SendMessage creates it lazily on first delivery; register_agent_to_ipc
// calls this directly so a freshly-created agent has a mailbox to poll even
// before anyone has sent it anything.
func (m *Mailbox) EnsureDir(receiverID string) error {
	return fsutil.EnsureDir(m.dir(receiverID))
}

// renderMessage builds the on-disk shape of one mailbox file: YAML front
// matter (the v1.Message fields) followed by a markdown rendering of the
// content.
func renderMessage(msg *v1.Message) ([]byte, error) {
	yamlBlock, err := yaml.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(yamlBlock)
	buf.WriteString("---\n\n")
	if msg.Subject != "" {
		fmt.Fprintf(&buf, "# %s\n\n", msg.Subject)
	}
	buf.WriteString(msg.Content)
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

func parseMessage(data []byte) (*v1.Message, error) {
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return nil, fmt.Errorf("malformed message file: missing front matter")
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, fmt.Errorf("malformed message file: missing closing delimiter")
	}
	var msg v1.Message
	if err := yaml.Unmarshal([]byte(rest[:end]), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// filenameFor builds the {YYYYMMDD}_{HHMMSS}_{microsec}_{id8}.md name that
// keeps a recipient's directory listing in chronological order.
func filenameFor(ts time.Time, id string) string {
	id8 := id
	if len(id8) > 8 {
		id8 = id8[:8]
	}
	return fmt.Sprintf("%s_%06d_%s.md", ts.Format("20060102_150405"), ts.Nanosecond()/1000, id8)
}

// SendMessage writes msg atomically into the receiver's directory and
// attempts a best-effort pane (or owner) notification. The permission
// guard must have already approved the call; SendMessage performs no
// authorization of its own.
func (m *Mailbox) SendMessage(ctx context.Context, msg *v1.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	dir := m.dir(msg.ReceiverID)
	if err := fsutil.EnsureDir(dir); err != nil {
		return err
	}
	doc, err := renderMessage(msg)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, filenameFor(msg.CreatedAt, msg.ID))
	if err := fsutil.WriteFileAtomic(path, doc, 0o644); err != nil {
		return err
	}

	m.notify(ctx, msg)
	return nil
}

func (m *Mailbox) notify(ctx context.Context, msg *v1.Message) {
	if m.notifier == nil || m.reg == nil {
		return
	}
	agent, err := m.reg.Lookup(msg.ReceiverID)
	if err != nil {
		return // unknown recipient (e.g. "admin" alias); nothing to wake
	}
	line := fmt.Sprintf("[IPC] 新しいメッセージ: %s from %s", msg.Type, msg.SenderID)
	if agent.Role == v1.RoleOwner {
		m.notifier.NotifyOwner(ctx, line)
		return
	}
	m.notifier.NotifyPane(ctx, agent, line)
}

// Broadcast expands to every agent id in recipients, delivering
// best-effort; a single recipient's notification failure never aborts the
// rest of the batch.
func (m *Mailbox) Broadcast(ctx context.Context, senderID string, recipients []string, msgType v1.MessageType, priority v1.MessagePriority, subject, content string, newID func() string) (delivered int, failures map[string]error) {
	failures = make(map[string]error)
	for _, recv := range recipients {
		msg := &v1.Message{
			ID:         newID(),
			SenderID:   senderID,
			ReceiverID: recv,
			Type:       msgType,
			Priority:   priority,
			Subject:    subject,
			Content:    content,
		}
		if err := m.SendMessage(ctx, msg); err != nil {
			failures[recv] = err
			continue
		}
		delivered++
	}
	return delivered, failures
}

// listFiles returns the receiver's message filenames in chronological
// (filename) order.
func (m *Mailbox) listFiles(receiverID string) ([]string, error) {
	dir := m.dir(receiverID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReadResult bundles what read_messages returns (spec 4.3).
type ReadResult struct {
	Messages                []*v1.Message
	DashboardUpdatesApplied int
	DashboardUpdatesSkipped []dashboard.SkippedUpdate
}

// ReadMessages returns receiverID's mailbox in chronological order,
// optionally filtered to unread, optionally marking each returned message
// read. If isAdmin, every returned message additionally runs through
// dashboard auto-sync.
func (m *Mailbox) ReadMessages(receiverID string, unreadOnly, markAsRead bool, isAdmin bool, dashStore *dashboard.Store) (*ReadResult, error) {
	names, err := m.listFiles(receiverID)
	if err != nil {
		return nil, err
	}
	dir := m.dir(receiverID)
	result := &ReadResult{}

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		msg, err := parseMessage(data)
		if err != nil {
			continue
		}
		if unreadOnly && msg.ReadAt != nil {
			continue
		}
		if markAsRead && msg.ReadAt == nil {
			now := time.Now().UTC()
			msg.ReadAt = &now
			doc, err := renderMessage(msg)
			if err == nil {
				_ = fsutil.WriteFileAtomic(path, doc, 0o644)
			}
		}
		result.Messages = append(result.Messages, msg)

		if isAdmin && dashStore != nil {
			applied, skip := dashStore.ApplyInboundMessage(msg)
			if applied {
				result.DashboardUpdatesApplied++
			} else if skip != nil {
				result.DashboardUpdatesSkipped = append(result.DashboardUpdatesSkipped, *skip)
			}
		}
	}
	return result, nil
}

// pollingBlockedThreshold is the small threshold spec 4.3 leaves
// unspecified beyond "e.g. 3": once the owner has made more than this many
// consecutive empty unread_only polls while its wait-lock is held, further
// unread_only polls are throttled without performing I/O.
const pollingBlockedThreshold = 3

// ReadMessagesAsOwner layers the owner wait-lock and polling-blocked
// back-pressure rules on top of ReadMessages. adminSenderID identifies the
// admin whose reply clears the wait-lock.
func (m *Mailbox) ReadMessagesAsOwner(ownerID, adminSenderID string, unreadOnly, markAsRead bool) (*ReadResult, error) {
	if unreadOnly {
		active, err := m.reg.OwnerWaitActive()
		if err == nil && active {
			streak, err := m.reg.PollStreak()
			if err == nil && streak > pollingBlockedThreshold {
				return nil, agerrors.PollingBlocked(ownerID)
			}
		}
	}

	result, err := m.ReadMessages(ownerID, unreadOnly, markAsRead, false, nil)
	if err != nil {
		return nil, err
	}

	if unreadOnly {
		_, _ = m.reg.NotePollResult(len(result.Messages) > 0)
	}
	for _, msg := range result.Messages {
		if msg.SenderID == adminSenderID {
			_ = m.reg.SetOwnerWait(false)
			break
		}
	}
	return result, nil
}

// UnreadCount walks the recipient's directory without modifying anything.
func (m *Mailbox) UnreadCount(receiverID string) (int, error) {
	names, err := m.listFiles(receiverID)
	if err != nil {
		return 0, err
	}
	dir := m.dir(receiverID)
	count := 0
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		msg, err := parseMessage(data)
		if err != nil {
			continue
		}
		if msg.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

// idFromCounter is a tiny helper some callers use to build filename id8
// suffixes deterministically from an incrementing counter rather than a
// random source.
func idFromCounter(n int) string {
	return strconv.FormatInt(int64(n), 36)
}
