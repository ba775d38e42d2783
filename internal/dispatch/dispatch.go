// Package dispatch implements send_task (spec component 4.6): it pushes a
// task file plus a startup command into a worker's pane, resolving the
// worker's AI CLI fresh on every dispatch so a stale agent-record value
// never leaks into the launched subprocess.
package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/agentmux/agentmux/internal/agentreg"
	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/fsutil"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/registry"
	"github.com/agentmux/agentmux/internal/terminal"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// Dispatcher composes the terminal adapter, the agent registry, and the CLI
// catalog to carry out send_task.
type Dispatcher struct {
	sessionDir string
	reg        *registry.Registry
	catalog    *agentreg.Catalog
	term       terminal.Adapter
	log        *logger.Logger
}

// New returns a Dispatcher rooted at sessionDir (the directory holding
// tasks/, whose sibling the mailbox and dashboard also live under).
func New(sessionDir string, reg *registry.Registry, catalog *agentreg.Catalog, term terminal.Adapter, log *logger.Logger) *Dispatcher {
	return &Dispatcher{sessionDir: sessionDir, reg: reg, catalog: catalog, term: term, log: log}
}

func (d *Dispatcher) tasksDir() string {
	return filepath.Join(d.sessionDir, "tasks")
}

func (d *Dispatcher) taskFilePath(agentID string) string {
	return filepath.Join(d.tasksDir(), agentID+".md")
}

// SendTask writes {session_dir}/tasks/{agent_id}.md, resolves the agent's
// launch command fresh from the current CLI-resolution settings, and sends
// it to the agent's pane. sessionID must match the agent's own session or
// the call is rejected to keep task files centralized under one session
// directory.
func (d *Dispatcher) SendTask(ctx context.Context, agentID, taskContent, sessionID string, settings agentreg.ResolutionSettings) error {
	agent, err := d.reg.Lookup(agentID)
	if err != nil {
		return err
	}
	if agent.SessionName != sessionID {
		return agerrors.ValidationError("session_id", fmt.Sprintf("does not match agent %q's session %q", agentID, agent.SessionName))
	}

	if err := fsutil.EnsureDir(d.tasksDir()); err != nil {
		return fmt.Errorf("ensure tasks dir: %w", err)
	}
	if err := fsutil.WriteFileAtomic(d.taskFilePath(agentID), []byte(taskContent), 0o644); err != nil {
		return fmt.Errorf("write task file: %w", err)
	}

	resolvedCLI := agentreg.DefaultGlobalCLI
	if agent.Role == v1.RoleWorker {
		resolvedCLI = agentreg.ResolveWorkerCLI(settings, agent.WorkerSlot)
	} else if settings.GlobalDefault != "" {
		resolvedCLI = settings.GlobalDefault
	}

	cliCfg, ok := d.catalog.Get(resolvedCLI)
	if !ok {
		return agerrors.ValidationError("ai_cli", fmt.Sprintf("unknown CLI %q", resolvedCLI))
	}

	cmd := agentreg.LaunchCommand(cliCfg, agent.WorkingDir)
	ref := terminal.PaneRef{SessionName: agent.SessionName, WindowIndex: agent.WindowIndex, PaneIndex: agent.PaneIndex}
	for _, part := range cmd {
		if err := d.term.SendKeys(ctx, ref, part+" ", false); err != nil {
			return fmt.Errorf("send launch command: %w", err)
		}
	}
	if err := d.term.SendKeys(ctx, ref, "", true); err != nil {
		return fmt.Errorf("send enter: %w", err)
	}

	now := time.Now().UTC()
	return d.reg.Update(agentID, func(a *v1.Agent) {
		a.AICli = resolvedCLI
		a.Status = v1.AgentBusy
		a.LastActivity = now
	})
}
