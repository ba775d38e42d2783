// Package faketerm is an in-memory terminal.Adapter used by tests that need
// to exercise agent-lifecycle and workspace logic without a real tmux
// binary.
package faketerm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentmux/agentmux/internal/terminal"
)

type pane struct {
	workingDir string
	lines      []string
	alive      bool
}

type session struct {
	panes []*pane
	alive bool
}

// Adapter is a fake, in-process implementation of terminal.Adapter.
type Adapter struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// New returns an empty fake terminal backend.
func New() *Adapter {
	return &Adapter{sessions: make(map[string]*session)}
}

var _ terminal.Adapter = (*Adapter)(nil)

func (a *Adapter) CreateSession(_ context.Context, sessionName, workingDir string) (terminal.PaneRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, exists := a.sessions[sessionName]; exists && existing.alive {
		return terminal.PaneRef{}, fmt.Errorf("session %q already exists", sessionName)
	}
	a.sessions[sessionName] = &session{
		panes: []*pane{{workingDir: workingDir, alive: true}},
		alive: true,
	}
	return terminal.PaneRef{SessionName: sessionName, WindowIndex: 0, PaneIndex: 0}, nil
}

func (a *Adapter) SplitPane(_ context.Context, ref terminal.PaneRef, _ string, workingDir string) (terminal.PaneRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[ref.SessionName]
	if !ok || !s.alive {
		return terminal.PaneRef{}, fmt.Errorf("session %q not found", ref.SessionName)
	}
	idx := len(s.panes)
	s.panes = append(s.panes, &pane{workingDir: workingDir, alive: true})
	return terminal.PaneRef{SessionName: ref.SessionName, WindowIndex: ref.WindowIndex, PaneIndex: idx}, nil
}

func (a *Adapter) SendKeys(_ context.Context, ref terminal.PaneRef, literal string, enter bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, err := a.pane(ref)
	if err != nil {
		return err
	}
	if enter {
		p.lines = append(p.lines, literal)
	} else {
		if len(p.lines) == 0 {
			p.lines = append(p.lines, literal)
		} else {
			p.lines[len(p.lines)-1] += literal
		}
	}
	return nil
}

func (a *Adapter) SessionAlive(_ context.Context, ref terminal.PaneRef) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[ref.SessionName]
	if !ok {
		return false, nil
	}
	return s.alive, nil
}

func (a *Adapter) PaneTail(_ context.Context, ref terminal.PaneRef, n int) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, err := a.pane(ref)
	if err != nil {
		return "", err
	}
	lines := p.lines
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}

func (a *Adapter) KillSession(_ context.Context, sessionName string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionName]
	if !ok {
		return fmt.Errorf("session %q not found", sessionName)
	}
	s.alive = false
	for _, p := range s.panes {
		p.alive = false
	}
	return nil
}

func (a *Adapter) pane(ref terminal.PaneRef) (*pane, error) {
	s, ok := a.sessions[ref.SessionName]
	if !ok || !s.alive {
		return nil, fmt.Errorf("session %q not found", ref.SessionName)
	}
	if ref.PaneIndex < 0 || ref.PaneIndex >= len(s.panes) {
		return nil, fmt.Errorf("pane %d not found in session %q", ref.PaneIndex, ref.SessionName)
	}
	return s.panes[ref.PaneIndex], nil
}

// InjectLine appends a line directly to a pane's scrollback, simulating
// output the AI CLI itself produced (as opposed to SendKeys, which simulates
// what agentmux types in). Tests use this to drive stall-detection and
// healthcheck scenarios.
func (a *Adapter) InjectLine(ref terminal.PaneRef, line string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, err := a.pane(ref)
	if err != nil {
		return err
	}
	p.lines = append(p.lines, line)
	return nil
}
