// Package dockerterm implements terminal.Adapter by running each pane as an
// "docker exec -it" session inside a long-lived sandbox container, instead
// of a real tmux pane. It gives operators OS-level isolation for workers in
// addition to the working-copy isolation internal/vcs already provides.
package dockerterm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/agentmux/agentmux/internal/common/config"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/terminal"
	"go.uber.org/zap"
)

// execPane is one "docker exec" session standing in for a tmux pane.
type execPane struct {
	execID string
	hijack io.WriteCloser
	mu     sync.Mutex
	lines  []string
	alive  bool
}

type sandbox struct {
	containerID string
	panes       []*execPane
}

// Adapter drives panes as docker exec sessions against one container per
// multiplexer session.
type Adapter struct {
	cli    *client.Client
	cfg    config.DockerConfig
	log    *logger.Logger
	mu     sync.Mutex
	boxes  map[string]*sandbox
}

// New creates a dockerterm Adapter bound to the daemon at cfg.Host.
func New(cfg config.DockerConfig, log *logger.Logger) (*Adapter, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Adapter{cli: cli, cfg: cfg, log: log, boxes: make(map[string]*sandbox)}, nil
}

var _ terminal.Adapter = (*Adapter)(nil)

func (a *Adapter) CreateSession(ctx context.Context, sessionName, workingDir string) (terminal.PaneRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.boxes[sessionName]; exists {
		return terminal.PaneRef{}, fmt.Errorf("sandbox %q already exists", sessionName)
	}

	resp, err := a.cli.ContainerCreate(ctx, &container.Config{
		Image:      a.cfg.Image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: workingDir,
		Tty:        false,
		Labels:     map[string]string{"agentmux.session": sessionName},
	}, &container.HostConfig{
		Binds: []string{workingDir + ":" + workingDir},
	}, nil, nil, "agentmux-"+sessionName)
	if err != nil {
		return terminal.PaneRef{}, fmt.Errorf("create sandbox container: %w", err)
	}
	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return terminal.PaneRef{}, fmt.Errorf("start sandbox container: %w", err)
	}

	box := &sandbox{containerID: resp.ID}
	pane, err := a.newExecPane(ctx, box, workingDir)
	if err != nil {
		return terminal.PaneRef{}, err
	}
	box.panes = append(box.panes, pane)
	a.boxes[sessionName] = box
	a.log.Info("sandbox created", zap.String("session", sessionName), zap.String("container_id", resp.ID))
	return terminal.PaneRef{SessionName: sessionName, WindowIndex: 0, PaneIndex: 0}, nil
}

func (a *Adapter) newExecPane(ctx context.Context, box *sandbox, workingDir string) (*execPane, error) {
	execResp, err := a.cli.ContainerExecCreate(ctx, box.containerID, container.ExecOptions{
		Cmd:          []string{"/bin/sh"},
		WorkingDir:   workingDir,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("create exec: %w", err)
	}
	hijacked, err := a.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("attach exec: %w", err)
	}
	pane := &execPane{execID: execResp.ID, hijack: hijacked.Conn, alive: true}
	go pane.drain(hijacked.Reader)
	return pane, nil
}

func (p *execPane) drain(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.mu.Lock()
		p.lines = append(p.lines, scanner.Text())
		if len(p.lines) > 2000 {
			p.lines = p.lines[len(p.lines)-2000:]
		}
		p.mu.Unlock()
	}
	p.mu.Lock()
	p.alive = false
	p.mu.Unlock()
}

func (a *Adapter) SplitPane(ctx context.Context, ref terminal.PaneRef, _ string, workingDir string) (terminal.PaneRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	box, ok := a.boxes[ref.SessionName]
	if !ok {
		return terminal.PaneRef{}, fmt.Errorf("sandbox %q not found", ref.SessionName)
	}
	pane, err := a.newExecPane(ctx, box, workingDir)
	if err != nil {
		return terminal.PaneRef{}, err
	}
	idx := len(box.panes)
	box.panes = append(box.panes, pane)
	return terminal.PaneRef{SessionName: ref.SessionName, WindowIndex: ref.WindowIndex, PaneIndex: idx}, nil
}

func (a *Adapter) pane(ref terminal.PaneRef) (*execPane, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	box, ok := a.boxes[ref.SessionName]
	if !ok {
		return nil, fmt.Errorf("sandbox %q not found", ref.SessionName)
	}
	if ref.PaneIndex < 0 || ref.PaneIndex >= len(box.panes) {
		return nil, fmt.Errorf("pane %d not found in sandbox %q", ref.PaneIndex, ref.SessionName)
	}
	return box.panes[ref.PaneIndex], nil
}

func (a *Adapter) SendKeys(_ context.Context, ref terminal.PaneRef, literal string, enter bool) error {
	p, err := a.pane(ref)
	if err != nil {
		return err
	}
	if enter {
		literal += "\n"
	}
	_, err = io.WriteString(p.hijack, literal)
	return err
}

func (a *Adapter) SessionAlive(ctx context.Context, ref terminal.PaneRef) (bool, error) {
	a.mu.Lock()
	box, ok := a.boxes[ref.SessionName]
	a.mu.Unlock()
	if !ok {
		return false, nil
	}
	info, err := a.cli.ContainerInspect(ctx, box.containerID)
	if err != nil {
		return false, nil
	}
	return info.State != nil && info.State.Running, nil
}

func (a *Adapter) PaneTail(_ context.Context, ref terminal.PaneRef, n int) (string, error) {
	p, err := a.pane(ref)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	lines := p.lines
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}

func (a *Adapter) KillSession(ctx context.Context, sessionName string) error {
	a.mu.Lock()
	box, ok := a.boxes[sessionName]
	if ok {
		delete(a.boxes, sessionName)
	}
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("sandbox %q not found", sessionName)
	}
	for _, p := range box.panes {
		p.hijack.Close()
	}
	return a.cli.ContainerRemove(ctx, box.containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
}
