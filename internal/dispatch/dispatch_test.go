package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentmux/agentmux/internal/agentreg"
	"github.com/agentmux/agentmux/internal/registry"
	"github.com/agentmux/agentmux/internal/terminal/faketerm"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *registry.Registry, *faketerm.Adapter, string) {
	t.Helper()
	dir := t.TempDir()
	sessionDir := filepath.Join(dir, "session")
	reg := registry.New(sessionDir, "", 5, nil)
	term := faketerm.New()
	catalog := agentreg.NewCatalog(agentreg.DefaultCLIs())
	d := New(sessionDir, reg, catalog, term, nil)
	return d, reg, term, sessionDir
}

func TestSendTaskRejectsSessionMismatch(t *testing.T) {
	d, reg, term, _ := newTestDispatcher(t)
	ctx := context.Background()
	ref, _ := term.CreateSession(ctx, "sess-1", "/work")
	agent := &v1.Agent{ID: "worker-1", Role: v1.RoleWorker, Status: v1.AgentIdle, SessionName: "sess-1", WindowIndex: ref.WindowIndex, PaneIndex: ref.PaneIndex, WorkingDir: "/work"}
	if err := reg.Register(agent); err != nil {
		t.Fatalf("Register: %v", err)
	}

	err := d.SendTask(ctx, "worker-1", "do thing", "sess-other", agentreg.ResolutionSettings{})
	if err == nil {
		t.Fatalf("expected error for mismatched session_id")
	}
}

func TestSendTaskWritesFileAndResolvesCLI(t *testing.T) {
	d, reg, term, sessionDir := newTestDispatcher(t)
	ctx := context.Background()
	ref, _ := term.CreateSession(ctx, "sess-1", "/work")
	agent := &v1.Agent{ID: "worker-1", Role: v1.RoleWorker, Status: v1.AgentIdle, SessionName: "sess-1", WindowIndex: ref.WindowIndex, PaneIndex: ref.PaneIndex, WorkingDir: "/work", WorkerSlot: 1, AICli: "stale-cli"}
	if err := reg.Register(agent); err != nil {
		t.Fatalf("Register: %v", err)
	}

	settings := agentreg.ResolutionSettings{Mode: agentreg.ModeUniform, UniformCLI: "codex", GlobalDefault: "claude"}
	if err := d.SendTask(ctx, "worker-1", "# Task\ndo the thing", "sess-1", settings); err != nil {
		t.Fatalf("SendTask: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(sessionDir, "tasks", "worker-1.md"))
	if err != nil {
		t.Fatalf("task file not written: %v", err)
	}
	if string(data) != "# Task\ndo the thing" {
		t.Fatalf("unexpected task file content: %q", data)
	}

	got, err := reg.Lookup("worker-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.AICli != "codex" {
		t.Fatalf("expected resolved CLI codex (uniform setting), got %q", got.AICli)
	}
	if got.Status != v1.AgentBusy {
		t.Fatalf("expected agent marked busy after dispatch, got %v", got.Status)
	}

	tail, err := term.PaneTail(ctx, ref, 10)
	if err != nil {
		t.Fatalf("PaneTail: %v", err)
	}
	if tail == "" {
		t.Fatalf("expected launch command sent to pane")
	}
}

func TestSendTaskUnknownAgentFails(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)
	err := d.SendTask(context.Background(), "ghost", "x", "sess-1", agentreg.ResolutionSettings{})
	if err == nil {
		t.Fatalf("expected lookup error for unknown agent")
	}
}
