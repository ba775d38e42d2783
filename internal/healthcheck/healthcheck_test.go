package healthcheck

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentmux/agentmux/internal/dashboard"
	"github.com/agentmux/agentmux/internal/registry"
	"github.com/agentmux/agentmux/internal/terminal/faketerm"
	"github.com/agentmux/agentmux/internal/vcs/fakevcs"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *registry.Registry, *dashboard.Store, *faketerm.Adapter) {
	t.Helper()
	dir := t.TempDir()
	sessionDir := filepath.Join(dir, "session")
	reg := registry.New(sessionDir, "", 5, nil)
	dash := dashboard.New(sessionDir, nil)
	term := faketerm.New()
	vc := fakevcs.New()
	eng := New(cfg, reg, dash, nil, term, vc, nil)
	return eng, reg, dash, term
}

func TestCheckAgentTerminatedAlwaysHealthy(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, Config{StallTimeoutSeconds: 60})
	agent := &v1.Agent{ID: "worker-1", Role: v1.RoleWorker, Status: v1.AgentTerminated}
	v, err := eng.CheckAgent(context.Background(), agent)
	if err != nil {
		t.Fatalf("CheckAgent: %v", err)
	}
	if !v.Healthy {
		t.Fatalf("expected terminated agent to report healthy")
	}
}

func TestCheckAgentDeadSession(t *testing.T) {
	eng, _, _, term := newTestEngine(t, Config{StallTimeoutSeconds: 60})
	ctx := context.Background()
	ref, _ := term.CreateSession(ctx, "sess-1", "/work")
	agent := &v1.Agent{ID: "worker-1", Role: v1.RoleWorker, Status: v1.AgentIdle, SessionName: ref.SessionName, WindowIndex: ref.WindowIndex, PaneIndex: ref.PaneIndex}

	term.KillSession(ctx, "sess-1")

	v, err := eng.CheckAgent(ctx, agent)
	if err != nil {
		t.Fatalf("CheckAgent: %v", err)
	}
	if v.Healthy || !v.SessionDead {
		t.Fatalf("expected session_dead verdict, got %+v", v)
	}
}

func TestCheckAgentStallDetectionRequiresTwoUnchangedPolls(t *testing.T) {
	eng, _, _, term := newTestEngine(t, Config{StallTimeoutSeconds: 1})
	ctx := context.Background()
	ref, _ := term.CreateSession(ctx, "sess-1", "/work")
	term.InjectLine(ref, "working...")

	agent := &v1.Agent{
		ID: "worker-1", Role: v1.RoleWorker, Status: v1.AgentBusy,
		SessionName: ref.SessionName, WindowIndex: ref.WindowIndex, PaneIndex: ref.PaneIndex,
		CurrentTaskID: "task-1", LastActivity: time.Now().Add(-time.Hour),
	}

	first, err := eng.CheckAgent(ctx, agent)
	if err != nil {
		t.Fatalf("CheckAgent (first poll): %v", err)
	}
	if !first.Healthy {
		t.Fatalf("expected first poll to be healthy (no prior hash yet), got %+v", first)
	}

	second, err := eng.CheckAgent(ctx, agent)
	if err != nil {
		t.Fatalf("CheckAgent (second poll): %v", err)
	}
	if second.Healthy || !second.TaskStalled {
		t.Fatalf("expected second identical poll to report stalled, got %+v", second)
	}
}

func TestAttemptRecoveryRecreatesDeadSession(t *testing.T) {
	eng, reg, _, term := newTestEngine(t, Config{StallTimeoutSeconds: 60, MaxRecoveryAttempts: 3})
	ctx := context.Background()
	ref, _ := term.CreateSession(ctx, "sess-1", "/work")
	agent := &v1.Agent{ID: "worker-1", Role: v1.RoleWorker, Status: v1.AgentIdle, SessionName: ref.SessionName, WindowIndex: ref.WindowIndex, PaneIndex: ref.PaneIndex}
	agent.Status = v1.AgentBlocked
	if err := reg.Register(agent); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := term.KillSession(ctx, "sess-1"); err != nil {
		t.Fatalf("KillSession: %v", err)
	}

	if err := eng.AttemptRecovery(ctx, agent, Verdict{AgentID: agent.ID, SessionDead: true}); err != nil {
		t.Fatalf("AttemptRecovery: %v", err)
	}

	got, err := reg.Lookup("worker-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Status != v1.AgentIdle {
		t.Fatalf("expected agent back to idle after soft recovery, got %v", got.Status)
	}
}

func TestUnhealthyFiltersHealthyVerdicts(t *testing.T) {
	verdicts := []Verdict{{AgentID: "a", Healthy: true}, {AgentID: "b", Healthy: false}}
	got := Unhealthy(verdicts)
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected only unhealthy agent ids, got %v", got)
	}
}

func TestRunMonitorPassIdleStop(t *testing.T) {
	eng, reg, dash, term := newTestEngine(t, Config{StallTimeoutSeconds: 60, IdleStopConsecutive: 2})
	ctx := context.Background()
	ref, _ := term.CreateSession(ctx, "sess-1", "/work")
	agent := &v1.Agent{ID: "worker-1", Role: v1.RoleWorker, Status: v1.AgentIdle, SessionName: ref.SessionName, WindowIndex: ref.WindowIndex, PaneIndex: ref.PaneIndex}
	if err := reg.Register(agent); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := dash.CreateTask("task-1", "t", "", nil); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := dash.UpdateTaskStatus("task-1", v1.TaskInProgress, nil, ""); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	if _, err := dash.UpdateTaskStatus("task-1", v1.TaskCompleted, nil, ""); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	stop, err := eng.RunMonitorPass(ctx)
	if err != nil {
		t.Fatalf("RunMonitorPass: %v", err)
	}
	if stop {
		t.Fatalf("expected first idle pass not to stop yet (streak < threshold)")
	}
	stop, err = eng.RunMonitorPass(ctx)
	if err != nil {
		t.Fatalf("RunMonitorPass: %v", err)
	}
	if !stop {
		t.Fatalf("expected second consecutive idle pass to trigger self-termination")
	}
}
