package registry

import (
	"path/filepath"
	"testing"
	"time"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

func newTestAgent(id string, role v1.AgentRole, pane int, slot int) *v1.Agent {
	return &v1.Agent{
		ID:          id,
		Role:        role,
		Status:      v1.AgentIdle,
		SessionName: "sess",
		WindowIndex: 0,
		PaneIndex:   pane,
		WorkingDir:  "/work",
		AICli:       "claude",
		WorkerSlot:  slot,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestRegisterAndLookup(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "session"), filepath.Join(dir, "home"), 3, nil)

	admin := newTestAgent("admin-1", v1.RoleAdmin, 0, 0)
	if err := r.Register(admin); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := r.Lookup("admin-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.ID != "admin-1" || got.Role != v1.RoleAdmin {
		t.Fatalf("unexpected agent: %+v", got)
	}

	if _, err := r.Lookup("ghost"); !agerrors.Is(err, agerrors.ErrCodeNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRegisterDuplicateID(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "session"), "", 3, nil)

	a := newTestAgent("worker-1", v1.RoleWorker, 1, 1)
	if err := r.Register(a); err != nil {
		t.Fatalf("Register: %v", err)
	}
	dup := newTestAgent("worker-1", v1.RoleWorker, 2, 2)
	if err := r.Register(dup); !agerrors.Is(err, agerrors.ErrCodeConflict) {
		t.Fatalf("expected Conflict for duplicate id, got %v", err)
	}
}

func TestRegisterPaneCollision(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "session"), "", 3, nil)

	a := newTestAgent("worker-1", v1.RoleWorker, 1, 1)
	if err := r.Register(a); err != nil {
		t.Fatalf("Register: %v", err)
	}
	collide := newTestAgent("worker-2", v1.RoleWorker, 1, 2)
	if err := r.Register(collide); !agerrors.Is(err, agerrors.ErrCodeConflict) {
		t.Fatalf("expected Conflict for pane collision, got %v", err)
	}
}

func TestTerminateDoesNotDeleteAndFreesPane(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "session"), "", 3, nil)

	a := newTestAgent("worker-1", v1.RoleWorker, 1, 1)
	if err := r.Register(a); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Terminate("worker-1"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	got, err := r.Lookup("worker-1")
	if err != nil {
		t.Fatalf("Lookup after terminate: %v", err)
	}
	if got.Status != v1.AgentTerminated {
		t.Fatalf("expected terminated status, got %v", got.Status)
	}

	reuse := newTestAgent("worker-2", v1.RoleWorker, 1, 1)
	if err := r.Register(reuse); err != nil {
		t.Fatalf("expected pane to be free after terminate, got %v", err)
	}

	if err := r.Terminate("ghost"); !agerrors.Is(err, agerrors.ErrCodeNotFound) {
		t.Fatalf("expected NotFound terminating unknown agent, got %v", err)
	}
}

func TestResolveWorkerSlot(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "session"), "", 2, nil)

	slot, err := r.ResolveWorkerSlot()
	if err != nil || slot != 1 {
		t.Fatalf("expected slot 1, got %d err=%v", slot, err)
	}

	if err := r.Register(newTestAgent("worker-1", v1.RoleWorker, 1, 1)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	slot, err = r.ResolveWorkerSlot()
	if err != nil || slot != 2 {
		t.Fatalf("expected slot 2, got %d err=%v", slot, err)
	}

	if err := r.Register(newTestAgent("worker-2", v1.RoleWorker, 2, 2)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.ResolveWorkerSlot(); !agerrors.Is(err, agerrors.ErrCodeWorkerLimitReached) {
		t.Fatalf("expected WorkerLimitReached, got %v", err)
	}

	if err := r.Terminate("worker-1"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	slot, err = r.ResolveWorkerSlot()
	if err != nil || slot != 1 {
		t.Fatalf("expected freed slot 1 after terminate, got %d err=%v", slot, err)
	}
}

func TestListReflectsFileAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	sessionDir := filepath.Join(dir, "session")

	r1 := New(sessionDir, "", 3, nil)
	if err := r1.Register(newTestAgent("worker-1", v1.RoleWorker, 1, 1)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r2 := New(sessionDir, "", 3, nil)
	list, err := r2.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != "worker-1" {
		t.Fatalf("expected second instance to see file-backed state, got %+v", list)
	}
}

func TestOwnerWaitAndPollStreak(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "session"), "", 3, nil)

	active, err := r.OwnerWaitActive()
	if err != nil || active {
		t.Fatalf("expected wait-lock inactive initially, active=%v err=%v", active, err)
	}

	if err := r.SetOwnerWait(true); err != nil {
		t.Fatalf("SetOwnerWait: %v", err)
	}
	active, err = r.OwnerWaitActive()
	if err != nil || !active {
		t.Fatalf("expected wait-lock active, active=%v err=%v", active, err)
	}

	for i := 1; i <= 3; i++ {
		streak, err := r.NotePollResult(false)
		if err != nil {
			t.Fatalf("NotePollResult: %v", err)
		}
		if streak != i {
			t.Fatalf("expected streak %d, got %d", i, streak)
		}
	}
	streak, err := r.NotePollResult(true)
	if err != nil || streak != 0 {
		t.Fatalf("expected streak reset to 0, got %d err=%v", streak, err)
	}
}

func TestUpdate(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "session"), "", 3, nil)
	if err := r.Register(newTestAgent("worker-1", v1.RoleWorker, 1, 1)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Update("worker-1", func(a *v1.Agent) { a.Status = v1.AgentBusy; a.CurrentTaskID = "task-1" }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := r.Lookup("worker-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Status != v1.AgentBusy || got.CurrentTaskID != "task-1" {
		t.Fatalf("update did not persist: %+v", got)
	}
}
