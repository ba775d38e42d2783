package toolserver

import "testing"

func TestCreateAgentOwnerRequiresNoCaller(t *testing.T) {
	deps, term := testDeps(t)
	ref, err := term.CreateSession(contextBG(), "sess-owner-only", "/work")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	out := callHandler(t, handleCreateAgent(deps), map[string]any{
		"agent_id":     "owner-2",
		"role":         "owner",
		"session_name": ref.SessionName,
		"window_index": float64(ref.WindowIndex),
		"pane_index":   float64(ref.PaneIndex),
		"working_dir":  "/work",
	})
	wantSuccess(t, out)
}

func TestCreateAgentNonOwnerRequiresCaller(t *testing.T) {
	deps, _ := testDeps(t)
	out := callHandler(t, handleCreateAgent(deps), map[string]any{
		"agent_id":     "worker-2",
		"role":         "worker",
		"session_name": "sess-1",
		"window_index": float64(0),
		"pane_index":   float64(0),
		"working_dir":  "/work",
	})
	wantErrorCode(t, out, "VALIDATION_ERROR")
}

func TestTerminateAgentThenLookupStillFindsTerminatedRecord(t *testing.T) {
	deps, _ := testDeps(t)
	out := callHandler(t, handleTerminateAgent(deps), map[string]any{
		"caller_agent_id": "owner",
		"agent_id":        "worker-1",
	})
	wantSuccess(t, out)

	agent, err := deps.Registry.Lookup("worker-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if agent.Status != "terminated" {
		t.Fatalf("expected terminated status, got %q", agent.Status)
	}
}

func TestInitializeAgentLaunchesResolvedCLI(t *testing.T) {
	deps, term := testDeps(t)
	out := callHandler(t, handleInitializeAgent(deps), map[string]any{
		"caller_agent_id": "admin",
		"agent_id":        "worker-1",
	})
	wantSuccess(t, out)
	if out["ai_cli"] != "claude" {
		t.Fatalf("expected resolved ai_cli claude, got %#v", out["ai_cli"])
	}
	agent, err := deps.Registry.Lookup("worker-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	tail, err := term.PaneTail(contextBG(), paneRefOf(agent), 10)
	if err != nil {
		t.Fatalf("PaneTail: %v", err)
	}
	if tail == "" {
		t.Fatalf("expected launch command to appear in pane output")
	}
}
