package toolserver

import "testing"

func TestSendCommandTypesIntoTargetPane(t *testing.T) {
	deps, term := testDeps(t)
	out := callHandler(t, handleSendCommand(deps), map[string]any{
		"caller_agent_id": "admin",
		"agent_id":        "worker-1",
		"command":         "echo hello",
	})
	wantSuccess(t, out)

	agent, err := deps.Registry.Lookup("worker-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	tail, err := term.PaneTail(contextBG(), paneRefOf(agent), 10)
	if err != nil {
		t.Fatalf("PaneTail: %v", err)
	}
	if tail == "" {
		t.Fatalf("expected sent command to appear in pane scrollback")
	}
}

func TestBroadcastCommandSkipsTerminatedAgents(t *testing.T) {
	deps, _ := testDeps(t)
	if err := deps.Registry.Terminate("worker-1"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	out := callHandler(t, handleBroadcastCommand(deps), map[string]any{
		"caller_agent_id": "owner",
		"command":         "status",
	})
	wantSuccess(t, out)
	delivered, _ := out["delivered_to"].([]any)
	for _, id := range delivered {
		if id == "worker-1" {
			t.Fatalf("terminated agent should not receive broadcast: %#v", delivered)
		}
	}
}

func TestOpenSessionCreatesStandaloneSession(t *testing.T) {
	deps, _ := testDeps(t)
	out := callHandler(t, handleOpenSession(deps), map[string]any{
		"caller_agent_id": "owner",
		"session_name":    "inspect-1",
		"working_dir":     "/work",
	})
	wantSuccess(t, out)
}
