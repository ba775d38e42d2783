package toolserver

import "testing"

func TestHealthcheckAgentReportsHealthyLivePane(t *testing.T) {
	deps, _ := testDeps(t)
	out := callHandler(t, handleHealthcheckAgent(deps), map[string]any{
		"caller_agent_id": "admin",
		"agent_id":        "worker-1",
	})
	wantSuccess(t, out)
	if _, ok := out["verdict"]; !ok {
		t.Fatalf("expected verdict field in response: %#v", out)
	}
}

func TestHealthcheckAgentSelfOnlyDeniesWorkerOnOtherAgent(t *testing.T) {
	deps, _ := testDeps(t)
	out := callHandler(t, handleHealthcheckAgent(deps), map[string]any{
		"caller_agent_id": "worker-1",
		"agent_id":        "admin",
	})
	wantErrorCode(t, out, "PERMISSION_DENIED")
}

func TestHealthcheckAgentSelfOnlyAllowsWorkerOnSelf(t *testing.T) {
	deps, _ := testDeps(t)
	out := callHandler(t, handleHealthcheckAgent(deps), map[string]any{
		"caller_agent_id": "worker-1",
		"agent_id":        "worker-1",
	})
	wantSuccess(t, out)
}

func TestHealthcheckAllReturnsVerdictPerAgent(t *testing.T) {
	deps, _ := testDeps(t)
	out := callHandler(t, handleHealthcheckAll(deps), map[string]any{"caller_agent_id": "owner"})
	wantSuccess(t, out)
	verdicts, _ := out["verdicts"].([]any)
	if len(verdicts) != 3 {
		t.Fatalf("expected 3 verdicts (owner, admin, worker-1), got %d", len(verdicts))
	}
}

func TestGetUnhealthyAgentsEmptyWhenAllLive(t *testing.T) {
	deps, _ := testDeps(t)
	out := callHandler(t, handleGetUnhealthyAgents(deps), map[string]any{"caller_agent_id": "owner"})
	wantSuccess(t, out)
	unhealthy, _ := out["unhealthy"].([]any)
	if len(unhealthy) != 0 {
		t.Fatalf("expected no unhealthy agents, got %#v", unhealthy)
	}
}

func TestAttemptRecoveryRunsAgainstLiveAgent(t *testing.T) {
	deps, _ := testDeps(t)
	out := callHandler(t, handleAttemptRecovery(deps), map[string]any{
		"caller_agent_id": "owner",
		"agent_id":        "worker-1",
	})
	wantSuccess(t, out)
}

func TestFullRecoveryRunsAgainstLiveAgent(t *testing.T) {
	deps, _ := testDeps(t)
	out := callHandler(t, handleFullRecovery(deps), map[string]any{
		"caller_agent_id": "owner",
		"agent_id":        "worker-1",
	})
	wantSuccess(t, out)
}

func TestMonitorAndRecoverWorkersReturnsShouldStopField(t *testing.T) {
	deps, _ := testDeps(t)
	out := callHandler(t, handleMonitorAndRecoverWorkers(deps), map[string]any{"caller_agent_id": "owner"})
	wantSuccess(t, out)
	if _, ok := out["should_stop"]; !ok {
		t.Fatalf("expected should_stop field in response: %#v", out)
	}
}
