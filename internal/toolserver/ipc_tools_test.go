package toolserver

import "testing"

func TestSendMessageThenReadMessagesAsAdmin(t *testing.T) {
	deps, _ := testDeps(t)
	sendOut := callHandler(t, handleSendMessage(deps), map[string]any{
		"caller_agent_id": "owner",
		"recipient_ids":   []any{"admin"},
		"content":         "please check status",
	})
	wantSuccess(t, sendOut)
	if delivered, _ := sendOut["delivered"].(float64); delivered != 1 {
		t.Fatalf("expected 1 delivered, got %#v", sendOut["delivered"])
	}

	readOut := callHandler(t, handleReadMessages(deps), map[string]any{
		"caller_agent_id": "admin",
	})
	wantSuccess(t, readOut)
	messages, _ := readOut["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("expected 1 message in admin mailbox, got %#v", readOut["messages"])
	}
}

func TestReadMessagesAsOwnerResolvesAdminSender(t *testing.T) {
	deps, _ := testDeps(t)
	sendOut := callHandler(t, handleSendMessage(deps), map[string]any{
		"caller_agent_id": "admin",
		"recipient_ids":   []any{"owner"},
		"content":         "worker-1 is done",
	})
	wantSuccess(t, sendOut)

	readOut := callHandler(t, handleReadMessages(deps), map[string]any{
		"caller_agent_id": "owner",
	})
	wantSuccess(t, readOut)
	messages, _ := readOut["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("expected 1 message in owner mailbox, got %#v", readOut["messages"])
	}
}

func TestGetUnreadCountReflectsUnreadMessages(t *testing.T) {
	deps, _ := testDeps(t)
	callHandler(t, handleSendMessage(deps), map[string]any{
		"caller_agent_id": "owner",
		"recipient_ids":   []any{"worker-1"},
		"content":         "start task",
	})

	out := callHandler(t, handleGetUnreadCount(deps), map[string]any{"caller_agent_id": "worker-1"})
	wantSuccess(t, out)
	if count, _ := out["unread_count"].(float64); count != 1 {
		t.Fatalf("expected unread_count 1, got %#v", out["unread_count"])
	}
}

func TestRegisterAgentToIPCRejectsUnknownAgent(t *testing.T) {
	deps, _ := testDeps(t)
	out := callHandler(t, handleRegisterAgentToIPC(deps), map[string]any{
		"caller_agent_id": "owner",
		"agent_id":        "ghost",
	})
	wantErrorCode(t, out, "NOT_FOUND")
}

func TestUnlockOwnerWaitDeniedForAdmin(t *testing.T) {
	deps, _ := testDeps(t)
	out := callHandler(t, handleUnlockOwnerWait(deps), map[string]any{
		"caller_agent_id": "admin",
	})
	wantErrorCode(t, out, "PERMISSION_DENIED")
}

func TestUnlockOwnerWaitClearsWaitForOwner(t *testing.T) {
	deps, _ := testDeps(t)
	if err := deps.Registry.SetOwnerWait(true); err != nil {
		t.Fatalf("SetOwnerWait: %v", err)
	}
	out := callHandler(t, handleUnlockOwnerWait(deps), map[string]any{
		"caller_agent_id": "owner",
	})
	wantSuccess(t, out)
	if out["owner_wait_active"] != false {
		t.Fatalf("expected owner_wait_active false, got %#v", out)
	}
}
