package toolserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentmux/agentmux/internal/agentreg"
	"github.com/agentmux/agentmux/internal/dashboard"
	"github.com/agentmux/agentmux/internal/dispatch"
	"github.com/agentmux/agentmux/internal/healthcheck"
	"github.com/agentmux/agentmux/internal/ipc"
	"github.com/agentmux/agentmux/internal/registry"
	"github.com/agentmux/agentmux/internal/terminal"
	"github.com/agentmux/agentmux/internal/terminal/faketerm"
	"github.com/agentmux/agentmux/internal/vcs/fakevcs"
	"github.com/agentmux/agentmux/internal/workspace"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// testDeps builds a Deps wired entirely against in-process fakes, with a
// registered owner, admin, and worker agent against live panes.
func testDeps(t *testing.T) (*Deps, *faketerm.Adapter) {
	t.Helper()
	dir := t.TempDir()
	sessionDir := filepath.Join(dir, "session")

	term := faketerm.New()
	vc := fakevcs.New()
	reg := registry.New(sessionDir, "", 5, nil)
	dash := dashboard.New(sessionDir, nil)
	mailbox := ipc.New(sessionDir, reg, &ipc.TermNotifier{Term: term}, nil)
	worktrees := workspace.NewWorktreeStore(sessionDir)
	provisioner := workspace.New(term, vc, nil)
	catalog := agentreg.NewCatalog(agentreg.DefaultCLIs())
	dispatcher := dispatch.New(sessionDir, reg, catalog, term, nil)
	hc := healthcheck.New(healthcheck.Config{
		IntervalSeconds:     5,
		StallTimeoutSeconds: 30,
		MaxRecoveryAttempts: 3,
		TailLines:           50,
	}, reg, dash, mailbox, term, vc, nil)

	ctx := context.Background()
	ownerRef, _ := term.CreateSession(ctx, "sess-1", "/work")
	_ = ownerRef
	if err := reg.Register(&v1.Agent{ID: "owner", Role: v1.RoleOwner, Status: v1.AgentIdle, SessionName: "sess-1", WorkingDir: "/work"}); err != nil {
		t.Fatalf("register owner: %v", err)
	}
	adminRef, err := term.SplitPane(ctx, ownerRef, "vertical", "/work")
	if err != nil {
		t.Fatalf("split admin pane: %v", err)
	}
	if err := reg.Register(&v1.Agent{ID: "admin", Role: v1.RoleAdmin, Status: v1.AgentIdle, SessionName: "sess-1", WindowIndex: adminRef.WindowIndex, PaneIndex: adminRef.PaneIndex, WorkingDir: "/work"}); err != nil {
		t.Fatalf("register admin: %v", err)
	}
	workerRef, err := term.SplitPane(ctx, ownerRef, "vertical", "/work")
	if err != nil {
		t.Fatalf("split worker pane: %v", err)
	}
	if err := reg.Register(&v1.Agent{ID: "worker-1", Role: v1.RoleWorker, Status: v1.AgentIdle, SessionName: "sess-1", WindowIndex: workerRef.WindowIndex, PaneIndex: workerRef.PaneIndex, WorkingDir: "/work", WorkerSlot: 1}); err != nil {
		t.Fatalf("register worker: %v", err)
	}

	deps := &Deps{
		ProjectRoot: dir,
		McpDir:      ".agentmux",
		SessionDir:  sessionDir,
		SessionID:   "sess-1",
		Registry:    reg,
		Dashboard:   dash,
		Mailbox:     mailbox,
		Healthcheck: hc,
		Provisioner: provisioner,
		Worktrees:   worktrees,
		Dispatcher:  dispatcher,
		Term:        term,
		VC:          vc,
		Catalog:     catalog,
		EnableGit:   true,
		Settings: func() agentreg.ResolutionSettings {
			return agentreg.ResolutionSettings{GlobalDefault: "claude"}
		},
	}
	return deps, term
}

func callHandler(t *testing.T, h server.ToolHandlerFunc, args map[string]any) map[string]any {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	result, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned transport error: %v", err)
	}
	return resultJSON(t, result)
}

func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result == nil {
		t.Fatal("result is nil")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			var out map[string]any
			if err := json.Unmarshal([]byte(tc.Text), &out); err != nil {
				t.Fatalf("unmarshal tool result: %v", err)
			}
			return out
		}
	}
	t.Fatal("no text content in result")
	return nil
}

func wantSuccess(t *testing.T, out map[string]any) {
	t.Helper()
	if ok, _ := out["success"].(bool); !ok {
		t.Fatalf("expected success, got %#v", out)
	}
}

func wantErrorCode(t *testing.T, out map[string]any, code string) {
	t.Helper()
	if ok, _ := out["success"].(bool); ok {
		t.Fatalf("expected failure, got success: %#v", out)
	}
	if got, _ := out["error_code"].(string); got != code {
		t.Fatalf("expected error_code %q, got %#v", code, out["error_code"])
	}
}

var _ terminal.Adapter = (*faketerm.Adapter)(nil)

func contextBG() context.Context {
	return context.Background()
}

func paneRefOf(agent *v1.Agent) terminal.PaneRef {
	return terminal.PaneRef{SessionName: agent.SessionName, WindowIndex: agent.WindowIndex, PaneIndex: agent.PaneIndex}
}
