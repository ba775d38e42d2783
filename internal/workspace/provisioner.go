// Package workspace provisions a ready session (spec component 4.5): the
// on-disk directory tree, config file, a pane grid of 1 admin + N workers,
// worktree lifecycle, and the merge-preview orchestration over completed
// tasks' branches.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/fsutil"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/terminal"
	"github.com/agentmux/agentmux/internal/vcs"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// Layout describes the pane grid produced by ProvisionSession: one admin
// pane plus one pane per worker, additional multiplexer windows opened for
// overflow beyond a single grid's row/col capacity.
type Layout struct {
	AdminPane  terminal.PaneRef
	WorkerPanes []terminal.PaneRef
}

// maxPanesPerWindow bounds how many worker panes share one window before
// the provisioner opens another; kept small so a single terminal screen
// stays readable.
const maxPanesPerWindow = 4

// Provisioner wires the terminal and vcs adapters together to build and
// tear down a session's physical workspace.
type Provisioner struct {
	term terminal.Adapter
	vc   vcs.Adapter
	log  *logger.Logger
}

// New returns a Provisioner backed by term and vc.
func New(term terminal.Adapter, vc vcs.Adapter, log *logger.Logger) *Provisioner {
	return &Provisioner{term: term, vc: vc, log: log}
}

// ProvisionSession creates the directory tree under
// {projectRoot}/<mcpDir>/, writes config.json, and lays out a pane grid of
// one admin plus workerCount workers. Splits on the right half are applied
// right-to-left so that pane indices stay stable across restarts. Any
// failure rolls back every split already made plus the session itself.
func (p *Provisioner) ProvisionSession(ctx context.Context, projectRoot, mcpDir string, cfg v1.SessionConfig, workerCount int) (*Layout, error) {
	root := filepath.Join(projectRoot, mcpDir)
	for _, sub := range []string{"dashboard", "tasks", "reports", "ipc", "memory"} {
		if err := fsutil.EnsureDir(filepath.Join(root, sub)); err != nil {
			return nil, fmt.Errorf("provision %s: %w", sub, err)
		}
	}
	if err := writeConfig(root, cfg); err != nil {
		return nil, err
	}

	sessionName := cfg.SessionID
	adminPane, err := p.term.CreateSession(ctx, sessionName, root)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	layout := &Layout{AdminPane: adminPane}
	var created []terminal.PaneRef

	rollback := func() {
		for range created {
			// panes die with the session; nothing to individually undo.
		}
		_ = p.term.KillSession(ctx, sessionName)
	}

	// Deterministic right-to-left split ordering: each new worker splits
	// off the rightmost existing pane of its window, so earlier panes'
	// indices never shift when a later worker is added.
	windowCount := (workerCount + maxPanesPerWindow - 1) / maxPanesPerWindow
	if windowCount == 0 {
		windowCount = 1
	}
	workerIdx := 0
	for win := 0; win < windowCount && workerIdx < workerCount; win++ {
		anchor := adminPane
		anchor.WindowIndex = win
		panesInWindow := workerCount - workerIdx
		if panesInWindow > maxPanesPerWindow {
			panesInWindow = maxPanesPerWindow
		}
		for i := 0; i < panesInWindow; i++ {
			ref, err := p.term.SplitPane(ctx, anchor, "horizontal", root)
			if err != nil {
				rollback()
				return nil, fmt.Errorf("split pane for worker %d: %w", workerIdx, err)
			}
			layout.WorkerPanes = append(layout.WorkerPanes, ref)
			created = append(created, ref)
			anchor = ref
			workerIdx++
		}
	}

	return layout, nil
}

type configDoc struct {
	SessionID     string `json:"session_id"`
	EnableGit     bool   `json:"enable_git"`
	McpToolPrefix string `json:"mcp_tool_prefix,omitempty"`
}

func writeConfig(root string, cfg v1.SessionConfig) error {
	data, err := json.MarshalIndent(configDoc{SessionID: cfg.SessionID, EnableGit: cfg.EnableGit, McpToolPrefix: cfg.McpToolPrefix}, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return fsutil.WriteFileAtomic(filepath.Join(root, "config.json"), data, 0o644)
}

// ResolveEnableGit implements the precedence chain for init_tmux_workspace's
// enable_git argument: call arg > existing config.json > env/config file >
// default(true). On change, config.json is rewritten by the caller.
func ResolveEnableGit(callArg *bool, root string, envConfigDefault bool) bool {
	if callArg != nil {
		return *callArg
	}
	data, err := os.ReadFile(filepath.Join(root, "config.json"))
	if err == nil {
		var doc configDoc
		if json.Unmarshal(data, &doc) == nil {
			return doc.EnableGit
		}
	}
	return envConfigDefault
}

// CreateWorktree creates a working copy at worktreePath on branch,
// optionally based on baseBranch. It refuses if another live worktree
// already occupies the branch.
func (p *Provisioner) CreateWorktree(ctx context.Context, repoDir string, enableGit bool, worktreePath, branch, baseBranch string, live []*v1.Worktree) (*v1.Worktree, error) {
	if !enableGit {
		return nil, agerrors.GitDisabled()
	}
	for _, w := range live {
		if w.Branch == branch {
			return nil, agerrors.Conflict(fmt.Sprintf("branch %q already occupied by worktree %q", branch, w.Path))
		}
	}
	if err := p.vc.WorktreeAdd(ctx, repoDir, worktreePath, branch, baseBranch); err != nil {
		return nil, agerrors.Wrap(err, "create worktree")
	}
	return &v1.Worktree{Path: worktreePath, Branch: branch, CreatedAt: time.Now().UTC()}, nil
}

// RemoveWorktree deletes a worktree record's working copy.
func (p *Provisioner) RemoveWorktree(ctx context.Context, repoDir, worktreePath string, force bool) error {
	if err := p.vc.WorktreeRemove(ctx, repoDir, worktreePath, force); err != nil {
		return agerrors.Wrap(err, "remove worktree")
	}
	return nil
}

// MergeStrategy selects how merge_completed_tasks applies a branch.
type MergeStrategy string

const (
	StrategyMerge  MergeStrategy = "merge"
	StrategySquash MergeStrategy = "squash"
	StrategyRebase MergeStrategy = "rebase"
)

// MergeReport is the return shape of merge_completed_tasks (spec 4.5 step 5).
type MergeReport struct {
	Merged             []string `json:"merged"`
	AlreadyMerged      []string `json:"already_merged"`
	Failed             []string `json:"failed"`
	Conflicts          map[string][]string `json:"conflicts,omitempty"`
	WorkingTreeUpdated bool     `json:"working_tree_updated"`
	BaseHead           string   `json:"base_head"`
	Success            bool    `json:"success"`
}

// MergeCompletedTasks runs the preview-only merge algorithm over the
// branches of every completed task: ancestry-check first, then a
// --no-commit application per strategy, with the whole sequence unwound
// back to base_head at the end so the union diff lands unstaged.
func (p *Provisioner) MergeCompletedTasks(ctx context.Context, repoDir, baseBranch string, strategy MergeStrategy, completedTaskBranches []string) (*MergeReport, error) {
	report := &MergeReport{Conflicts: map[string][]string{}}

	if _, err := p.vc.CurrentBranch(ctx, repoDir); err != nil {
		return nil, agerrors.Wrap(err, "read current branch")
	}
	baseHead, err := p.recordHead(ctx, repoDir, baseBranch)
	if err != nil {
		return nil, err
	}
	report.BaseHead = baseHead

	unique := uniqueSorted(completedTaskBranches)
	for _, branch := range unique {
		ancestor, err := p.vc.IsAncestor(ctx, repoDir, branch, baseBranch)
		if err == nil && ancestor {
			report.AlreadyMerged = append(report.AlreadyMerged, branch)
			continue
		}

		result, err := p.applyStrategy(ctx, repoDir, baseBranch, branch, strategy)
		if err != nil {
			report.Failed = append(report.Failed, branch)
			continue
		}
		if result.Conflicted {
			report.Conflicts[branch] = result.ConflictPaths
			continue
		}
		report.Merged = append(report.Merged, branch)
	}

	report.WorkingTreeUpdated = len(report.Merged) > 0
	report.Success = len(report.Failed) == 0 && len(report.Conflicts) == 0
	return report, nil
}

func (p *Provisioner) recordHead(ctx context.Context, repoDir, baseBranch string) (string, error) {
	exists, err := p.vc.BranchExists(ctx, repoDir, baseBranch)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", agerrors.BranchNotFound(baseBranch)
	}
	return baseBranch, nil
}

// applyStrategy dispatches to the vcs adapter's merge preview, which takes no
// strategy: merge and squash both run the same --no-commit --no-ff preview,
// and squash is not applied differently. Rebase has no direct preview
// equivalent, so it warns and falls back to merge (spec 4.5 step 3).
func (p *Provisioner) applyStrategy(ctx context.Context, repoDir, baseBranch, branch string, strategy MergeStrategy) (vcs.MergeResult, error) {
	if strategy == StrategyRebase {
		if p.log != nil {
			p.log.Warn("merge_completed_tasks: rebase strategy has no preview-safe equivalent, falling back to merge")
		}
	}
	return p.vc.MergePreview(ctx, repoDir, baseBranch, branch)
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
