// Package fakevcs is an in-memory vcs.Adapter used by tests that need to
// exercise workspace-provisioning logic without a real git binary.
package fakevcs

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentmux/agentmux/internal/vcs"
)

// Adapter is a fake, in-process implementation of vcs.Adapter. Branches and
// worktrees are tracked as plain sets; conflicts are simulated by
// pre-registering a pair of branches as ConflictsWith.
type Adapter struct {
	mu             sync.Mutex
	branches       map[string]bool
	worktrees      map[string]string // path -> branch
	currentBranch  map[string]string // repoDir -> branch
	conflictsWith  map[string]map[string]bool
	conflictPaths  []string
	ancestorOf     map[string]map[string]bool
}

// New returns an empty fake vcs backend whose repos start on "main".
func New() *Adapter {
	return &Adapter{
		branches:      map[string]bool{"main": true},
		worktrees:     make(map[string]string),
		currentBranch: make(map[string]string),
		conflictsWith: make(map[string]map[string]bool),
		ancestorOf:    make(map[string]map[string]bool),
	}
}

var _ vcs.Adapter = (*Adapter)(nil)

// RegisterConflict marks branch a and b as producing a conflict were they
// ever merged, and records which paths would conflict.
func (a *Adapter) RegisterConflict(branchA, branchB string, paths []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conflictsWith[branchA] == nil {
		a.conflictsWith[branchA] = make(map[string]bool)
	}
	if a.conflictsWith[branchB] == nil {
		a.conflictsWith[branchB] = make(map[string]bool)
	}
	a.conflictsWith[branchA][branchB] = true
	a.conflictsWith[branchB][branchA] = true
	a.conflictPaths = paths
}

// AddBranch registers branch as existing, for tests that need a branch
// present without going through WorktreeAdd.
func (a *Adapter) AddBranch(branch string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.branches[branch] = true
}

// SetAncestor configures IsAncestor(ancestor, descendant) to return want.
func (a *Adapter) SetAncestor(ancestor, descendant string, want bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ancestorOf[ancestor] == nil {
		a.ancestorOf[ancestor] = make(map[string]bool)
	}
	a.ancestorOf[ancestor][descendant] = want
}

// SetConflict is a convenience wrapper over RegisterConflict for the common
// case of a single branch conflicting against whatever target it is merged
// into.
func (a *Adapter) SetConflict(branch string, paths []string) {
	a.mu.Lock()
	a.conflictPaths = paths
	if a.conflictsWith[branch] == nil {
		a.conflictsWith[branch] = make(map[string]bool)
	}
	a.conflictsWith[branch]["*"] = true
	a.mu.Unlock()
}

func (a *Adapter) WorktreeAdd(_ context.Context, _ string, path, branch, baseBranch string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.branches[branch] {
		return fmt.Errorf("branch %q already exists", branch)
	}
	if baseBranch != "" && !a.branches[baseBranch] {
		return fmt.Errorf("base branch %q not found", baseBranch)
	}
	a.branches[branch] = true
	a.worktrees[path] = branch
	return nil
}

func (a *Adapter) WorktreeRemove(_ context.Context, _ string, path string, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.worktrees[path]; !ok {
		return fmt.Errorf("worktree %q not found", path)
	}
	delete(a.worktrees, path)
	return nil
}

func (a *Adapter) BranchExists(_ context.Context, _ string, branch string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.branches[branch], nil
}

func (a *Adapter) BranchDelete(_ context.Context, _ string, branch string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.branches[branch] {
		return fmt.Errorf("branch %q not found", branch)
	}
	delete(a.branches, branch)
	return nil
}

func (a *Adapter) IsAncestor(_ context.Context, _ string, ancestor, descendant string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ancestorOf[ancestor][descendant], nil
}

func (a *Adapter) CurrentBranch(_ context.Context, repoDir string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.currentBranch[repoDir]; ok {
		return b, nil
	}
	return "main", nil
}

func (a *Adapter) MergePreview(_ context.Context, _ string, target, branch string) (vcs.MergeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.branches[target] {
		return vcs.MergeResult{}, fmt.Errorf("target branch %q not found", target)
	}
	if !a.branches[branch] {
		return vcs.MergeResult{}, fmt.Errorf("branch %q not found", branch)
	}
	if a.conflictsWith[branch][target] || a.conflictsWith[branch]["*"] {
		return vcs.MergeResult{Conflicted: true, ConflictPaths: a.conflictPaths}, nil
	}
	return vcs.MergeResult{Conflicted: false}, nil
}
