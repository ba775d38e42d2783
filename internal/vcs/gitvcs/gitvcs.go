// Package gitvcs implements vcs.Adapter by shelling out to the git binary.
package gitvcs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/agentmux/agentmux/internal/vcs"
)

// Adapter drives a real git installation.
type Adapter struct {
	binary string
}

// New returns an Adapter that invokes "git" from PATH.
func New() *Adapter {
	return &Adapter{binary: "git"}
}

var _ vcs.Adapter = (*Adapter)(nil)

func (a *Adapter) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, a.binary, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w\noutput: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (a *Adapter) WorktreeAdd(ctx context.Context, repoDir, path, branch, baseBranch string) error {
	args := []string{"worktree", "add"}
	if baseBranch != "" {
		args = append(args, "-b", branch, path, baseBranch)
	} else {
		args = append(args, "-b", branch, path)
	}
	_, err := a.run(ctx, repoDir, args...)
	return err
}

func (a *Adapter) WorktreeRemove(ctx context.Context, repoDir, path string, force bool) error {
	args := []string{"worktree", "remove", path}
	if force {
		args = append(args, "--force")
	}
	_, err := a.run(ctx, repoDir, args...)
	return err
}

func (a *Adapter) BranchExists(ctx context.Context, repoDir, branch string) (bool, error) {
	cmd := exec.CommandContext(ctx, a.binary, "rev-parse", "--verify", "refs/heads/"+branch)
	cmd.Dir = repoDir
	return cmd.Run() == nil, nil
}

func (a *Adapter) BranchDelete(ctx context.Context, repoDir, branch string) error {
	_, err := a.run(ctx, repoDir, "branch", "-D", branch)
	return err
}

func (a *Adapter) IsAncestor(ctx context.Context, repoDir, ancestor, descendant string) (bool, error) {
	cmd := exec.CommandContext(ctx, a.binary, "merge-base", "--is-ancestor", ancestor, descendant)
	cmd.Dir = repoDir
	return cmd.Run() == nil, nil
}

func (a *Adapter) CurrentBranch(ctx context.Context, repoDir string) (string, error) {
	out, err := a.run(ctx, repoDir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// MergePreview merges branch into target using --no-commit so conflicts (if
// any) surface in the index/working tree without creating a merge commit,
// then unwinds the attempt with `merge --abort` (clean case: nothing to
// abort, so we reset --mixed back to target's tip) so the repository is left
// exactly as it was found. This never mutates the caller-visible branch
// state; it is a read-only probe.
func (a *Adapter) MergePreview(ctx context.Context, repoDir, target, branch string) (vcs.MergeResult, error) {
	startTip, err := a.run(ctx, repoDir, "rev-parse", target)
	if err != nil {
		return vcs.MergeResult{}, err
	}
	startTip = strings.TrimSpace(startTip)

	if _, err := a.run(ctx, repoDir, "checkout", target); err != nil {
		return vcs.MergeResult{}, err
	}

	_, mergeErr := a.run(ctx, repoDir, "merge", "--no-commit", "--no-ff", branch)

	statusOut, statusErr := a.run(ctx, repoDir, "diff", "--name-only", "--diff-filter=U")
	var conflicts []string
	if statusErr == nil {
		for _, line := range strings.Split(strings.TrimSpace(statusOut), "\n") {
			if line != "" {
				conflicts = append(conflicts, line)
			}
		}
	}

	// Unwind regardless of outcome: abort a conflicted merge, or reset a
	// successful-but-not-yet-committed one, so target's working tree and
	// HEAD return to their pre-preview state.
	if mergeErr != nil {
		_, _ = a.run(ctx, repoDir, "merge", "--abort")
	} else {
		_, _ = a.run(ctx, repoDir, "reset", "--mixed", startTip)
		_, _ = a.run(ctx, repoDir, "checkout", "--", ".")
	}

	if len(conflicts) > 0 {
		return vcs.MergeResult{Conflicted: true, ConflictPaths: conflicts}, nil
	}
	if mergeErr != nil {
		return vcs.MergeResult{}, mergeErr
	}
	return vcs.MergeResult{Conflicted: false}, nil
}
