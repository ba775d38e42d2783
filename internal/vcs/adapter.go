// Package vcs defines the version-control capability set agentmux needs to
// provision isolated worker working copies: worktree add/remove, branch
// create/merge, ancestry checks, and a conflict-revealing merge preview. The
// version-control tool itself is an out-of-scope collaborator (spec.md §2).
package vcs

import "context"

// MergeResult is the outcome of a preview or apply merge.
type MergeResult struct {
	Conflicted    bool
	ConflictPaths []string
}

// Adapter is the version-control capability set workspace provisioning and
// the merge-preview tool drive.
type Adapter interface {
	// WorktreeAdd creates a new worktree at path on a new branch, based on
	// baseBranch (or the repo's current HEAD if baseBranch is empty).
	WorktreeAdd(ctx context.Context, repoDir, path, branch, baseBranch string) error

	// WorktreeRemove removes a worktree. If force is true, uncommitted
	// changes are discarded.
	WorktreeRemove(ctx context.Context, repoDir, path string, force bool) error

	// BranchExists reports whether branch exists in repoDir.
	BranchExists(ctx context.Context, repoDir, branch string) (bool, error)

	// BranchDelete force-deletes a local branch.
	BranchDelete(ctx context.Context, repoDir, branch string) error

	// IsAncestor reports whether commit-ish a is an ancestor of commit-ish b.
	IsAncestor(ctx context.Context, repoDir, a, b string) (bool, error)

	// MergePreview attempts to merge branch into target without committing
	// or touching the working tree's HEAD, reporting whether it would
	// conflict and, if so, which paths. It always leaves the repository in
	// its original state.
	MergePreview(ctx context.Context, repoDir, target, branch string) (MergeResult, error)

	// CurrentBranch returns the checked-out branch name (or "HEAD" if
	// detached) for repoDir.
	CurrentBranch(ctx context.Context, repoDir string) (string, error)
}
