// Package worktree resolves which Git worktree, if any, holds each
// branch, and classifies whether an operation may touch that branch
// from the current worktree.
//
// A branch checked out in another worktree cannot be checked out here,
// but it can still be rebased with a branch-targeted rebase as long as
// that worktree is clean (or the user allows auto-stashing).
package worktree

import (
	"context"
	"fmt"

	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/sliceutil"
)

// State classifies where a branch is checked out relative to the
// worktree the command runs in.
type State int

// Placement states.
const (
	// NotCheckedOut means no worktree has the branch checked out.
	NotCheckedOut State = iota

	// CheckedOutHere means the invoking worktree has it checked out.
	CheckedOutHere

	// CheckedOutElsewhere means another worktree has it checked out.
	CheckedOutElsewhere
)

// Placement is where a branch lives and whether its worktree is dirty.
type Placement struct {
	State State

	// Path is the root of the worktree holding the branch.
	// Empty for NotCheckedOut.
	Path string

	// Dirty reports whether that worktree has uncommitted changes.
	// Always false for NotCheckedOut.
	Dirty bool
}

// Coordinator maps branches to the worktrees holding them.
// It snapshots the worktree list once at construction; operations that
// add or remove worktrees need a fresh Coordinator.
type Coordinator struct {
	repo    *git.Repository
	fromDir string
	log     *silog.Logger

	byBranch map[string]git.WorktreeEntry
}

// NewCoordinator enumerates the repository's worktrees.
// fromDir is the root of the worktree the command was invoked from.
func NewCoordinator(ctx context.Context, repo *git.Repository, fromDir string, log *silog.Logger) (*Coordinator, error) {
	if log == nil {
		log = silog.Nop()
	}

	entries, err := sliceutil.CollectErr(repo.Worktrees(ctx))
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}

	byBranch := make(map[string]git.WorktreeEntry, len(entries))
	for _, entry := range entries {
		if entry.Branch != "" {
			byBranch[entry.Branch] = entry
		}
	}

	return &Coordinator{
		repo:     repo,
		fromDir:  fromDir,
		log:      log,
		byBranch: byBranch,
	}, nil
}

// Path reports the worktree root holding the given branch, if any.
func (c *Coordinator) Path(branch string) (string, bool) {
	entry, ok := c.byBranch[branch]
	return entry.Path, ok
}

// Classify reports where a branch is checked out and whether that
// worktree is dirty.
func (c *Coordinator) Classify(ctx context.Context, branch string) (Placement, error) {
	entry, ok := c.byBranch[branch]
	if !ok {
		return Placement{State: NotCheckedOut}, nil
	}

	p := Placement{State: CheckedOutElsewhere, Path: entry.Path}
	if entry.Path == c.fromDir {
		p.State = CheckedOutHere
	}

	wt, err := c.repo.OpenWorktree(ctx, entry.Path)
	if err != nil {
		return p, fmt.Errorf("open worktree %v: %w", entry.Path, err)
	}
	dirty, err := wt.IsDirty(ctx)
	if err != nil {
		return p, fmt.Errorf("check worktree %v: %w", entry.Path, err)
	}
	p.Dirty = dirty
	return p, nil
}

// CheckRebase verifies that a branch-targeted rebase of branch may
// proceed. A branch checked out in a dirty worktree needs autoStash;
// without it, [*git.ErrWorktreeBusy] names the offending worktree.
func (c *Coordinator) CheckRebase(ctx context.Context, branch string, autoStash bool) error {
	p, err := c.Classify(ctx, branch)
	if err != nil {
		return err
	}
	if p.Dirty && !autoStash {
		return &git.ErrWorktreeBusy{
			Branch:       branch,
			WorktreePath: p.Path,
		}
	}
	return nil
}

// CheckoutHere switches the invoking worktree to the given branch.
// If the branch is checked out in another worktree, Git would refuse;
// the returned error names that worktree instead of letting the raw
// Git error surface.
func (c *Coordinator) CheckoutHere(ctx context.Context, wt *git.Worktree, branch string) error {
	if entry, ok := c.byBranch[branch]; ok && entry.Path != c.fromDir {
		return fmt.Errorf("branch %v is checked out at %v: switch to that worktree instead", branch, entry.Path)
	}
	if err := wt.Checkout(ctx, branch); err != nil {
		return err
	}

	// Keep the snapshot current for later lookups in this process.
	for name, entry := range c.byBranch {
		if entry.Path == c.fromDir {
			delete(c.byBranch, name)
		}
	}
	if entry, ok := c.byBranch[branch]; !ok || entry.Path != c.fromDir {
		c.byBranch[branch] = git.WorktreeEntry{Path: c.fromDir, Branch: branch}
	}
	return nil
}
