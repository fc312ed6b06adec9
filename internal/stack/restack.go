package stack

import (
	"context"
	"errors"
	"fmt"

	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/state"
)

// ErrAlreadyRestacked indicates that a branch is already on top of its
// parent's current tip.
var ErrAlreadyRestacked = errors.New("branch is already restacked")

// RebaseConflictError indicates that a rebase stopped on a conflict.
// The repository is left in Git's usual conflicted-rebase state; the
// user resolves and runs continue (or abort).
type RebaseConflictError struct {
	Branch string
	Parent string
}

func (e *RebaseConflictError) Error() string {
	return fmt.Sprintf("rebase of %v onto %v stopped on a conflict", e.Branch, e.Parent)
}

// RestackGit is the Git surface the restacker needs: ref reads from the
// repository and a worktree to host the rebase machinery.
type RestackGit interface {
	BranchHash(ctx context.Context, name string) (git.Hash, error)
	IsAncestor(ctx context.Context, a, b git.Hash) bool
	ForkPoint(ctx context.Context, a, b string) (git.Hash, error)
}

var _ RestackGit = (*git.Repository)(nil)

// RestackWorktree hosts branch-targeted rebases.
type RestackWorktree interface {
	RebaseOnto(ctx context.Context, req git.RebaseOntoRequest) (git.RebaseOutcome, error)
}

var _ RestackWorktree = (*git.Worktree)(nil)

// RestackStore persists the parent-revision witness after a rebase.
type RestackStore interface {
	Trunk() string
	Lookup(ctx context.Context, branch string) (*state.Metadata, error)
	Update(ctx context.Context, branch string, md *state.Metadata) error
}

var _ RestackStore = (*state.Store)(nil)

// Restacker rebases branches onto their recorded parents one at a
// time, in plan order.
type Restacker struct {
	repo  RestackGit
	wt    RestackWorktree
	store RestackStore
	log   *silog.Logger
}

// NewRestacker builds a Restacker. The worktree is only used to host
// rebase state; the branches being rebased need not be checked out in
// it.
func NewRestacker(repo RestackGit, wt RestackWorktree, store RestackStore, log *silog.Logger) *Restacker {
	if log == nil {
		log = silog.Nop()
	}
	return &Restacker{repo: repo, wt: wt, store: store, log: log}
}

// RestackOptions configures a single restack.
type RestackOptions struct {
	// AutoStashPop stashes uncommitted changes in whichever worktree
	// has the branch checked out, and pops them after the rebase.
	AutoStashPop bool
}

// RestackResult describes a completed restack of one branch.
type RestackResult struct {
	Branch string
	Parent string

	// Before and After are the branch tips on either side of the
	// rebase. Equal when the rebase was a no-op.
	Before git.Hash
	After  git.Hash
}

// Restack rebases one branch onto its recorded parent's current tip.
//
// Returns [ErrAlreadyRestacked] if the branch is already on top of the
// parent tip; the recorded parent revision is still refreshed in that
// case, so a stale witness does not cause repeated no-op rebases.
// Returns [*RebaseConflictError] if the rebase suspends on a conflict,
// and [*git.ErrWorktreeBusy] if the branch is checked out in a dirty
// worktree without AutoStashPop.
func (r *Restacker) Restack(ctx context.Context, branch string, opts RestackOptions) (*RestackResult, error) {
	md, err := r.store.Lookup(ctx, branch)
	if err != nil {
		return nil, fmt.Errorf("lookup %v: %w", branch, err)
	}

	parentHash, err := r.repo.BranchHash(ctx, md.Parent)
	if err != nil {
		return nil, fmt.Errorf("resolve parent %v of %v: %w", md.Parent, branch, err)
	}

	head, err := r.repo.BranchHash(ctx, branch)
	if err != nil {
		return nil, fmt.Errorf("resolve %v: %w", branch, err)
	}

	if r.repo.IsAncestor(ctx, parentHash, head) {
		// Already linear on the parent's tip. Refresh the witness if
		// the parent was advanced externally (e.g. a manual rebase).
		if md.ParentRevision != parentHash {
			md.ParentRevision = parentHash
			if err := r.store.Update(ctx, branch, md); err != nil {
				return nil, fmt.Errorf("record parent revision of %v: %w", branch, err)
			}
			r.log.Debug("Branch was restacked externally", "branch", branch)
		}
		return nil, ErrAlreadyRestacked
	}

	// The recorded parent revision is where this branch's own commits
	// start. If it is no longer an ancestor of the branch (the parent
	// was amended rather than advanced), fall back to the fork point
	// to find the real divergence.
	upstream := md.ParentRevision
	if !r.repo.IsAncestor(ctx, upstream, head) {
		forkPoint, err := r.repo.ForkPoint(ctx, md.Parent, branch)
		if err == nil {
			if forkPoint != upstream {
				r.log.Debug("Recorded parent revision is stale; rebasing from fork point",
					"branch", branch,
					"parent", md.Parent,
					"forkPoint", forkPoint)
			}
			upstream = forkPoint
		}
	}

	outcome, err := r.wt.RebaseOnto(ctx, git.RebaseOntoRequest{
		Branch:    branch,
		Onto:      parentHash.String(),
		Upstream:  upstream.String(),
		Autostash: opts.AutoStashPop,
	})
	if err != nil {
		return nil, err
	}
	if outcome == git.RebaseConflict {
		return nil, &RebaseConflictError{Branch: branch, Parent: md.Parent}
	}

	after, err := r.repo.BranchHash(ctx, branch)
	if err != nil {
		return nil, fmt.Errorf("resolve %v after rebase: %w", branch, err)
	}

	md.ParentRevision = parentHash
	if err := r.store.Update(ctx, branch, md); err != nil {
		return nil, fmt.Errorf("record parent revision of %v: %w", branch, err)
	}

	r.log.Debug("Restacked branch",
		"branch", branch,
		"parent", md.Parent,
		"before", head,
		"after", after)

	return &RestackResult{
		Branch: branch,
		Parent: md.Parent,
		Before: head,
		After:  after,
	}, nil
}

// RecordRestacked refreshes a branch's parent-revision witness to the
// parent's current tip without rebasing. Used after an interrupted
// rebase is finished by git rebase --continue, which leaves the branch
// correctly placed but the witness stale.
func (r *Restacker) RecordRestacked(ctx context.Context, branch string) error {
	md, err := r.store.Lookup(ctx, branch)
	if err != nil {
		return fmt.Errorf("lookup %v: %w", branch, err)
	}

	parentHash, err := r.repo.BranchHash(ctx, md.Parent)
	if err != nil {
		return fmt.Errorf("resolve parent %v: %w", md.Parent, err)
	}

	if md.ParentRevision == parentHash {
		return nil
	}
	md.ParentRevision = parentHash
	if err := r.store.Update(ctx, branch, md); err != nil {
		return fmt.Errorf("record parent revision of %v: %w", branch, err)
	}
	return nil
}
