// Package syncop implements the repository-synchronization policy:
// pull trunk from the remote, find branches whose work has landed on
// trunk, delete them, and re-point their children at a surviving
// ancestor so a subsequent restack can move them onto it.
//
// The orchestration across transaction phases lives in the command
// layer; this package provides the individual phases so each policy
// is testable on its own.
package syncop

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/stack"
	"go.abhg.dev/stax/internal/state"
)

// NonFastForwardError indicates that local trunk has commits the
// remote does not, so it cannot be fast-forwarded.
type NonFastForwardError struct {
	Trunk  string
	Remote string
}

func (e *NonFastForwardError) Error() string {
	return fmt.Sprintf("%v has local commits not on %v/%v: reconcile them manually (e.g. git pull --rebase) and re-run sync",
		e.Trunk, e.Remote, e.Trunk)
}

// GitRepo is the subset of [git.Repository] the sync phases need.
type GitRepo interface {
	Fetch(ctx context.Context, opts git.FetchOptions) error
	BranchHash(ctx context.Context, name string) (git.Hash, error)
	PeelToCommit(ctx context.Context, ref string) (git.Hash, error)
	IsAncestor(ctx context.Context, a, b git.Hash) bool
	Cherry(ctx context.Context, upstream, head string) ([]git.CherryCommit, error)
	DeleteBranch(ctx context.Context, name string, force bool) error
}

var _ GitRepo = (*git.Repository)(nil)

// MetadataStore is the subset of [state.Store] the sync phases need.
type MetadataStore interface {
	Trunk() string
	Lookup(ctx context.Context, branch string) (*state.Metadata, error)
	Update(ctx context.Context, branch string, md *state.Metadata) error
	Delete(ctx context.Context, branch string) error
}

var _ MetadataStore = (*state.Store)(nil)

// Syncer runs the sync phases against one repository.
type Syncer struct {
	repo   GitRepo
	store  MetadataStore
	remote string
	log    *silog.Logger
}

// NewSyncer builds a Syncer. remote is the remote to sync against.
func NewSyncer(repo GitRepo, store MetadataStore, remote string, log *silog.Logger) *Syncer {
	if log == nil {
		log = silog.Nop()
	}
	return &Syncer{repo: repo, store: store, remote: remote, log: log}
}

// Fetch downloads the remote's refs, pruning remote-tracking refs
// whose upstream branch is gone. The pruned refs are what merged-branch
// detection keys on, so this must run before [Syncer.DetectMerged].
func (s *Syncer) Fetch(ctx context.Context) error {
	return s.repo.Fetch(ctx, git.FetchOptions{Remote: s.remote, Prune: true})
}

// FastForwardTrunk advances local trunk to the remote's trunk.
//
// If trunk is checked out in the worktree given as checkedOutHere,
// a fast-forward-only merge updates the working tree along with the
// ref. Otherwise the ref is updated with a fetch refspec, which works
// even when trunk is checked out in a different worktree.
//
// Returns [*NonFastForwardError] if trunk has diverged from the
// remote; local history is never rewritten.
func (s *Syncer) FastForwardTrunk(ctx context.Context, checkedOutHere *git.Worktree) (moved bool, err error) {
	trunk := s.store.Trunk()

	localHash, err := s.repo.BranchHash(ctx, trunk)
	if err != nil {
		return false, fmt.Errorf("resolve %v: %w", trunk, err)
	}
	remoteHash, err := s.repo.PeelToCommit(ctx, "refs/remotes/"+s.remote+"/"+trunk)
	if err != nil {
		return false, fmt.Errorf("resolve %v/%v: %w", s.remote, trunk, err)
	}

	if localHash == remoteHash {
		return false, nil
	}
	if !s.repo.IsAncestor(ctx, localHash, remoteHash) {
		return false, &NonFastForwardError{Trunk: trunk, Remote: s.remote}
	}

	if checkedOutHere != nil {
		// Dirty changes on trunk survive the fast-forward via a
		// stash that is re-applied whether or not the merge works.
		restore, err := checkedOutHere.Autostash(ctx, "stax sync: autostash")
		if err != nil {
			return false, fmt.Errorf("stash before fast-forward: %w", err)
		}
		defer func() {
			if rerr := restore(ctx); rerr != nil {
				s.log.Error("Failed to re-apply stashed changes; recover them with 'git stash pop'", "error", rerr)
			}
		}()

		if err := checkedOutHere.MergeFFOnly(ctx, remoteHash.String()); err != nil {
			return false, fmt.Errorf("fast-forward %v: %w", trunk, err)
		}
		return true, nil
	}

	err = s.repo.Fetch(ctx, git.FetchOptions{
		Remote:   s.remote,
		Refspecs: []git.Refspec{git.Refspec(trunk + ":" + trunk)},
	})
	if err != nil {
		return false, fmt.Errorf("fast-forward %v: %w", trunk, err)
	}
	return true, nil
}

// MergedSignals are the independent pieces of evidence that a branch's
// work has landed on trunk.
type MergedSignals struct {
	// RemoteGone: the branch's remote counterpart no longer exists.
	RemoteGone bool

	// PRKnown: a pull request is recorded for the branch.
	PRKnown bool

	// PRClosed: the recorded pull request is merged or closed.
	PRClosed bool

	// NoUnmergedCommits: git-cherry found no commit on the branch
	// whose patch is missing from trunk (catches squash merges).
	NoUnmergedCommits bool

	// AncestorOfTrunk: the branch tip is reachable from trunk
	// (a true merge or fast-forward).
	AncestorOfTrunk bool
}

// Merged applies the deletion policy to the signals.
//
// The remote-side signal is a gone remote branch whose recorded pull
// request, if there is one, is merged or closed; a known-open PR
// vetoes it. The default policy deletes on any signal. In safe mode
// the patch-equivalence signal is required, corroborated by the
// remote-side signal or by ancestry; a single signal is not enough.
func (sig MergedSignals) Merged(safe bool) bool {
	remoteDone := sig.RemoteGone && (!sig.PRKnown || sig.PRClosed)
	if safe {
		return sig.NoUnmergedCommits && (remoteDone || sig.AncestorOfTrunk)
	}
	return remoteDone || sig.NoUnmergedCommits || sig.AncestorOfTrunk
}

// MergedBranch is a tracked branch detected as merged into trunk.
type MergedBranch struct {
	Name    string
	Signals MergedSignals
}

// DetectMerged inspects every tracked branch in the stack and reports
// the ones whose work has landed on trunk, sorted by name.
func (s *Syncer) DetectMerged(ctx context.Context, st *stack.Stack, safe bool) ([]MergedBranch, error) {
	trunk := s.store.Trunk()
	trunkHash, err := s.repo.BranchHash(ctx, trunk)
	if err != nil {
		return nil, fmt.Errorf("resolve %v: %w", trunk, err)
	}

	var merged []MergedBranch
	for _, name := range st.Branches() {
		b, _ := st.Lookup(name)

		var sig MergedSignals
		if _, err := s.repo.PeelToCommit(ctx, "refs/remotes/"+s.remote+"/"+name); err != nil {
			if !errors.Is(err, git.ErrNotExist) {
				return nil, fmt.Errorf("resolve %v/%v: %w", s.remote, name, err)
			}
			sig.RemoteGone = true
		}
		if b.PR != nil {
			sig.PRKnown = true
			sig.PRClosed = b.PR.State == state.PRMerged || b.PR.State == state.PRClosed
		}

		commits, err := s.repo.Cherry(ctx, trunk, name)
		if err != nil {
			return nil, fmt.Errorf("cherry %v: %w", name, err)
		}
		sig.NoUnmergedCommits = true
		for _, c := range commits {
			if !c.Equivalent {
				sig.NoUnmergedCommits = false
				break
			}
		}

		sig.AncestorOfTrunk = s.repo.IsAncestor(ctx, b.Head, trunkHash)

		if sig.Merged(safe) {
			s.log.Debug("Branch is merged into trunk",
				"branch", name,
				"remoteGone", sig.RemoteGone,
				"prClosed", sig.PRClosed,
				"noUnmerged", sig.NoUnmergedCommits,
				"ancestor", sig.AncestorOfTrunk)
			merged = append(merged, MergedBranch{Name: name, Signals: sig})
		}
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Name < merged[j].Name })
	return merged, nil
}

// Delete removes a merged branch and its metadata.
// The branch's commits are already on trunk in squashed form, so the
// branch ref is usually unreachable-merged and needs a forced delete.
func (s *Syncer) Delete(ctx context.Context, name string) error {
	if err := s.repo.DeleteBranch(ctx, name, true); err != nil {
		return fmt.Errorf("delete branch %v: %w", name, err)
	}
	if err := s.store.Delete(ctx, name); err != nil {
		return err
	}
	s.log.Debug("Deleted merged branch", "branch", name)
	return nil
}

// Reparent re-points the children of deleted branches at their nearest
// surviving ancestor (ultimately trunk). The child keeps its recorded
// parent revision: that commit is still where the child's own commits
// begin, so the next restack rebases exactly them onto the new parent.
// Reports the children that were re-pointed, sorted.
func (s *Syncer) Reparent(ctx context.Context, st *stack.Stack, deleted []string) ([]string, error) {
	gone := make(map[string]struct{}, len(deleted))
	for _, name := range deleted {
		gone[name] = struct{}{}
	}

	// Nearest surviving ancestor: follow parents through deleted
	// branches until one survives (or trunk).
	surviving := func(name string) string {
		for {
			if _, isGone := gone[name]; !isGone {
				return name
			}
			b, ok := st.Lookup(name)
			if !ok {
				return s.store.Trunk()
			}
			name = b.Parent
		}
	}

	var reparented []string
	for _, name := range deleted {
		for _, child := range st.Children(name) {
			if _, isGone := gone[child]; isGone {
				continue
			}

			newParent := surviving(name)
			md, err := s.store.Lookup(ctx, child)
			if err != nil {
				return nil, fmt.Errorf("lookup %v: %w", child, err)
			}
			if md.Parent == newParent {
				continue
			}
			md.Parent = newParent
			if err := s.store.Update(ctx, child, md); err != nil {
				return nil, fmt.Errorf("reparent %v onto %v: %w", child, newParent, err)
			}

			s.log.Debug("Reparented branch",
				"branch", child,
				"onto", newParent)
			reparented = append(reparented, child)
		}
	}

	sort.Strings(reparented)
	return reparented, nil
}
