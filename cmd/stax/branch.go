package main

import (
	"context"
	"errors"
	"fmt"

	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/stack"
	"go.abhg.dev/stax/internal/state"
	"go.abhg.dev/stax/internal/syncop"
	"go.abhg.dev/stax/internal/text"
	"go.abhg.dev/stax/internal/worktree"
)

type branchCmd struct {
	Track   branchTrackCmd   `cmd:"" help:"Start tracking a branch"`
	Untrack branchUntrackCmd `cmd:"" help:"Forget a branch's stack metadata"`
	Delete  branchDeleteCmd  `cmd:"" help:"Delete a branch and re-point its children"`
}

type branchTrackCmd struct {
	Parent string `placeholder:"BRANCH" help:"Branch this one is stacked on"`
	Branch string `arg:"" optional:"" help:"Branch to track; defaults to the current branch"`
}

func (*branchTrackCmd) Help() string {
	return text.Dedent(`
		Records the branch's parent so stack operations can include
		it. Without --parent, the parent is guessed by looking for a
		tracked branch (or trunk) in the branch's recent history.
	`)
}

func (cmd *branchTrackCmd) Run(
	ctx context.Context,
	log *silog.Logger,
	repo *git.Repository,
	wt *git.Worktree,
	store *state.Store,
) error {
	branch := cmd.Branch
	if branch == "" {
		var err error
		branch, err = wt.CurrentBranch(ctx)
		if err != nil {
			return fmt.Errorf("get current branch: %w", err)
		}
	}

	if branch == store.Trunk() {
		return errors.New("cannot track the trunk branch")
	}
	if _, err := repo.BranchHash(ctx, branch); err != nil {
		return fmt.Errorf("branch %v does not exist", branch)
	}

	parent := cmd.Parent
	if parent == "" {
		var err error
		parent, err = guessParent(ctx, repo, store, branch)
		if err != nil {
			return err
		}
		log.Debugf("Guessed parent branch: %v", parent)
	}

	if parent != store.Trunk() {
		if _, err := store.Lookup(ctx, parent); err != nil {
			if errors.Is(err, state.ErrNotExist) {
				return fmt.Errorf("parent %v is not tracked", parent)
			}
			return err
		}
	}

	// Refuse a parent chain that loops back to the branch.
	for cur := parent; cur != store.Trunk(); {
		if cur == branch {
			return fmt.Errorf("cannot track: %v -> %v would create a cycle", branch, parent)
		}
		md, err := store.Lookup(ctx, cur)
		if err != nil {
			break
		}
		cur = md.Parent
	}

	parentHash, err := repo.BranchHash(ctx, parent)
	if err != nil {
		return fmt.Errorf("resolve %v: %w", parent, err)
	}

	if err := store.Update(ctx, branch, &state.Metadata{
		Parent:         parent,
		ParentRevision: parentHash,
	}); err != nil {
		return err
	}
	log.Infof("%v: tracking with parent %v", branch, parent)

	head, err := repo.BranchHash(ctx, branch)
	if err != nil {
		return err
	}
	if !repo.IsAncestor(ctx, parentHash, head) {
		log.Warnf("%v: needs to be restacked: run 'stax restack'", branch)
	}
	return nil
}

// guessParent walks the branch's history back to trunk looking for the
// tip of another tracked branch; the first match is the parent.
// Trunk is the fallback.
func guessParent(ctx context.Context, repo *git.Repository, store *state.Store, branch string) (string, error) {
	revs, err := repo.ListCommits(ctx, branch, store.Trunk())
	if err != nil {
		return "", fmt.Errorf("list commits: %w", err)
	}

	tracked, err := store.List(ctx)
	if err != nil {
		return "", err
	}

	tips := make(map[git.Hash]string, len(tracked))
	for _, name := range tracked {
		if name == branch {
			continue
		}
		hash, err := repo.BranchHash(ctx, name)
		if err != nil {
			if errors.Is(err, git.ErrNotExist) {
				continue
			}
			return "", err
		}
		tips[hash] = name
	}

	if len(revs) > 0 {
		revs = revs[1:] // skip the branch tip itself
	}
	for _, rev := range revs {
		if name, ok := tips[rev]; ok {
			return name, nil
		}
	}
	return store.Trunk(), nil
}

type branchUntrackCmd struct {
	Branch string `arg:"" optional:"" help:"Branch to untrack; defaults to the current branch"`
}

func (cmd *branchUntrackCmd) Run(
	ctx context.Context,
	log *silog.Logger,
	wt *git.Worktree,
	store *state.Store,
) error {
	branch := cmd.Branch
	if branch == "" {
		var err error
		branch, err = wt.CurrentBranch(ctx)
		if err != nil {
			return fmt.Errorf("get current branch: %w", err)
		}
	}

	if _, err := store.Lookup(ctx, branch); err != nil {
		if errors.Is(err, state.ErrNotExist) {
			return fmt.Errorf("branch %v is not tracked", branch)
		}
		// Corrupt metadata is exactly what untrack cleans up.
		var corrupt *state.CorruptError
		if !errors.As(err, &corrupt) {
			return err
		}
	}

	if err := store.Delete(ctx, branch); err != nil {
		return err
	}
	log.Infof("%v: no longer tracked", branch)
	return nil
}

type branchDeleteCmd struct {
	Force  bool   `help:"Delete even if the branch is not merged"`
	Branch string `arg:"" help:"Branch to delete"`
}

func (*branchDeleteCmd) Help() string {
	return text.Dedent(`
		Deletes the branch and its stack metadata. Branches stacked
		on it are re-pointed at its parent; run 'stax restack --all'
		afterwards to move them there.
	`)
}

func (cmd *branchDeleteCmd) Run(
	ctx context.Context,
	log *silog.Logger,
	repo *git.Repository,
	wt *git.Worktree,
	store *state.Store,
	coord *worktree.Coordinator,
	syncer *syncop.Syncer,
) error {
	branch := cmd.Branch
	if branch == store.Trunk() {
		return errors.New("cannot delete the trunk branch")
	}

	st, err := stack.Load(ctx, repo, store, stack.LoadOptions{Log: log})
	if err != nil {
		return err
	}

	placement, err := coord.Classify(ctx, branch)
	if err != nil {
		return err
	}
	switch placement.State {
	case worktree.CheckedOutElsewhere:
		return fmt.Errorf("branch %v is checked out at %v: delete it from there", branch, placement.Path)
	case worktree.CheckedOutHere:
		if err := wt.Checkout(ctx, store.Trunk()); err != nil {
			return fmt.Errorf("checkout %v: %w", store.Trunk(), err)
		}
	}

	if err := repo.DeleteBranch(ctx, branch, cmd.Force); err != nil {
		return err
	}
	if err := store.Delete(ctx, branch); err != nil {
		return err
	}

	if _, ok := st.Lookup(branch); ok {
		reparented, err := syncer.Reparent(ctx, st, []string{branch})
		if err != nil {
			return err
		}
		for _, child := range reparented {
			log.Infof("%v: re-pointed at %v's parent", child, branch)
		}
	}

	log.Infof("%v: deleted", branch)
	return nil
}
