package main

import (
	"context"
	"fmt"

	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/state"
	"go.abhg.dev/stax/internal/text"
)

type createCmd struct {
	Name string `arg:"" help:"Name of the new branch"`
}

func (*createCmd) Help() string {
	return text.Dedent(`
		Creates a branch at the current HEAD, records the current
		branch as its parent, and checks it out. The current branch
		must be trunk or a tracked branch.
	`)
}

func (cmd *createCmd) Run(
	ctx context.Context,
	log *silog.Logger,
	repo *git.Repository,
	wt *git.Worktree,
	store *state.Store,
) error {
	parent, err := wt.CurrentBranch(ctx)
	if err != nil {
		return fmt.Errorf("get current branch: %w", err)
	}

	if parent != store.Trunk() {
		if _, err := store.Lookup(ctx, parent); err != nil {
			return fmt.Errorf("%v is not tracked: track it first with 'stax branch track'", parent)
		}
	}

	head, err := wt.Head(ctx)
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}

	if err := repo.CreateBranch(ctx, git.CreateBranchRequest{Name: cmd.Name}); err != nil {
		return err
	}
	if err := store.Update(ctx, cmd.Name, &state.Metadata{
		Parent:         parent,
		ParentRevision: head,
	}); err != nil {
		return err
	}
	if err := wt.Checkout(ctx, cmd.Name); err != nil {
		return fmt.Errorf("checkout %v: %w", cmd.Name, err)
	}

	log.Infof("%v: created on top of %v", cmd.Name, parent)
	return nil
}
