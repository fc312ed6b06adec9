package main

import (
	"context"
	"fmt"

	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/stack"
	"go.abhg.dev/stax/internal/state"
	"go.abhg.dev/stax/internal/text"
	"go.abhg.dev/stax/internal/txn"
	"go.abhg.dev/stax/internal/worktree"
)

type upstackCmd struct {
	Restack upstackRestackCmd `cmd:"" help:"Restack the current branch and everything above it"`
}

type upstackRestackCmd struct {
	AutoStashPop bool `name:"auto-stash-pop" help:"Stash dirty changes in the branch's worktree and pop them after"`
}

func (*upstackRestackCmd) Help() string {
	return text.Dedent(`
		Rebases the current branch and all branches stacked above it
		onto their recorded parents, parents before children.
	`)
}

func (cmd *upstackRestackCmd) Run(
	ctx context.Context,
	log *silog.Logger,
	repo *git.Repository,
	wt *git.Worktree,
	store *state.Store,
	restacker *stack.Restacker,
	coord *worktree.Coordinator,
) error {
	st, err := stack.Load(ctx, repo, store, stack.LoadOptions{Log: log})
	if err != nil {
		return err
	}

	current, err := wt.CurrentBranch(ctx)
	if err != nil {
		return fmt.Errorf("get current branch: %w", err)
	}

	plan, err := stack.PlanRestack(st, stack.ScopeUpstack, current)
	if err != nil {
		return err
	}
	if plan.Empty() {
		log.Info("Nothing to restack")
		return nil
	}

	tx, err := txn.Begin(ctx, txn.StateDir(repo.GitCommonDir()), txn.OpUpstackRestack, repo, store, txn.BeginOptions{Log: log})
	if err != nil {
		return err
	}
	if err := tx.SetStartedOn(current); err != nil {
		return err
	}
	if err := tx.SetPlanSummary(plan.Summary); err != nil {
		return err
	}
	if err := tx.Snapshot(ctx, plan.Branches); err != nil {
		_ = tx.FinishErr(err.Error(), "", "")
		return err
	}

	if err := runRestackSteps(ctx, log, tx, restacker, coord, plan.Branches, cmd.AutoStashPop); err != nil {
		return err
	}
	if err := tx.FinishOK(); err != nil {
		return err
	}

	if err := wt.Checkout(ctx, current); err != nil {
		return fmt.Errorf("checkout %v: %w", current, err)
	}
	return nil
}
