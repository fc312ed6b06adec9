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

type restackCmd struct {
	All          bool `help:"Restack every tracked branch that has fallen behind"`
	AutoStashPop bool `name:"auto-stash-pop" help:"Stash dirty changes in the branch's worktree and pop them after"`
}

func (*restackCmd) Help() string {
	return text.Dedent(`
		Rebases the current branch onto its recorded parent's tip.
		With --all, every tracked branch that has fallen behind its
		parent is rebased, parents before children.

		If a rebase stops on a conflict, resolve it and run
		'stax continue'.
	`)
}

func (cmd *restackCmd) Run(
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

	scope, kind := stack.ScopeCurrent, txn.OpRestack
	if cmd.All {
		scope, kind = stack.ScopeAll, txn.OpAllRestack
	}

	plan, err := stack.PlanRestack(st, scope, current)
	if err != nil {
		return err
	}
	if plan.Empty() {
		log.Info("Nothing to restack")
		return nil
	}

	tx, err := txn.Begin(ctx, txn.StateDir(repo.GitCommonDir()), kind, repo, store, txn.BeginOptions{Log: log})
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

	// Rebases hosted in this worktree leave HEAD on the last branch
	// rebased; put the user back where they started.
	if err := wt.Checkout(ctx, current); err != nil {
		return fmt.Errorf("checkout %v: %w", current, err)
	}
	return nil
}
