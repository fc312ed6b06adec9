package main

import (
	"context"
	"errors"
	"fmt"

	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/stack"
	"go.abhg.dev/stax/internal/state"
	"go.abhg.dev/stax/internal/text"
	"go.abhg.dev/stax/internal/txn"
	"go.abhg.dev/stax/internal/worktree"
)

type continueCmd struct {
	Abort bool `help:"Abort the suspended rebase and the operation" xor:"mode"`
	Skip  bool `help:"Skip the conflicting commit and continue" xor:"mode"`
}

func (*continueCmd) Help() string {
	return text.Dedent(`
		Resumes an operation that stopped on a rebase conflict.
		Finishes the conflicted branch's rebase, then picks the
		remaining planned branches back up exactly where the
		operation left off.
	`)
}

func (cmd *continueCmd) Run(
	ctx context.Context,
	log *silog.Logger,
	repo *git.Repository,
	wt *git.Worktree,
	store *state.Store,
	restacker *stack.Restacker,
	coord *worktree.Coordinator,
) error {
	stateDir := txn.StateDir(repo.GitCommonDir())

	if cmd.Abort {
		if wt.RebaseInProgress(ctx) {
			if err := wt.RebaseAbort(ctx); err != nil {
				return err
			}
		}
		tx, err := txn.Reopen(ctx, stateDir, repo, store, txn.BeginOptions{Log: log})
		if err != nil {
			return err
		}
		receipt := tx.Receipt()
		if err := tx.FinishErr("aborted by user", receipt.Outcome.Phase, receipt.Outcome.Branch); err != nil {
			return err
		}
		log.Info("Operation aborted. Use 'stax undo' to also reverse the branches already restacked.")
		return nil
	}

	// Finish the suspended rebase first, if one is still pending.
	if wt.RebaseInProgress(ctx) {
		branch, err := wt.RebaseState(ctx)
		if err != nil {
			return err
		}

		var outcome git.RebaseOutcome
		if cmd.Skip {
			outcome, err = wt.RebaseSkip(ctx)
		} else {
			outcome, err = wt.RebaseContinue(ctx)
		}
		if err != nil {
			return err
		}
		if outcome == git.RebaseConflict {
			return &conflictSuspendedError{Branch: branch}
		}
	} else if cmd.Skip {
		return errors.New("no rebase in progress to skip")
	}

	tx, err := txn.Reopen(ctx, stateDir, repo, store, txn.BeginOptions{Log: log})
	if err != nil {
		if errors.Is(err, txn.ErrNoReceipt) {
			return errors.New("nothing to continue")
		}
		return err
	}

	receipt := tx.Receipt()
	remaining := receipt.Remaining()

	// The branch the operation stopped on has now been rebased by
	// Git; refresh its metadata and receipt entry, then resume the
	// rest of the plan.
	if suspended := receipt.Outcome.Branch; suspended != "" {
		if err := restacker.RecordRestacked(ctx, suspended); err != nil {
			_ = tx.FinishErr(err.Error(), txn.PhaseRebase, suspended)
			return err
		}
		if err := tx.RecordAfter(ctx, suspended); err != nil {
			_ = tx.FinishErr(err.Error(), txn.PhaseRebase, suspended)
			return err
		}
		log.Infof("%v: restacked", suspended)

		if len(remaining) > 0 && remaining[0] == suspended {
			remaining = remaining[1:]
		}
	}

	if err := runRestackSteps(ctx, log, tx, restacker, coord, remaining, false); err != nil {
		return err
	}
	if err := tx.FinishOK(); err != nil {
		return err
	}

	// Return the user to the branch the operation started on, if the
	// receipt recorded one and it still exists.
	if startedOn := receipt.StartedOn; startedOn != "" {
		if _, err := repo.BranchHash(ctx, startedOn); err == nil {
			if err := wt.Checkout(ctx, startedOn); err != nil {
				return fmt.Errorf("checkout %v: %w", startedOn, err)
			}
		}
	}

	log.Infof("%v: completed", tx.Kind())
	return nil
}

