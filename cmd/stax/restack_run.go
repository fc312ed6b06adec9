package main

import (
	"context"
	"errors"
	"fmt"

	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/stack"
	"go.abhg.dev/stax/internal/txn"
	"go.abhg.dev/stax/internal/worktree"
)

// runRestackSteps rebases the given branches in order under an open
// transaction.
//
// Every branch is re-evaluated live: one that no longer needs a
// restack is recorded and skipped. A conflict suspends the transaction
// (receipt stays in progress, lock released) and returns
// [*conflictSuspendedError]; any other failure seals the receipt.
// The receipt is NOT sealed on success; the caller finishes the
// transaction once its remaining phases are done.
func runRestackSteps(
	ctx context.Context,
	log *silog.Logger,
	tx *txn.Tx,
	restacker *stack.Restacker,
	coord *worktree.Coordinator,
	branches []string,
	autoStashPop bool,
) error {
	for _, branch := range branches {
		// Refuse before mutating anything if the branch sits in a
		// dirty worktree and the user did not allow stashing there.
		if err := coord.CheckRebase(ctx, branch, autoStashPop); err != nil {
			_ = tx.FinishErr(err.Error(), txn.PhaseRebase, branch)
			return err
		}

		res, err := restacker.Restack(ctx, branch, stack.RestackOptions{
			AutoStashPop: autoStashPop,
		})
		switch {
		case err == nil:
			log.Infof("%v: restacked on %v", branch, res.Parent)

		case errors.Is(err, stack.ErrAlreadyRestacked):
			log.Infof("%v: already restacked", branch)

		default:
			var conflict *stack.RebaseConflictError
			if errors.As(err, &conflict) {
				msg := fmt.Sprintf("resolve the conflict in %v and run 'stax continue'", conflict.Branch)
				if err := tx.Suspend(msg, txn.PhaseRebase, conflict.Branch); err != nil {
					return err
				}
				return &conflictSuspendedError{
					Branch: conflict.Branch,
					Parent: conflict.Parent,
				}
			}

			var busy *git.ErrWorktreeBusy
			if errors.As(err, &busy) {
				_ = tx.FinishErr(busy.Error(), txn.PhaseRebase, branch)
				return busy
			}

			_ = tx.FinishErr(err.Error(), txn.PhaseRebase, branch)
			return fmt.Errorf("restack %v: %w", branch, err)
		}

		if err := tx.RecordAfter(ctx, branch); err != nil {
			_ = tx.FinishErr(err.Error(), txn.PhaseRebase, branch)
			return err
		}
	}
	return nil
}
