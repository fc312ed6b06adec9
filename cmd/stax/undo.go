package main

import (
	"context"
	"errors"

	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/state"
	"go.abhg.dev/stax/internal/text"
	"go.abhg.dev/stax/internal/txn"
	"go.abhg.dev/stax/internal/ui"
)

type undoCmd struct{}

func (*undoCmd) Help() string {
	return text.Dedent(`
		Reverses the most recent completed operation using its
		receipt: every branch is reset to the tip it had before the
		operation, newest first, and its recorded parent is restored.

		A branch that has moved since the operation is left alone and
		stops the undo, so no new work is ever discarded.
	`)
}

func (cmd *undoCmd) Run(
	ctx context.Context,
	log *silog.Logger,
	repo *git.Repository,
	store *state.Store,
) error {
	res, err := txn.Undo(ctx, txn.StateDir(repo.GitCommonDir()), repo, store, log)
	if err != nil {
		if errors.Is(err, txn.ErrNoReceipt) {
			return errors.New("nothing to undo")
		}
		return err
	}

	for _, branch := range res.Restored {
		log.Infof("%v: restored", branch)
	}
	log.Infof("%v from %v: undone", res.OpKind, ui.RelativeTime(res.StartedAt))
	return nil
}
