package main

import (
	"context"
	"fmt"
	"slices"

	"go.abhg.dev/stax/internal/config"
	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/stack"
	"go.abhg.dev/stax/internal/state"
	"go.abhg.dev/stax/internal/syncop"
	"go.abhg.dev/stax/internal/text"
	"go.abhg.dev/stax/internal/txn"
	"go.abhg.dev/stax/internal/worktree"
)

type syncCmd struct {
	Force    bool `help:"Skip the notice listing merged branches before deleting them"`
	Safe     bool `help:"Require corroborating evidence before deleting a branch"`
	NoDelete bool `name:"no-delete" help:"Keep branches detected as merged"`
	Restack  bool `negatable:"" default:"true" help:"Restack surviving branches after the sync (--no-restack to skip)"`
}

func (*syncCmd) Help() string {
	return text.Dedent(`
		Fetches the remote, fast-forwards trunk, deletes local
		branches whose work has landed on trunk, re-points their
		children, and rebases every surviving branch that has fallen
		behind onto its new parent. Use --no-restack to stop after
		the cleanup and leave the rebasing for later.

		Trunk is fast-forwarded even when it is checked out in
		another worktree. Sync never rewrites local history: if trunk
		has diverged from the remote, the sync stops.
	`)
}

func (cmd *syncCmd) Run(
	ctx context.Context,
	log *silog.Logger,
	repo *git.Repository,
	wt *git.Worktree,
	store *state.Store,
	cfg *config.Config,
	coord *worktree.Coordinator,
	syncer *syncop.Syncer,
	restacker *stack.Restacker,
) error {
	tx, err := txn.Begin(ctx, txn.StateDir(repo.GitCommonDir()), txn.OpSync, repo, store, txn.BeginOptions{Log: log})
	if err != nil {
		return err
	}
	startedOn, err := wt.CurrentBranch(ctx)
	if err == nil {
		if err := tx.SetStartedOn(startedOn); err != nil {
			return err
		}
	}

	if err := syncer.Fetch(ctx); err != nil {
		// Nothing local has been touched yet; abort outright.
		_ = tx.FinishErr(err.Error(), txn.PhaseFetch, "")
		return err
	}

	// Fast-forward trunk. Use a working-tree merge only when trunk is
	// checked out right here; a ref-only update otherwise.
	var trunkWt *git.Worktree
	if startedOn == cfg.Trunk {
		trunkWt = wt
	}
	moved, err := syncer.FastForwardTrunk(ctx, trunkWt)
	if err != nil {
		_ = tx.FinishErr(err.Error(), txn.PhaseTrunkUpdate, cfg.Trunk)
		return err
	}
	if moved {
		hash, err := repo.BranchHash(ctx, cfg.Trunk)
		if err != nil {
			_ = tx.FinishErr(err.Error(), txn.PhaseTrunkUpdate, cfg.Trunk)
			return err
		}
		log.Infof("%v: fast-forwarded to %v", cfg.Trunk, hash.Short())
	} else {
		log.Infof("%v: already up to date", cfg.Trunk)
	}

	st, err := stack.Load(ctx, repo, store, stack.LoadOptions{Log: log})
	if err != nil {
		_ = tx.FinishErr(err.Error(), txn.PhaseDelete, "")
		return err
	}

	var deleted []string
	if !cmd.NoDelete {
		merged, err := syncer.DetectMerged(ctx, st, cmd.Safe)
		if err != nil {
			_ = tx.FinishErr(err.Error(), txn.PhaseDelete, "")
			return err
		}

		if len(merged) > 0 && !cmd.Force {
			names := make([]string, len(merged))
			for i, mb := range merged {
				names[i] = mb.Name
			}
			log.Infof("deleting %d merged branch(es): %v (use --no-delete to keep them)", len(names), names)
		}

		for _, mb := range merged {
			branch := mb.Name
			if err := tx.Snapshot(ctx, []string{branch}); err != nil {
				_ = tx.FinishErr(err.Error(), txn.PhaseDelete, branch)
				return err
			}

			placement, err := coord.Classify(ctx, branch)
			if err != nil {
				_ = tx.FinishErr(err.Error(), txn.PhaseDelete, branch)
				return err
			}
			if placement.State == worktree.CheckedOutElsewhere {
				log.Warnf("%v: merged, but checked out at %v; not deleting", branch, placement.Path)
				if err := tx.RecordSkip(branch, fmt.Sprintf("checked out at %v", placement.Path)); err != nil {
					return err
				}
				continue
			}
			if placement.State == worktree.CheckedOutHere {
				if err := wt.Checkout(ctx, cfg.Trunk); err != nil {
					_ = tx.FinishErr(err.Error(), txn.PhaseDelete, branch)
					return fmt.Errorf("checkout %v: %w", cfg.Trunk, err)
				}
			}

			if err := syncer.Delete(ctx, branch); err != nil {
				_ = tx.FinishErr(err.Error(), txn.PhaseDelete, branch)
				return err
			}
			if err := tx.RecordDelete(branch); err != nil {
				return err
			}
			log.Infof("%v: merged into %v: deleted", branch, cfg.Trunk)
			deleted = append(deleted, branch)
		}
	}

	if len(deleted) > 0 {
		// Snapshot the children before their parents change, so the
		// receipt can restore the old parent on undo.
		var children []string
		for _, name := range deleted {
			for _, child := range st.Children(name) {
				if slices.Contains(deleted, child) {
					continue
				}
				children = append(children, child)
			}
		}
		if err := tx.Snapshot(ctx, children); err != nil {
			_ = tx.FinishErr(err.Error(), txn.PhaseReparent, "")
			return err
		}

		reparented, err := syncer.Reparent(ctx, st, deleted)
		if err != nil {
			_ = tx.FinishErr(err.Error(), txn.PhaseReparent, "")
			return err
		}
		for _, child := range reparented {
			if err := tx.RecordAfter(ctx, child); err != nil {
				_ = tx.FinishErr(err.Error(), txn.PhaseReparent, child)
				return err
			}
			log.Infof("%v: re-pointed at a surviving ancestor", child)
		}
	}

	// Restack the survivors in the same transaction. This is the
	// default; --no-delete style cleanups that want to defer the
	// rebasing pass --no-restack.
	if cmd.Restack {
		st, err = stack.Load(ctx, repo, store, stack.LoadOptions{Log: log})
		if err != nil {
			_ = tx.FinishErr(err.Error(), txn.PhaseRebase, "")
			return err
		}
		plan, err := stack.PlanRestack(st, stack.ScopeAll, cfg.Trunk)
		if err != nil {
			_ = tx.FinishErr(err.Error(), txn.PhaseRebase, "")
			return err
		}
		if !plan.Empty() {
			if err := tx.SetPlanSummary(plan.Summary); err != nil {
				return err
			}
			if err := tx.Snapshot(ctx, plan.Branches); err != nil {
				_ = tx.FinishErr(err.Error(), txn.PhaseRebase, "")
				return err
			}
			if err := runRestackSteps(ctx, log, tx, restacker, coord, plan.Branches, false); err != nil {
				return err
			}
		}
	}

	if err := tx.FinishOK(); err != nil {
		return err
	}

	// Return to the branch the user started on; trunk if the sync
	// deleted it.
	restore := startedOn
	if restore == "" || slices.Contains(deleted, restore) {
		restore = cfg.Trunk
	}
	if err := wt.Checkout(ctx, restore); err != nil {
		return fmt.Errorf("checkout %v: %w", restore, err)
	}
	return nil
}
