package main

import (
	"context"
	"fmt"

	"go.abhg.dev/stax/internal/config"
	"go.abhg.dev/stax/internal/forge"
	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/graph"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/stack"
	"go.abhg.dev/stax/internal/state"
	"go.abhg.dev/stax/internal/text"
	"go.abhg.dev/stax/internal/txn"
	"go.abhg.dev/stax/internal/worktree"
)

type cascadeCmd struct {
	AutoStashPop bool `name:"auto-stash-pop" help:"Stash dirty changes in each branch's worktree and pop them after"`
}

func (*cascadeCmd) Help() string {
	return text.Dedent(`
		Restacks every branch that has fallen behind, then pushes
		each branch with a submitted pull request and refreshes its
		description. Equivalent to 'stax restack --all' followed by
		'stax submit' for every submitted branch.
	`)
}

func (cmd *cascadeCmd) Run(
	ctx context.Context,
	log *silog.Logger,
	cfg *config.Config,
	repo *git.Repository,
	wt *git.Worktree,
	store *state.Store,
	restacker *stack.Restacker,
	coord *worktree.Coordinator,
	host forge.Forge,
) error {
	st, err := stack.Load(ctx, repo, store, stack.LoadOptions{Log: log})
	if err != nil {
		return err
	}

	plan, err := stack.PlanRestack(st, stack.ScopeAll, store.Trunk())
	if err != nil {
		return err
	}

	if !plan.Empty() {
		tx, err := txn.Begin(ctx, txn.StateDir(repo.GitCommonDir()), txn.OpAllRestack, repo, store, txn.BeginOptions{Log: log})
		if err != nil {
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
	}

	// Push every submitted branch and refresh its PR, parents first
	// so each PR's base is already in place.
	st, err = stack.Load(ctx, repo, store, stack.LoadOptions{Log: log})
	if err != nil {
		return err
	}
	order := graph.Toposort(st.Branches(), func(name string) (string, bool) {
		b, _ := st.Lookup(name)
		if _, ok := st.Lookup(b.Parent); ok {
			return b.Parent, true
		}
		return "", false
	})
	for _, name := range order {
		b, _ := st.Lookup(name)
		if b.PR == nil {
			continue
		}

		head, err := repo.BranchHash(ctx, name)
		if err != nil {
			return err
		}
		if err := wt.Push(ctx, git.PushOptions{
			Remote:  cfg.Remote,
			Refspec: git.Refspec(name + ":" + name),
			Force:   true,
		}); err != nil {
			return fmt.Errorf("push %v: %w", name, err)
		}
		log.Infof("%v: pushed %v", name, head.Short())

		if err := host.UpdatePRBody(ctx, b.PR.Number, stackBody(st, name)); err != nil {
			return fmt.Errorf("update #%v: %w", b.PR.Number, err)
		}

		pr, err := host.GetPR(ctx, b.PR.Number)
		if err != nil {
			return err
		}
		md, err := store.Lookup(ctx, name)
		if err != nil {
			return err
		}
		md.PR = &state.PR{
			Number: pr.Number,
			State:  state.PRState(pr.State),
			Draft:  pr.Draft,
		}
		if err := store.Update(ctx, name, md); err != nil {
			return err
		}
		log.Infof("%v: refreshed #%v", name, pr.Number)
	}

	return nil
}
