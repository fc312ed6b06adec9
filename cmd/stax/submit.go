package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.abhg.dev/stax/internal/config"
	"go.abhg.dev/stax/internal/forge"
	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/stack"
	"go.abhg.dev/stax/internal/state"
	"go.abhg.dev/stax/internal/text"
)

type submitCmd struct {
	Draft  bool   `help:"Open the pull request as a draft"`
	Title  string `help:"Pull request title; defaults to the branch's top commit subject"`
	Branch string `arg:"" optional:"" help:"Branch to submit; defaults to the current branch"`
}

func (*submitCmd) Help() string {
	return text.Dedent(`
		Pushes the branch to the remote and opens a pull request
		against its parent, or updates the existing pull request's
		description. The description ends with a map of the stack so
		reviewers can see where the change sits.
	`)
}

func (cmd *submitCmd) Run(
	ctx context.Context,
	log *silog.Logger,
	cfg *config.Config,
	repo *git.Repository,
	wt *git.Worktree,
	store *state.Store,
	host forge.Forge,
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
		return errors.New("cannot submit the trunk branch")
	}

	md, err := store.Lookup(ctx, branch)
	if err != nil {
		if errors.Is(err, state.ErrNotExist) {
			return fmt.Errorf("branch %v is not tracked", branch)
		}
		return err
	}

	st, err := stack.Load(ctx, repo, store, stack.LoadOptions{Log: log})
	if err != nil {
		return err
	}
	if b, ok := st.Lookup(branch); ok && b.NeedsRestack {
		log.Warnf("%v: has fallen behind %v; consider 'stax restack' before submitting", branch, md.Parent)
	}

	head, err := repo.BranchHash(ctx, branch)
	if err != nil {
		return err
	}
	if err := wt.Push(ctx, git.PushOptions{
		Remote:         cfg.Remote,
		Refspec:        git.Refspec(branch + ":" + branch),
		ForceWithLease: branch + ":" + head.String(),
	}); err != nil {
		// The lease fails when the remote branch is not at our last
		// known position; retry without it only for a first push.
		if err := wt.Push(ctx, git.PushOptions{
			Remote:  cfg.Remote,
			Refspec: git.Refspec(branch + ":" + branch),
		}); err != nil {
			return fmt.Errorf("push %v: %w", branch, err)
		}
	}
	log.Infof("%v: pushed to %v", branch, cfg.Remote)

	body := stackBody(st, branch)

	// An existing PR (recorded or discovered by head) is updated;
	// otherwise a new one is opened against the parent.
	pr, lookupErr := findExistingPR(ctx, host, md, branch)
	switch {
	case lookupErr == nil:
		if err := host.UpdatePRBody(ctx, pr.Number, body); err != nil {
			return fmt.Errorf("update #%v: %w", pr.Number, err)
		}
		log.Infof("%v: updated #%v", branch, pr.Number)

	case errors.Is(lookupErr, forge.ErrNotFound):
		title := cmd.Title
		if title == "" {
			title, err = repo.CommitSubject(ctx, branch)
			if err != nil {
				return err
			}
		}
		pr, err = host.CreatePR(ctx, forge.CreatePRRequest{
			Head:  branch,
			Base:  md.Parent,
			Title: title,
			Body:  body,
			Draft: cmd.Draft,
		})
		if err != nil {
			return fmt.Errorf("create pull request for %v: %w", branch, err)
		}
		log.Infof("%v: opened #%v %v", branch, pr.Number, pr.URL)

	default:
		return lookupErr
	}

	// Only a fully successful submit touches metadata.
	md.PR = &state.PR{
		Number: pr.Number,
		State:  state.PRState(pr.State),
		Draft:  pr.Draft,
	}
	return store.Update(ctx, branch, md)
}

// findExistingPR locates the branch's pull request: the recorded
// number first, then a search by head branch.
func findExistingPR(ctx context.Context, host forge.Forge, md *state.Metadata, branch string) (*forge.PR, error) {
	if md.PR != nil {
		return host.GetPR(ctx, md.PR.Number)
	}
	return host.FindPRByHead(ctx, branch)
}

// stackBody renders the stack map appended to every PR description.
func stackBody(st *stack.Stack, branch string) string {
	chain := st.Chain(branch)

	var sb strings.Builder
	sb.WriteString("This change is part of a stack:\n\n")
	fmt.Fprintf(&sb, "- %v\n", st.Trunk())
	for i, name := range chain {
		marker := ""
		if name == branch {
			marker = " ◀ this change"
		}
		fmt.Fprintf(&sb, "%v- %v%v\n", strings.Repeat("  ", i+1), name, marker)
	}
	return sb.String()
}
