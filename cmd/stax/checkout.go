package main

import (
	"context"
	"fmt"

	"go.abhg.dev/stax/internal/config"
	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/worktree"
)

type checkoutCmd struct {
	Branch string `arg:"" optional:"" help:"Branch to check out; defaults to trunk"`
}

func (cmd *checkoutCmd) Run(
	ctx context.Context,
	log *silog.Logger,
	cfg *config.Config,
	wt *git.Worktree,
	coord *worktree.Coordinator,
) error {
	branch := cmd.Branch
	if branch == "" {
		branch = cfg.Trunk
	}

	if err := coord.CheckoutHere(ctx, wt, branch); err != nil {
		return fmt.Errorf("checkout %v: %w", branch, err)
	}
	log.Infof("switched to %v", branch)
	return nil
}
