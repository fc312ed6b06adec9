package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.abhg.dev/stax/internal/config"
	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/stack"
	"go.abhg.dev/stax/internal/state"
	"go.abhg.dev/stax/internal/text"
	"go.abhg.dev/stax/internal/ui"
)

type statusCmd struct {
	JSON bool `help:"Print machine-readable output"`
}

func (*statusCmd) Help() string {
	return text.Dedent(`
		Prints the tracked branches as a tree rooted at trunk,
		marking the current branch and branches that have fallen
		behind their parents.
	`)
}

// statusBranch is one branch in the --json output.
type statusBranch struct {
	Name         string `json:"name"`
	Parent       string `json:"parent,omitempty"`
	NeedsRestack bool   `json:"needs_restack"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
	PRNumber     int    `json:"pr_number,omitempty"`
}

func (cmd *statusCmd) Run(
	ctx context.Context,
	log *silog.Logger,
	view *ui.View,
	cfg *config.Config,
	repo *git.Repository,
	wt *git.Worktree,
	store *state.Store,
) error {
	st, err := stack.Load(ctx, repo, store, stack.LoadOptions{
		IncludeStats: true,
		Log:          log,
	})
	if err != nil {
		return err
	}

	current, err := wt.CurrentBranch(ctx)
	if err != nil && !errors.Is(err, git.ErrDetachedHead) {
		return fmt.Errorf("get current branch: %w", err)
	}

	if cmd.JSON {
		out := struct {
			Trunk    string         `json:"trunk"`
			Branches []statusBranch `json:"branches"`
		}{Trunk: st.Trunk()}

		for _, name := range st.Branches() {
			b, _ := st.Lookup(name)
			sb := statusBranch{
				Name:         name,
				Parent:       b.Parent,
				NeedsRestack: b.NeedsRestack,
				LinesAdded:   b.LinesAdded,
				LinesRemoved: b.LinesRemoved,
			}
			if b.PR != nil {
				sb.PRNumber = b.PR.Number
			}
			out.Branches = append(out.Branches, sb)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	view.Printf("%s", ui.StackTree(st, current))

	for _, orphan := range st.Orphans() {
		log.Warnf("%v: branch no longer exists; run 'stax branch untrack %v' to forget it", orphan, orphan)
	}

	// Warn when the last-fetched remote refs say trunk has moved on.
	// This reads only cached refs; it never touches the network.
	trunkHash, err := repo.BranchHash(ctx, cfg.Trunk)
	if err == nil {
		remoteHash, err := repo.PeelToCommit(ctx, "refs/remotes/"+cfg.Remote+"/"+cfg.Trunk)
		if err == nil && remoteHash != trunkHash && repo.IsAncestor(ctx, trunkHash, remoteHash) {
			log.Warnf("%v: behind %v/%v; run 'stax sync' to update", cfg.Trunk, cfg.Remote, cfg.Trunk)
		}
	}
	return nil
}
