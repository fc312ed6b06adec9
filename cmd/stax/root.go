package main

import (
	"context"
	"errors"
	"os"

	"github.com/alecthomas/kong"
	"golang.org/x/oauth2"

	"go.abhg.dev/stax/internal/config"
	"go.abhg.dev/stax/internal/forge"
	"go.abhg.dev/stax/internal/forge/github"
	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/stack"
	"go.abhg.dev/stax/internal/state"
	"go.abhg.dev/stax/internal/syncop"
	"go.abhg.dev/stax/internal/ui"
	"go.abhg.dev/stax/internal/worktree"
)

type mainCmd struct {
	Verbose bool   `short:"v" help:"Enable verbose output"`
	Quiet   bool   `short:"q" help:"Suppress non-essential output"`
	Yes     bool   `help:"Answer yes to all confirmations"`
	Dir     string `short:"C" placeholder:"DIR" help:"Run as if invoked from DIR"`
	Token   string `env:"STAX_GITHUB_TOKEN" hidden:"" help:"GitHub API token"`

	Status   statusCmd   `cmd:"" help:"Show the branch stack"`
	Restack  restackCmd  `cmd:"" help:"Rebase branches onto their parents"`
	Upstack  upstackCmd  `cmd:"" help:"Operate on the current branch and those above it"`
	Continue continueCmd `cmd:"" help:"Resume after resolving rebase conflicts"`
	Checkout checkoutCmd `cmd:"" help:"Switch to a branch"`
	Create   createCmd   `cmd:"" help:"Create and track a branch stacked on the current one"`
	Branch   branchCmd   `cmd:"" help:"Manage branch tracking"`
	Sync     syncCmd     `cmd:"" help:"Pull trunk and clean up merged branches"`
	Cascade  cascadeCmd  `cmd:"" help:"Restack everything and refresh submitted pull requests"`
	Submit   submitCmd   `cmd:"" help:"Create or update the pull request for a branch"`
	Undo     undoCmd     `cmd:"" help:"Reverse the last completed operation"`
}

// AfterApply wires the dependency providers: each command declares the
// dependencies its Run needs, and kong resolves them through these.
func (cmd *mainCmd) AfterApply(kctx *kong.Context, log *silog.Logger) error {
	if cmd.Verbose {
		log.SetLevel(silog.LevelDebug)
	}
	if cmd.Quiet {
		log.SetLevel(silog.LevelWarn)
	}

	kctx.Bind(ui.New(os.Stdout, ui.Options{Quiet: cmd.Quiet, Yes: cmd.Yes}))

	if err := kctx.BindToProvider(func(ctx context.Context) (*git.Repository, error) {
		repo, err := git.Open(ctx, cmd.Dir, git.OpenOptions{Log: log})
		if err != nil {
			return nil, errors.New("not in a Git repository")
		}
		return repo, nil
	}); err != nil {
		return err
	}

	if err := kctx.BindToProvider(func(ctx context.Context, repo *git.Repository) (*git.Worktree, error) {
		return repo.OpenWorktree(ctx, cmd.Dir)
	}); err != nil {
		return err
	}

	if err := kctx.BindToProvider(func(ctx context.Context, repo *git.Repository) (*config.Config, error) {
		gitcfg := git.NewConfig(git.ConfigOptions{Dir: cmd.Dir, Log: log})
		return config.Load(ctx, gitcfg, repo, log)
	}); err != nil {
		return err
	}

	if err := kctx.BindToProvider(func(repo *git.Repository, cfg *config.Config) (*state.Store, error) {
		return state.NewStore(repo, cfg.Trunk, log), nil
	}); err != nil {
		return err
	}

	if err := kctx.BindToProvider(func(ctx context.Context, repo *git.Repository, wt *git.Worktree) (*worktree.Coordinator, error) {
		return worktree.NewCoordinator(ctx, repo, wt.RootDir(), log)
	}); err != nil {
		return err
	}

	if err := kctx.BindToProvider(func(repo *git.Repository, wt *git.Worktree, coord *worktree.Coordinator, store *state.Store) (*stack.Restacker, error) {
		// Rebases are routed to whichever worktree holds the branch,
		// so the rebase updates that worktree's checkout in place.
		return stack.NewRestacker(repo, worktree.NewRouter(coord, repo, wt), store, log), nil
	}); err != nil {
		return err
	}

	if err := kctx.BindToProvider(func(repo *git.Repository, store *state.Store, cfg *config.Config) (*syncop.Syncer, error) {
		return syncop.NewSyncer(repo, store, cfg.Remote, log), nil
	}); err != nil {
		return err
	}

	return kctx.BindToProvider(func(ctx context.Context, repo *git.Repository, cfg *config.Config) (forge.Forge, error) {
		if cmd.Token == "" {
			return nil, errors.New("no GitHub token: set STAX_GITHUB_TOKEN")
		}

		remoteURL, err := repo.RemoteURL(ctx, cfg.Remote)
		if err != nil {
			return nil, err
		}
		return github.New(ctx, remoteURL, github.Options{
			URL:    cfg.URL,
			APIURL: cfg.APIURL,
			TokenSource: oauth2.StaticTokenSource(
				&oauth2.Token{AccessToken: cmd.Token},
			),
			Log: log,
		})
	})
}
