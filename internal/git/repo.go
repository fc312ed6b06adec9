package git

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/xec"
)

// Repository is a handle to a Git repository's object database and refs.
// It is not tied to a particular working tree; use [Repository.OpenWorktree]
// for operations that require one.
type Repository struct {
	gitDir       string // absolute path to this repository's .git directory
	gitCommonDir string // absolute path shared across all worktrees

	log    *silog.Logger
	execer xec.Execer
}

// OpenOptions configures [Open].
type OpenOptions struct {
	// Log is used for logging messages. Defaults to a no-op logger.
	Log *silog.Logger

	// Execer overrides how commands are actually run. Used in tests.
	Execer xec.Execer
}

// Open opens the repository containing dir (or the current directory if
// dir is empty) and returns a handle to it.
func Open(ctx context.Context, dir string, opts OpenOptions) (*Repository, error) {
	if opts.Log == nil {
		opts.Log = silog.Nop()
	}

	r := &Repository{log: opts.Log, execer: opts.Execer}
	out, err := r.runInDir(ctx, dir, "rev-parse", "--absolute-git-dir", "--git-common-dir").OutputChomp()
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %w", err)
	}
	gitDir, commonDir, ok := strings.Cut(out, "\n")
	if !ok {
		return nil, fmt.Errorf("unexpected output from git rev-parse: %q", out)
	}
	r.gitDir = gitDir
	if filepath.IsAbs(commonDir) {
		r.gitCommonDir = filepath.Clean(commonDir)
	} else {
		base := dir
		if base == "" {
			base = "."
		}
		r.gitCommonDir = filepath.Clean(filepath.Join(base, commonDir))
	}
	return r, nil
}

// InitOptions configures [Init].
type InitOptions struct {
	Log *silog.Logger

	// Branch is the name of the initial branch. Defaults to "main".
	Branch string

	Execer xec.Execer
}

// Init creates a new Git repository at dir and returns a handle to it.
func Init(ctx context.Context, dir string, opts InitOptions) (*Repository, error) {
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	cmd := xec.Command(ctx, opts.Log, "git", "init", "--initial-branch="+opts.Branch).WithDir(dir)
	if opts.Execer != nil {
		cmd = cmd.WithExecer(opts.Execer)
	}
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git init: %w", err)
	}
	return Open(ctx, dir, OpenOptions{Log: opts.Log, Execer: opts.Execer})
}

// GitDir returns the absolute path to this repository handle's own .git
// directory (for a linked worktree, this is the worktree-private
// directory under the common dir's worktrees/ subdirectory).
func (r *Repository) GitDir() string { return r.gitDir }

// GitCommonDir returns the absolute path to the directory shared by every
// worktree of the repository. Tool state that must be visible regardless
// of which worktree a command runs from (the advisory lock, receipts)
// lives under here rather than under GitDir.
func (r *Repository) GitCommonDir() string { return r.gitCommonDir }

func (r *Repository) gitCmd(ctx context.Context, args ...string) *gitCmd {
	cmd := newGitCmd(ctx, r.log, "", args...)
	if r.execer != nil {
		cmd = cmd.WithExecer(r.execer)
	}
	return cmd
}

func (r *Repository) runInDir(ctx context.Context, dir string, args ...string) *gitCmd {
	cmd := newGitCmd(ctx, r.log, dir, args...)
	if r.execer != nil {
		cmd = cmd.WithExecer(r.execer)
	}
	return cmd
}

// Worktree is a checkout of a Repository at a specific path on disk.
// Operations that require a working tree (checkout, rebase, stash, diff
// against the index, ...) hang off Worktree rather than Repository.
type Worktree struct {
	gitDir  string // absolute path to this worktree's own .git file/dir
	rootDir string // absolute path to the worktree's root directory
	repo    *Repository

	log    *silog.Logger
	execer xec.Execer
}

// RootDir returns the absolute path to the worktree's root directory.
func (w *Worktree) RootDir() string { return w.rootDir }

// Repository returns the repository this worktree belongs to.
func (w *Worktree) Repository() *Repository { return w.repo }

func (w *Worktree) gitCmd(ctx context.Context, args ...string) *gitCmd {
	cmd := newGitCmd(ctx, w.log, w.rootDir, args...)
	if w.execer != nil {
		cmd = cmd.WithExecer(w.execer)
	}
	return cmd
}

// OpenWorktree opens the worktree rooted at dir.
func (r *Repository) OpenWorktree(ctx context.Context, dir string) (*Worktree, error) {
	out, err := r.runInDir(ctx, dir, "rev-parse", "--show-toplevel", "--absolute-git-dir").OutputChomp()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	rootDir, gitDir, ok := strings.Cut(out, "\n")
	if !ok {
		return nil, fmt.Errorf("unexpected output from git rev-parse: %q", out)
	}
	return &Worktree{gitDir: gitDir, rootDir: rootDir, repo: r, log: r.log, execer: r.execer}, nil
}
