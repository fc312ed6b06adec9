package git

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoChanges is returned when there are no changes to stash.
var ErrNoChanges = errors.New("no changes to stash")

// StashCreate creates a stash entry and returns its object name without
// storing it in the stash reflog. Returns [ErrNoChanges] if the worktree
// has nothing to stash.
func (w *Worktree) StashCreate(ctx context.Context, message string) (Hash, error) {
	args := []string{"stash", "create"}
	if message != "" {
		args = append(args, message)
	}

	out, err := w.gitCmd(ctx, args...).OutputChomp()
	if err != nil {
		return ZeroHash, fmt.Errorf("stash create: %w", err)
	}
	if out == "" {
		return ZeroHash, ErrNoChanges
	}
	return Hash(out), nil
}

// StashStore records a stash entry created by [Worktree.StashCreate] in
// the stash reflog, so it shows up in "git stash list".
func (w *Worktree) StashStore(ctx context.Context, stash Hash, message string) error {
	args := []string{"stash", "store"}
	if message != "" {
		args = append(args, "-m", message)
	}
	args = append(args, stash.String())

	if err := w.gitCmd(ctx, args...).Run(); err != nil {
		return fmt.Errorf("stash store: %w", err)
	}
	return nil
}

// StashApply applies a stash to the working directory without removing it
// from the stash reflog. If stash is empty, the most recently stored
// stash is applied.
func (w *Worktree) StashApply(ctx context.Context, stash string) error {
	args := []string{"stash", "apply"}
	if stash != "" {
		args = append(args, stash)
	}

	if err := w.gitCmd(ctx, args...).Run(); err != nil {
		return fmt.Errorf("stash apply: %w", err)
	}
	return nil
}

// Autostash stashes the worktree's dirty state (if any) under message and
// returns a function that re-applies it. It is the primitive behind the
// auto-stash-pop behavior: the caller should
// defer the returned function so the stash is restored regardless of how
// the intervening operation concludes.
func (w *Worktree) Autostash(ctx context.Context, message string) (restore func(context.Context) error, err error) {
	stash, err := w.StashCreate(ctx, message)
	if err != nil {
		if errors.Is(err, ErrNoChanges) {
			return func(context.Context) error { return nil }, nil
		}
		return nil, err
	}
	if err := w.StashStore(ctx, stash, message); err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		return w.StashApply(ctx, stash.String())
	}, nil
}
