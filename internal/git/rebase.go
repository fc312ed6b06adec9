package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RebaseOutcome is the result of a rebase attempt.
type RebaseOutcome int

const (
	// RebaseSuccess indicates the rebase completed without conflicts.
	RebaseSuccess RebaseOutcome = iota

	// RebaseConflict indicates the rebase left the repository with a
	// conflicted index; the caller must resolve and run RebaseContinue
	// (or RebaseAbort) before anything else touches this worktree.
	RebaseConflict
)

// ErrNoRebase is returned by [Worktree.RebaseState] when no rebase is in
// progress.
var ErrNoRebase = errors.New("no rebase in progress")

// AutostashPopError indicates that a rebase completed, but the
// automatically stashed changes could not be re-applied cleanly.
// Git exits zero in this case; the stash entry is kept, and the
// listed files are left unmerged in the hosting worktree.
type AutostashPopError struct {
	Branch   string
	Unmerged []string
}

func (e *AutostashPopError) Error() string {
	return fmt.Sprintf("%v: stashed changes could not be re-applied", e.Branch)
}

// ErrWorktreeBusy indicates that the target branch is checked out in
// another worktree which has uncommitted changes, so a branch-targeted
// rebase cannot proceed without stashing there first.
type ErrWorktreeBusy struct {
	Branch       string
	WorktreePath string
	AutoStashPop bool // whether the caller requested auto-stash-pop
}

func (e *ErrWorktreeBusy) Error() string {
	msg := fmt.Sprintf("%s is checked out with uncommitted changes at %s", e.Branch, e.WorktreePath)
	if !e.AutoStashPop {
		msg += " (use --auto-stash-pop to stash and retry)"
	}
	return msg
}

// RebaseOntoRequest parameterizes a branch-targeted rebase.
type RebaseOntoRequest struct {
	// Branch is the branch to rebase. It need not be checked out in this
	// worktree, or in any worktree at all.
	Branch string

	// Onto is the commit-ish the branch should be rebased onto.
	Onto string

	// Upstream is the old base to exclude already-applied commits from;
	// defaults to Onto when empty (the common restack case: the branch's
	// old and new parent are the same branch, just at a different tip).
	Upstream string

	// Autostash stashes and re-applies dirty changes in whichever
	// worktree has Branch checked out, if any.
	Autostash bool
}

// RebaseOnto rebases a branch onto a new base, using the form
// "git rebase <upstream> --onto <onto> <branch>", which works whether or
// not Branch is checked out in this worktree (the "branch-targeted"
// rebase). Git checks Branch out in this worktree for the rebase and
// leaves it checked out afterwards. If Branch is checked out in a
// different worktree, Git refuses the rebase, and the error is returned
// as [*ErrWorktreeBusy].
func (w *Worktree) RebaseOnto(ctx context.Context, req RebaseOntoRequest) (RebaseOutcome, error) {
	upstream := req.Upstream
	if upstream == "" {
		upstream = req.Onto
	}

	args := []string{
		"-c", "advice.mergeConflict=false",
		"-c", "advice.skippedCherryPicks=false",
		"rebase",
	}
	if req.Autostash {
		args = append(args, "--autostash")
	}
	if req.Onto != "" && req.Onto != upstream {
		args = append(args, "--onto", req.Onto)
	}
	args = append(args, upstream, req.Branch)

	err := w.gitCmd(ctx, args...).WithLogPrefix("git rebase").Run()
	if err == nil {
		if req.Autostash {
			// If the autostash could not be re-applied after the
			// rebase, git still exits with a zero exit code, so
			// check for leftover unmerged files separately.
			var unmerged []string
			for path, err := range w.ListFilesPaths(ctx, &ListFilesOptions{Unmerged: true}) {
				if err != nil {
					return 0, err
				}
				unmerged = append(unmerged, path)
			}
			if len(unmerged) > 0 {
				sort.Strings(unmerged)

				w.log.Error("Dirty changes in the worktree were stashed, but could not be re-applied.")
				w.log.Error("The following files were left unmerged:")
				for _, file := range unmerged {
					w.log.Error("  - " + file)
				}
				w.log.Error("Resolve the conflict and run 'git stash drop' to remove the stash entry.")
				w.log.Error("Or change to a branch where the stash can apply, and run 'git stash pop'.")

				return 0, &AutostashPopError{Branch: req.Branch, Unmerged: unmerged}
			}
		}
		return RebaseSuccess, nil
	}

	if busyBranch, path, ok := parseWorktreeBusyError(err); ok {
		return 0, &ErrWorktreeBusy{Branch: busyBranch, WorktreePath: path, AutoStashPop: req.Autostash}
	}

	if _, stateErr := w.RebaseState(ctx); stateErr != nil {
		return 0, fmt.Errorf("rebase %s onto %s: %w", req.Branch, req.Onto, err)
	}
	return RebaseConflict, nil
}

// parseWorktreeBusyError recognizes Git's "branch already checked out"
// error, of the form:
//
//	fatal: 'feature' is already used by worktree at '/path/to/wt'
//
// and extracts the branch name and worktree path from it.
func parseWorktreeBusyError(err error) (branch, path string, ok bool) {
	msg := err.Error()
	const marker = "is already used by worktree at"
	idx := strings.Index(msg, marker)
	if idx == -1 {
		return "", "", false
	}

	branch, ok = quoted(msg[:idx])
	if !ok {
		return "", "", false
	}
	path, ok = quoted(msg[idx+len(marker):])
	if !ok {
		return "", "", false
	}
	return branch, path, true
}

// quoted extracts the last single-quoted substring from s.
func quoted(s string) (string, bool) {
	end := strings.LastIndexByte(s, '\'')
	if end == -1 {
		return "", false
	}
	start := strings.LastIndexByte(s[:end], '\'')
	if start == -1 {
		return "", false
	}
	return s[start+1 : end], true
}

// RebaseContinue resumes a rebase suspended by a conflict.
func (w *Worktree) RebaseContinue(ctx context.Context) (RebaseOutcome, error) {
	err := w.gitCmd(ctx, "-c", "advice.mergeConflict=false", "rebase", "--continue").
		AppendEnv("GIT_EDITOR=true").
		Run()
	if err == nil {
		return RebaseSuccess, nil
	}
	if _, serr := w.RebaseState(ctx); serr == nil {
		return RebaseConflict, nil
	}
	return RebaseOutcome(0), fmt.Errorf("rebase --continue: %w", err)
}

// RebaseSkip skips the current commit of a suspended rebase.
func (w *Worktree) RebaseSkip(ctx context.Context) (RebaseOutcome, error) {
	err := w.gitCmd(ctx, "rebase", "--skip").Run()
	if err == nil {
		return RebaseSuccess, nil
	}
	if _, serr := w.RebaseState(ctx); serr == nil {
		return RebaseConflict, nil
	}
	return RebaseOutcome(0), fmt.Errorf("rebase --skip: %w", err)
}

// RebaseAbort aborts a suspended rebase, restoring the branch to its
// pre-rebase state.
func (w *Worktree) RebaseAbort(ctx context.Context) error {
	if err := w.gitCmd(ctx, "rebase", "--abort").Run(); err != nil {
		return fmt.Errorf("rebase --abort: %w", err)
	}
	return nil
}

// RebaseState reports the branch under rebase in this worktree, or
// [ErrNoRebase] if no rebase is in progress. It inspects .git/rebase-merge
// and .git/rebase-apply directly since Git has no porcelain command for
// this.
func (w *Worktree) RebaseState(context.Context) (string, error) {
	for _, dir := range []string{"rebase-merge", "rebase-apply"} {
		stateDir := filepath.Join(w.gitDir, dir)
		head, err := os.ReadFile(filepath.Join(stateDir, "head-name"))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return "", fmt.Errorf("read %s: %w", dir, err)
		}
		branch := strings.TrimPrefix(strings.TrimSpace(string(head)), "refs/heads/")
		return branch, nil
	}
	return "", ErrNoRebase
}

// RebaseInProgress reports whether this worktree has a suspended rebase.
func (w *Worktree) RebaseInProgress(ctx context.Context) bool {
	_, err := w.RebaseState(ctx)
	return err == nil
}
