package git

import (
	"context"
	"fmt"
	"strconv"
)

// Add stages the given paths in the worktree's index.
func (w *Worktree) Add(ctx context.Context, paths ...string) error {
	args := append([]string{"add", "--"}, paths...)
	if err := w.gitCmd(ctx, args...).Run(); err != nil {
		return fmt.Errorf("add: %w", err)
	}
	return nil
}

// CommitRequest is a request to create a commit in the worktree.
type CommitRequest struct {
	// Message for the commit.
	Message string

	// All stages all tracked, modified files before committing.
	All bool

	// AllowEmpty permits a commit with no changes.
	AllowEmpty bool
}

// CommitWith creates a commit from the staged changes.
func (w *Worktree) CommitWith(ctx context.Context, req CommitRequest) error {
	args := []string{"commit", "-m", req.Message}
	if req.All {
		args = append(args, "-a")
	}
	if req.AllowEmpty {
		args = append(args, "--allow-empty")
	}
	if err := w.gitCmd(ctx, args...).Run(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Commit creates a commit from the staged changes with the given message.
func (w *Worktree) Commit(ctx context.Context, message string) error {
	return w.CommitWith(ctx, CommitRequest{Message: message})
}

// ListCommits reports the commits reachable from head but not from
// exclude, newest first.
func (r *Repository) ListCommits(ctx context.Context, head, exclude string) ([]Hash, error) {
	args := []string{"rev-list", head}
	if exclude != "" {
		args = append(args, "^"+exclude)
	}
	var commits []Hash
	for line, err := range r.gitCmd(ctx, args...).Lines() {
		if err != nil {
			return nil, fmt.Errorf("rev-list: %w", err)
		}
		commits = append(commits, Hash(line))
	}
	return commits, nil
}

// CommitSubject reports the subject line of a commit.
func (r *Repository) CommitSubject(ctx context.Context, commitish string) (string, error) {
	out, err := r.gitCmd(ctx, "log", "-1", "--format=%s", commitish).OutputChomp()
	if err != nil {
		return "", fmt.Errorf("log -1 %v: %w", commitish, err)
	}
	return out, nil
}

// CountCommits reports the number of commits reachable from head but
// not from base.
func (r *Repository) CountCommits(ctx context.Context, base, head string) (int, error) {
	out, err := r.gitCmd(ctx, "rev-list", "--count", head, "--not", base).OutputChomp()
	if err != nil {
		return 0, fmt.Errorf("rev-list --count: %w", err)
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parse rev-list output %q: %w", out, err)
	}
	return n, nil
}
