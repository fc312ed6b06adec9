package git

import (
	"bufio"
	"context"
	"fmt"
	"iter"
	"strings"
)

// BranchEntry describes a local branch.
type BranchEntry struct {
	Name string
	Hash Hash
}

// ListBranches lists all local branches (refs/heads/*).
func (r *Repository) ListBranches(ctx context.Context) iter.Seq2[BranchEntry, error] {
	return func(yield func(BranchEntry, error) bool) {
		for ref, err := range r.ListRefs(ctx, "refs/heads/") {
			if err != nil {
				yield(BranchEntry{}, err)
				return
			}
			if !yield(BranchEntry{Name: ref.Name, Hash: ref.Hash}, nil) {
				return
			}
		}
	}
}

// BranchHash reports the commit hash a local branch points to. Returns
// [ErrNotExist] if the branch does not exist.
func (r *Repository) BranchHash(ctx context.Context, name string) (Hash, error) {
	return r.PeelToCommit(ctx, "refs/heads/"+name)
}

// CreateBranchRequest is a request to create a new branch.
type CreateBranchRequest struct {
	// Name of the branch to create.
	Name string

	// Head is the commit the new branch should point to.
	// If empty, the current worktree HEAD is used.
	Head string
}

// CreateBranch creates a new local branch without checking it out.
func (r *Repository) CreateBranch(ctx context.Context, req CreateBranchRequest) error {
	args := []string{"branch", req.Name}
	if req.Head != "" {
		args = append(args, req.Head)
	}
	if err := r.gitCmd(ctx, args...).Run(); err != nil {
		return fmt.Errorf("create branch %s: %w", req.Name, err)
	}
	return nil
}

// DeleteBranch deletes a local branch. If force is false, Git refuses to
// delete a branch whose commits are not reachable from another ref.
func (r *Repository) DeleteBranch(ctx context.Context, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	if err := r.gitCmd(ctx, "branch", flag, name).Run(); err != nil {
		return fmt.Errorf("delete branch %s: %w", name, err)
	}
	return nil
}

// RenameBranch renames a local branch.
func (r *Repository) RenameBranch(ctx context.Context, oldName, newName string) error {
	if err := r.gitCmd(ctx, "branch", "-m", oldName, newName).Run(); err != nil {
		return fmt.Errorf("rename branch %s to %s: %w", oldName, newName, err)
	}
	return nil
}

// CurrentBranch reports the name of the branch checked out in this
// worktree. Returns [ErrDetachedHead] if HEAD is detached.
func (w *Worktree) CurrentBranch(ctx context.Context) (string, error) {
	name, err := w.gitCmd(ctx, "branch", "--show-current").OutputChomp()
	if err != nil {
		return "", fmt.Errorf("branch --show-current: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrDetachedHead
	}
	return name, nil
}

// Checkout switches the worktree to the given branch.
func (w *Worktree) Checkout(ctx context.Context, branch string) error {
	if err := w.gitCmd(ctx, "checkout", branch).Run(); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	return nil
}

// MergeFFOnly fast-forwards the worktree's current branch to the given
// commit-ish, refusing to create a merge commit.
func (w *Worktree) MergeFFOnly(ctx context.Context, commitish string) error {
	if err := w.gitCmd(ctx, "merge", "--ff-only", commitish).Run(); err != nil {
		return fmt.Errorf("merge --ff-only: %w", err)
	}
	return nil
}

// Head reports the commit hash of the worktree's HEAD.
func (w *Worktree) Head(ctx context.Context) (Hash, error) {
	return w.revParse(ctx, "HEAD^{commit}")
}

func (w *Worktree) revParse(ctx context.Context, ref string) (Hash, error) {
	out, err := w.gitCmd(ctx, "rev-parse", "--verify", "--quiet", "--end-of-options", ref).OutputChomp()
	if err != nil {
		return "", ErrNotExist
	}
	return Hash(out), nil
}

// IsDirty reports whether the worktree has uncommitted changes (staged or
// unstaged), ignoring untracked files.
func (w *Worktree) IsDirty(ctx context.Context) (bool, error) {
	out, err := w.gitCmd(ctx, "status", "--porcelain", "--untracked-files=no").OutputChomp()
	if err != nil {
		return false, fmt.Errorf("status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// WorktreeEntry describes one entry from "git worktree list --porcelain".
type WorktreeEntry struct {
	// Path is the absolute path to the worktree's root directory.
	Path string

	// Branch is the branch checked out in this worktree, without the
	// refs/heads/ prefix. Empty if detached or bare.
	Branch string

	Head     Hash
	Detached bool
	Bare     bool
	Locked   string
}

// Worktrees lists every worktree linked to the repository, including the
// main one.
func (r *Repository) Worktrees(ctx context.Context) iter.Seq2[WorktreeEntry, error] {
	return func(yield func(WorktreeEntry, error) bool) {
		cmd := r.gitCmd(ctx, "worktree", "list", "--porcelain")
		out, err := cmd.StdoutPipe()
		if err != nil {
			yield(WorktreeEntry{}, fmt.Errorf("pipe stdout: %w", err))
			return
		}
		if err := cmd.Start(); err != nil {
			yield(WorktreeEntry{}, fmt.Errorf("start: %w", err))
			return
		}

		var (
			finished bool
			cur      *WorktreeEntry
		)
		defer func() {
			if !finished {
				_ = cmd.Kill()
			}
		}()

		flush := func() bool {
			if cur == nil {
				return true
			}
			e := *cur
			cur = nil
			return yield(e, nil)
		}

		scanner := bufio.NewScanner(out)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				if !flush() {
					return
				}
				continue
			}

			key, value, _ := strings.Cut(line, " ")
			switch key {
			case "worktree":
				cur = &WorktreeEntry{Path: value}
			case "branch":
				if cur != nil {
					cur.Branch = strings.TrimPrefix(value, "refs/heads/")
				}
			case "HEAD":
				if cur != nil {
					cur.Head = Hash(value)
				}
			case "detached":
				if cur != nil {
					cur.Detached = true
				}
			case "bare":
				if cur != nil {
					cur.Bare = true
				}
			case "locked":
				if cur != nil {
					cur.Locked = value
				}
			}
		}
		if !flush() {
			return
		}

		if err := scanner.Err(); err != nil {
			yield(WorktreeEntry{}, fmt.Errorf("scan: %w", err))
			return
		}
		if err := cmd.Wait(); err != nil {
			yield(WorktreeEntry{}, fmt.Errorf("worktree list: %w", err))
			return
		}
		finished = true
	}
}
