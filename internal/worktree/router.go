package worktree

import (
	"context"
	"fmt"

	"go.abhg.dev/stax/internal/git"
)

// Router dispatches branch-targeted rebases to the worktree that has
// the branch checked out, falling back to the invoking worktree for
// branches not checked out anywhere. This keeps the rebase machinery,
// autostash included, in the worktree whose checkout the rebase
// updates.
type Router struct {
	coord *Coordinator
	repo  *git.Repository
	here  *git.Worktree

	opened map[string]*git.Worktree // by root dir
}

// NewRouter builds a Router around the invoking worktree.
func NewRouter(coord *Coordinator, repo *git.Repository, here *git.Worktree) *Router {
	return &Router{
		coord:  coord,
		repo:   repo,
		here:   here,
		opened: make(map[string]*git.Worktree),
	}
}

// RebaseOnto runs the rebase in the worktree that holds req.Branch.
func (r *Router) RebaseOnto(ctx context.Context, req git.RebaseOntoRequest) (git.RebaseOutcome, error) {
	wt, err := r.hostFor(ctx, req.Branch)
	if err != nil {
		return 0, err
	}
	return wt.RebaseOnto(ctx, req)
}

func (r *Router) hostFor(ctx context.Context, branch string) (*git.Worktree, error) {
	path, ok := r.coord.Path(branch)
	if !ok || path == r.here.RootDir() {
		return r.here, nil
	}

	if wt, ok := r.opened[path]; ok {
		return wt, nil
	}
	wt, err := r.repo.OpenWorktree(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open worktree %v: %w", path, err)
	}
	r.opened[path] = wt
	return wt, nil
}
