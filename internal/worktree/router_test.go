package worktree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.abhg.dev/stax/internal/silog/silogtest"
)

func TestRouterHostFor(t *testing.T) {
	ctx := context.Background()
	repo, mainDir, featureDir := repoWithWorktree(t)

	c, err := NewCoordinator(ctx, repo, mainDir, silogtest.New(t))
	require.NoError(t, err)

	here, err := repo.OpenWorktree(ctx, mainDir)
	require.NoError(t, err)

	r := NewRouter(c, repo, here)

	t.Run("checked out elsewhere", func(t *testing.T) {
		wt, err := r.hostFor(ctx, "feature")
		require.NoError(t, err)
		assert.Equal(t, featureDir, wt.RootDir())
	})

	t.Run("checked out here", func(t *testing.T) {
		wt, err := r.hostFor(ctx, "main")
		require.NoError(t, err)
		assert.Same(t, here, wt)
	})

	t.Run("not checked out anywhere", func(t *testing.T) {
		wt, err := r.hostFor(ctx, "unborn")
		require.NoError(t, err)
		assert.Same(t, here, wt)
	})
}
