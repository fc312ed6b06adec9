package git_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/git/gittest"
	"go.abhg.dev/stax/internal/silog/silogtest"
	"go.abhg.dev/stax/internal/sliceutil"
	"go.abhg.dev/stax/internal/text"
)

func TestIntegrationListBranches(t *testing.T) {
	t.Parallel()

	fixture, err := gittest.LoadFixtureScript([]byte(text.Dedent(`
		at '2025-06-03T09:30:00Z'
		git init
		git add init.txt
		git commit -m 'Initial commit'

		git checkout -b feature1
		git add feature1.txt
		git commit -m 'Add feature1'

		git checkout main

		-- init.txt --
		Initial

		-- feature1.txt --
		Contents of feature1
	`)))
	require.NoError(t, err)
	t.Cleanup(fixture.Cleanup)

	ctx := context.Background()
	repo, err := git.Open(ctx, fixture.Dir(), git.OpenOptions{Log: silogtest.New(t)})
	require.NoError(t, err)

	branches, err := sliceutil.CollectErr(repo.ListBranches(ctx))
	require.NoError(t, err)

	names := make([]string, len(branches))
	for i, b := range branches {
		names[i] = b.Name
		assert.NotEmpty(t, b.Hash)
	}
	assert.Equal(t, []string{"feature1", "main"}, names)
}

func TestIntegrationRebaseOnto(t *testing.T) {
	t.Parallel()

	// main moves ahead after feature branched from it; the rebase
	// targets feature without it being checked out.
	fixture, err := gittest.LoadFixtureScript([]byte(text.Dedent(`
		at '2025-06-03T10:00:00Z'
		git init
		git add init.txt
		git commit -m 'Initial commit'

		git checkout -b feature
		git add feature.txt
		git commit -m 'Add feature'

		git checkout main
		git add main2.txt
		git commit -m 'Advance main'

		-- init.txt --
		Initial

		-- feature.txt --
		feature contents

		-- main2.txt --
		main again
	`)))
	require.NoError(t, err)
	t.Cleanup(fixture.Cleanup)

	ctx := context.Background()
	repo, err := git.Open(ctx, fixture.Dir(), git.OpenOptions{Log: silogtest.New(t)})
	require.NoError(t, err)
	wt, err := repo.OpenWorktree(ctx, fixture.Dir())
	require.NoError(t, err)

	mainHash, err := repo.BranchHash(ctx, "main")
	require.NoError(t, err)
	oldFeature, err := repo.BranchHash(ctx, "feature")
	require.NoError(t, err)

	outcome, err := wt.RebaseOnto(ctx, git.RebaseOntoRequest{
		Branch: "feature",
		Onto:   "main",
	})
	require.NoError(t, err)
	assert.Equal(t, git.RebaseSuccess, outcome)

	newFeature, err := repo.BranchHash(ctx, "feature")
	require.NoError(t, err)
	assert.NotEqual(t, oldFeature, newFeature)
	assert.True(t, repo.IsAncestor(ctx, mainHash, newFeature),
		"feature must now contain main")

	// The rebase leaves the invoking worktree on the rebased branch.
	cur, err := wt.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "feature", cur)
}

func TestIntegrationRebaseConflict(t *testing.T) {
	gittest.Env(t) // commits are made outside the fixture script

	fixture, err := gittest.LoadFixtureScript([]byte(text.Dedent(`
		at '2025-06-03T11:00:00Z'
		git init
		git add file.txt
		git commit -m 'Initial commit'

		git checkout -b feature
		git add feature-file.txt
		git commit -m 'Edit on feature'

		git checkout main
		git add main-file.txt
		git commit -m 'Edit on main'

		-- file.txt --
		base

		-- feature-file.txt --
		feature edit

		-- main-file.txt --
		main edit
	`)))
	require.NoError(t, err)
	t.Cleanup(fixture.Cleanup)

	ctx := context.Background()
	repo, err := git.Open(ctx, fixture.Dir(), git.OpenOptions{Log: silogtest.New(t)})
	require.NoError(t, err)
	wt, err := repo.OpenWorktree(ctx, fixture.Dir())
	require.NoError(t, err)

	// Recreate the same file with conflicting contents on both sides.
	writeConflict := func(branch, contents string) {
		require.NoError(t, wt.Checkout(ctx, branch))
		require.NoError(t, writeFile(fixture.Dir()+"/file.txt", contents))
		require.NoError(t, wt.Add(ctx, "file.txt"))
		require.NoError(t, wt.Commit(ctx, "edit file.txt on "+branch))
	}
	writeConflict("feature", "feature version\n")
	writeConflict("main", "main version\n")

	outcome, err := wt.RebaseOnto(ctx, git.RebaseOntoRequest{
		Branch: "feature",
		Onto:   "main",
	})
	require.NoError(t, err)
	assert.Equal(t, git.RebaseConflict, outcome)
	assert.True(t, wt.RebaseInProgress(ctx))

	branch, err := wt.RebaseState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "feature", branch)

	require.NoError(t, wt.RebaseAbort(ctx))
	assert.False(t, wt.RebaseInProgress(ctx))
}

func TestIntegrationMetadataBlobRoundTrip(t *testing.T) {
	t.Parallel()

	fixture, err := gittest.LoadFixtureScript([]byte(text.Dedent(`
		at '2025-06-03T12:00:00Z'
		git init
		git add init.txt
		git commit -m 'Initial commit'

		-- init.txt --
		Initial
	`)))
	require.NoError(t, err)
	t.Cleanup(fixture.Cleanup)

	ctx := context.Background()
	repo, err := git.Open(ctx, fixture.Dir(), git.OpenOptions{Log: silogtest.New(t)})
	require.NoError(t, err)

	blob, err := repo.HashObject(ctx, []byte(`{"hello": "world"}`))
	require.NoError(t, err)

	const ref = "refs/branch-metadata/feature"
	require.NoError(t, repo.SetRef(ctx, git.SetRefRequest{
		Ref:     ref,
		Hash:    blob,
		OldHash: git.ZeroHash,
	}))

	got, err := repo.RefHash(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	body, err := repo.CatBlob(ctx, blob)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello": "world"}`, string(body))

	refs, err := sliceutil.CollectErr(repo.ListRefs(ctx, "refs/branch-metadata/"))
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "feature", refs[0].Name)

	require.NoError(t, repo.DeleteRef(ctx, ref))
	_, err = repo.RefHash(ctx, ref)
	assert.ErrorIs(t, err, git.ErrNotExist)
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}
