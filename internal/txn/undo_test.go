package txn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/silog/silogtest"
	"go.abhg.dev/stax/internal/state"
)

// finishedRestack runs a full restack transaction against the memory
// repo and returns the environment with its receipt sealed ok.
func finishedRestack(t *testing.T, dir string) (*memRepo, *memStore) {
	t.Helper()
	ctx := context.Background()
	repo, store := testEnv()

	tx, err := Begin(ctx, dir, OpAllRestack, repo, store, BeginOptions{Log: silogtest.New(t)})
	require.NoError(t, err)
	require.NoError(t, tx.Snapshot(ctx, []string{"a", "b"}))

	repo.refs["refs/heads/a"] = "c1p"
	store.md["a"].ParentRevision = "c0p"
	require.NoError(t, tx.RecordAfter(ctx, "a"))

	repo.refs["refs/heads/b"] = "c2p"
	store.md["b"].ParentRevision = "c1p"
	require.NoError(t, tx.RecordAfter(ctx, "b"))

	require.NoError(t, tx.FinishOK())
	return repo, store
}

func TestUndoRestoresBranches(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, store := finishedRestack(t, dir)

	res, err := Undo(ctx, dir, repo, store, silogtest.New(t))
	require.NoError(t, err)

	assert.Equal(t, OpAllRestack, res.OpKind)
	assert.Equal(t, []string{"b", "a"}, res.Restored, "reverse plan order")

	assert.Equal(t, git.Hash("c1"), repo.refs["refs/heads/a"])
	assert.Equal(t, git.Hash("c2"), repo.refs["refs/heads/b"])
	assert.Equal(t, git.Hash("c0"), store.md["a"].ParentRevision)
	assert.Equal(t, git.Hash("c1"), store.md["b"].ParentRevision)

	// The receipt is marked undone, so a second undo finds nothing.
	_, err = Undo(ctx, dir, repo, store, silogtest.New(t))
	assert.ErrorIs(t, err, ErrNoReceipt)
}

func TestUndoKeepsPRInfo(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, store := finishedRestack(t, dir)
	store.md["a"].PR = &state.PR{Number: 12, State: state.PROpen}

	_, err := Undo(ctx, dir, repo, store, silogtest.New(t))
	require.NoError(t, err)

	require.NotNil(t, store.md["a"].PR)
	assert.Equal(t, 12, store.md["a"].PR.Number)
}

func TestUndoRefusedWhileInProgress(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, store := testEnv()

	tx, err := Begin(ctx, dir, OpRestack, repo, store, BeginOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Snapshot(ctx, []string{"a"}))
	require.NoError(t, tx.Suspend("conflict", PhaseRebase, "a"))

	_, err = Undo(ctx, dir, repo, store, nil)
	assert.ErrorIs(t, err, ErrUndoInProgress)
}

func TestUndoStopsWhenBranchMoved(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, store := finishedRestack(t, dir)

	// The user moved b after the transaction; its guarded reset must
	// fail and stop the undo before a is touched.
	repo.refs["refs/heads/b"] = "c2x"

	_, err := Undo(ctx, dir, repo, store, silogtest.New(t))
	var partial *PartialUndoError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "b", partial.Branch)
	assert.Empty(t, partial.Restored)

	assert.Equal(t, git.Hash("c1p"), repo.refs["refs/heads/a"],
		"a must not be reset after the stop")
}

func TestUndoRecreatesDeletedBranch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, store := testEnv()

	// A sync that deleted branch a.
	tx, err := Begin(ctx, dir, OpSync, repo, store, BeginOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Snapshot(ctx, []string{"a"}))

	delete(repo.refs, "refs/heads/a")
	delete(store.md, "a")
	require.NoError(t, tx.RecordDelete("a"))
	require.NoError(t, tx.FinishOK())

	res, err := Undo(ctx, dir, repo, store, silogtest.New(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Restored)

	assert.Equal(t, git.Hash("c1"), repo.refs["refs/heads/a"])
	md, err := store.Lookup(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "main", md.Parent)
}

func TestUndoSkipsErrReceiptFindsOlderOK(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, store := finishedRestack(t, dir)

	// A later failed sync should not block undoing the earlier
	// successful restack. Receipt names have second precision, so
	// space the receipts out.
	time.Sleep(1100 * time.Millisecond)
	tx, err := Begin(ctx, dir, OpSync, repo, store, BeginOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.FinishErr("fetch failed", PhaseFetch, ""))

	res, err := Undo(ctx, dir, repo, store, silogtest.New(t))
	require.NoError(t, err)
	assert.Equal(t, OpAllRestack, res.OpKind)
	assert.Equal(t, git.Hash("c1"), repo.refs["refs/heads/a"])
}
