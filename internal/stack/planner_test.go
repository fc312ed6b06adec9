package stack

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/state"
)

// plannerStack builds a stack where main has moved, so a and e are
// stale while their descendants are not (yet):
//
//	main ── a ── b ── c
//	         \
//	          d
//	main ── e
func plannerStack(t *testing.T) *Stack {
	t.Helper()
	ctx := context.Background()
	repo := &fakeRepo{hashes: map[string]git.Hash{
		"main": "c9",
		"a":    "ca", "b": "cb", "c": "cc", "d": "cd", "e": "ce",
	}}
	store := &fakeStore{trunk: "main", md: map[string]*state.Metadata{
		"a": {Parent: "main", ParentRevision: "c0"},
		"b": {Parent: "a", ParentRevision: "ca"},
		"c": {Parent: "b", ParentRevision: "cb"},
		"d": {Parent: "a", ParentRevision: "ca"},
		"e": {Parent: "main", ParentRevision: "c0", PR: &state.PR{Number: 7, State: state.PROpen}},
	}}

	s, err := Load(ctx, repo, store, LoadOptions{})
	require.NoError(t, err)
	return s
}

// assertTopological checks the planner ordering invariant: for any
// planned pair where one is the other's parent, the parent comes first.
func assertTopological(t *testing.T, s *Stack, branches []string) {
	t.Helper()
	index := make(map[string]int, len(branches))
	for i, name := range branches {
		index[name] = i
	}
	for _, name := range branches {
		b, ok := s.Lookup(name)
		require.True(t, ok)
		if pi, planned := index[b.Parent]; planned {
			assert.Less(t, pi, index[name],
				"parent %v must be planned before %v", b.Parent, name)
		}
	}
}

func TestPlanRestackCurrent(t *testing.T) {
	s := plannerStack(t)

	plan, err := PlanRestack(s, ScopeCurrent, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, plan.Branches)

	t.Run("trunk is a no-op", func(t *testing.T) {
		plan, err := PlanRestack(s, ScopeCurrent, "main")
		require.NoError(t, err)
		assert.True(t, plan.Empty())
	})

	t.Run("untracked branch", func(t *testing.T) {
		_, err := PlanRestack(s, ScopeCurrent, "nope")
		assert.ErrorContains(t, err, "not tracked")
	})
}

func TestPlanRestackUpstack(t *testing.T) {
	s := plannerStack(t)

	plan, err := PlanRestack(s, ScopeUpstack, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, plan.Branches)
	assertTopological(t, s, plan.Branches)

	t.Run("from trunk covers everything", func(t *testing.T) {
		plan, err := PlanRestack(s, ScopeUpstack, "main")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, plan.Branches)
	})

	t.Run("leaf", func(t *testing.T) {
		plan, err := PlanRestack(s, ScopeUpstack, "c")
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, plan.Branches)
	})
}

func TestPlanRestackAll(t *testing.T) {
	s := plannerStack(t)

	plan, err := PlanRestack(s, ScopeAll, "main")
	require.NoError(t, err)

	// a and e are stale; b, c, d are displaced by a's rebase.
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, plan.Branches)
	assertTopological(t, s, plan.Branches)

	assert.Equal(t, 2, plan.Summary.BranchesToRebase, "only stale branches count")
	assert.Equal(t, 1, plan.Summary.BranchesToPush, "only e has a PR")
	assert.Len(t, plan.Summary.Description, 5)
}

func TestPlanRestackAllUpToDate(t *testing.T) {
	ctx := context.Background()
	repo := &fakeRepo{hashes: map[string]git.Hash{
		"main": "c0",
		"a":    "ca",
	}}
	store := &fakeStore{trunk: "main", md: map[string]*state.Metadata{
		"a": {Parent: "main", ParentRevision: "c0"},
	}}
	s, err := Load(ctx, repo, store, LoadOptions{})
	require.NoError(t, err)

	plan, err := PlanRestack(s, ScopeAll, "main")
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestPlanRestackLexicographicTies(t *testing.T) {
	ctx := context.Background()
	repo := &fakeRepo{hashes: map[string]git.Hash{
		"main": "c9",
		"zeta": "cz", "alpha": "ca", "mid": "cm",
	}}
	store := &fakeStore{trunk: "main", md: map[string]*state.Metadata{
		"zeta":  {Parent: "main", ParentRevision: "c0"},
		"alpha": {Parent: "main", ParentRevision: "c0"},
		"mid":   {Parent: "main", ParentRevision: "c0"},
	}}
	s, err := Load(ctx, repo, store, LoadOptions{})
	require.NoError(t, err)

	plan, err := PlanRestack(s, ScopeAll, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, plan.Branches)
}
