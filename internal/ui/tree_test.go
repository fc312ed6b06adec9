package ui

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/stack"
	"go.abhg.dev/stax/internal/state"
)

type treeRepo map[string]git.Hash

func (r treeRepo) BranchHash(_ context.Context, name string) (git.Hash, error) {
	h, ok := r[name]
	if !ok {
		return "", git.ErrNotExist
	}
	return h, nil
}

func (treeRepo) DiffStat(context.Context, string, string) (git.DiffStat, error) {
	return git.DiffStat{}, nil
}

type treeStore struct {
	trunk string
	md    map[string]*state.Metadata
}

func (s *treeStore) Trunk() string { return s.trunk }

func (s *treeStore) List(context.Context) ([]string, error) {
	names := make([]string, 0, len(s.md))
	for name := range s.md {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (s *treeStore) Lookup(_ context.Context, branch string) (*state.Metadata, error) {
	md, ok := s.md[branch]
	if !ok {
		return nil, state.ErrNotExist
	}
	return md, nil
}

func TestStackTree(t *testing.T) {
	repo := treeRepo{
		"main": "c9",
		"a":    "ca", "b": "cb", "c": "cc",
	}
	store := &treeStore{trunk: "main", md: map[string]*state.Metadata{
		"a": {Parent: "main", ParentRevision: "c0"}, // stale
		"b": {Parent: "a", ParentRevision: "ca", PR: &state.PR{Number: 12, State: state.PROpen}},
		"c": {Parent: "main", ParentRevision: "c9"},
	}}

	s, err := stack.Load(context.Background(), repo, store, stack.LoadOptions{})
	require.NoError(t, err)

	got := StackTree(s, "b")
	want := "main\n" +
		"┣━ a (needs restack)\n" +
		"┃  ┗━ b #12 ◀\n" +
		"┗━ c\n"
	assert.Equal(t, want, got)
}
