package main

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

type hashesRepo map[string]git.Hash

func (r hashesRepo) BranchHash(_ context.Context, name string) (git.Hash, error) {
	h, ok := r[name]
	if !ok {
		return "", git.ErrNotExist
	}
	return h, nil
}

func (hashesRepo) DiffStat(context.Context, string, string) (git.DiffStat, error) {
	return git.DiffStat{}, nil
}

type mdStore struct {
	trunk string
	md    map[string]*state.Metadata
}

func (s *mdStore) Trunk() string { return s.trunk }

func (s *mdStore) List(context.Context) ([]string, error) {
	names := make([]string, 0, len(s.md))
	for name := range s.md {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (s *mdStore) Lookup(_ context.Context, branch string) (*state.Metadata, error) {
	md, ok := s.md[branch]
	if !ok {
		return nil, state.ErrNotExist
	}
	return md, nil
}

func TestStackBody(t *testing.T) {
	repo := hashesRepo{"main": "c0", "a": "ca", "b": "cb"}
	store := &mdStore{trunk: "main", md: map[string]*state.Metadata{
		"a": {Parent: "main", ParentRevision: "c0"},
		"b": {Parent: "a", ParentRevision: "ca"},
	}}

	st, err := stack.Load(context.Background(), repo, store, stack.LoadOptions{})
	require.NoError(t, err)

	body := stackBody(st, "b")
	want := "This change is part of a stack:\n" +
		"\n" +
		"- main\n" +
		"  - a\n" +
		"    - b ◀ this change\n"
	assert.Equal(t, want, body)
}
