// Package stack builds and queries the in-memory graph of tracked
// branches: which branch is stacked on which, which worktrees hold
// them, and which branches have fallen behind their parents.
//
// The graph is rebuilt on demand from branch metadata and Git refs;
// it is never persisted.
package stack

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"

	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/maputil"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/state"
)

// Branch is a single tracked branch in the stack graph.
type Branch struct {
	Name string

	// Parent is the branch this one is stacked on:
	// trunk or another tracked branch.
	Parent string

	// ParentRevision is the parent commit recorded at the last
	// successful restack of this branch.
	ParentRevision git.Hash

	// Head is the branch's current tip.
	Head git.Hash

	// Children are tracked branches stacked directly on this one,
	// sorted by name.
	Children []string

	// PR is the pull request submitted from this branch, if known.
	PR *state.PR

	// NeedsRestack reports whether the recorded parent revision
	// differs from the parent branch's current tip.
	NeedsRestack bool

	// LinesAdded and LinesRemoved summarize the diff between the
	// branch and its parent. Populated only when the stack is loaded
	// with [LoadOptions.IncludeStats].
	LinesAdded   int
	LinesRemoved int
}

// Stack is the graph of tracked branches, rooted at trunk.
type Stack struct {
	trunk    string
	branches map[string]*Branch

	// orphans are branches with metadata but no matching Git branch,
	// e.g. deleted with plain git rather than this tool.
	orphans []string
}

// CycleError indicates that branch metadata forms a cycle instead of a
// forest. It names one edge of the offending cycle.
type CycleError struct {
	Branch string
	Parent string
	Path   []string // Branch up through its ancestors back to Branch
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("branch %v and its parent %v form a cycle: %v",
		e.Branch, e.Parent, strings.Join(e.Path, " -> "))
}

// DanglingParentError indicates that a branch's recorded parent does
// not exist as a Git branch and is not tracked.
type DanglingParentError struct {
	Branch string
	Parent string
}

func (e *DanglingParentError) Error() string {
	return fmt.Sprintf("branch %v has parent %v, which does not exist", e.Branch, e.Parent)
}

// GitRepository is the subset of [git.Repository] needed to load a
// stack.
type GitRepository interface {
	BranchHash(ctx context.Context, name string) (git.Hash, error)
	DiffStat(ctx context.Context, from, to string) (git.DiffStat, error)
}

var _ GitRepository = (*git.Repository)(nil)

// MetadataStore is the subset of [state.Store] needed to load a stack.
type MetadataStore interface {
	Trunk() string
	List(ctx context.Context) ([]string, error)
	Lookup(ctx context.Context, branch string) (*state.Metadata, error)
}

var _ MetadataStore = (*state.Store)(nil)

// LoadOptions configures [Load].
type LoadOptions struct {
	// IncludeStats computes per-branch diff sizes against the parent.
	// Off by default: it costs one git-diff per branch.
	IncludeStats bool

	Log *silog.Logger
}

// Load builds the stack graph from branch metadata and Git refs.
//
// Branches whose metadata exists but whose Git branch is gone are
// reported by [Stack.Orphans] rather than failing the load.
// A metadata cycle or a dangling parent fails the load with
// [CycleError] or [DanglingParentError] respectively.
func Load(ctx context.Context, repo GitRepository, store MetadataStore, opts LoadOptions) (*Stack, error) {
	log := opts.Log
	if log == nil {
		log = silog.Nop()
	}

	names, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tracked branches: %w", err)
	}

	s := &Stack{
		trunk:    store.Trunk(),
		branches: make(map[string]*Branch, len(names)),
	}

	for _, name := range names {
		md, err := store.Lookup(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("lookup %v: %w", name, err)
		}

		head, err := repo.BranchHash(ctx, name)
		if err != nil {
			if errors.Is(err, git.ErrNotExist) {
				log.Debug("Tracked branch no longer exists", "branch", name)
				s.orphans = append(s.orphans, name)
				continue
			}
			return nil, fmt.Errorf("resolve %v: %w", name, err)
		}

		s.branches[name] = &Branch{
			Name:           name,
			Parent:         md.Parent,
			ParentRevision: md.ParentRevision,
			Head:           head,
			PR:             md.PR,
		}
	}

	orphaned := make(map[string]struct{}, len(s.orphans))
	for _, name := range s.orphans {
		orphaned[name] = struct{}{}
	}

	// Validate parents, invert into children, and compute staleness.
	for _, name := range sortedKeys(s.branches) {
		b := s.branches[name]

		parentHash, err := repo.BranchHash(ctx, b.Parent)
		if err != nil {
			if !errors.Is(err, git.ErrNotExist) {
				return nil, fmt.Errorf("resolve parent of %v: %w", name, err)
			}
			if _, ok := orphaned[b.Parent]; ok {
				// Parent is tracked but its Git branch is gone; it
				// will be offered for cleanup. Leave this branch's
				// staleness unknown until then.
				continue
			}
			return nil, &DanglingParentError{Branch: name, Parent: b.Parent}
		}

		b.NeedsRestack = b.ParentRevision != parentHash

		if parent, ok := s.branches[b.Parent]; ok {
			parent.Children = append(parent.Children, name)
		} else if b.Parent != s.trunk {
			return nil, &DanglingParentError{Branch: name, Parent: b.Parent}
		}
	}

	if err := s.checkForest(); err != nil {
		return nil, err
	}

	if opts.IncludeStats {
		for _, name := range sortedKeys(s.branches) {
			b := s.branches[name]
			stat, err := repo.DiffStat(ctx, b.Parent, name)
			if err != nil {
				log.Warn("Failed to compute diff stat", "branch", name, "error", err)
				continue
			}
			b.LinesAdded = stat.Insertions
			b.LinesRemoved = stat.Deletions
		}
	}

	return s, nil
}

// checkForest verifies that the parent-of relation is a forest rooted
// at trunk, using union-find: merging a branch with its parent must
// never join two nodes that are already connected through a tracked
// path, or the metadata contains a cycle.
func (s *Stack) checkForest() error {
	parent := make(map[string]string, len(s.branches))
	var find func(string) string
	find = func(n string) string {
		p, ok := parent[n]
		if !ok || p == n {
			return n
		}
		root := find(p)
		parent[n] = root // path compression
		return root
	}

	for _, name := range sortedKeys(s.branches) {
		b := s.branches[name]
		if _, tracked := s.branches[b.Parent]; !tracked {
			continue // parent is trunk (or orphaned); roots the tree
		}
		if find(name) == find(b.Parent) {
			return &CycleError{
				Branch: name,
				Parent: b.Parent,
				Path:   s.cyclePath(name),
			}
		}
		parent[find(name)] = find(b.Parent)
	}
	return nil
}

// cyclePath walks parents from start until it loops back, for the
// error message.
func (s *Stack) cyclePath(start string) []string {
	path := []string{start}
	seen := map[string]struct{}{start: {}}
	cur := start
	for {
		b, ok := s.branches[cur]
		if !ok {
			return path
		}
		cur = b.Parent
		path = append(path, cur)
		if _, dup := seen[cur]; dup {
			return path
		}
		seen[cur] = struct{}{}
	}
}

// Trunk reports the name of the trunk branch.
func (s *Stack) Trunk() string { return s.trunk }

// Lookup returns the branch with the given name, or false if it is not
// tracked. Trunk also reports false.
func (s *Stack) Lookup(name string) (*Branch, bool) {
	b, ok := s.branches[name]
	return b, ok
}

// Count reports the number of tracked branches, excluding trunk.
func (s *Stack) Count() int { return len(s.branches) }

// Branches reports the names of all tracked branches, sorted.
func (s *Stack) Branches() []string {
	return sortedKeys(s.branches)
}

// Orphans reports tracked branches whose Git branch no longer exists,
// sorted. These are candidates for metadata cleanup.
func (s *Stack) Orphans() []string {
	orphans := append([]string(nil), s.orphans...)
	sort.Strings(orphans)
	return orphans
}

// Children reports the branches stacked directly on the given branch,
// sorted. branch may be trunk.
func (s *Stack) Children(branch string) []string {
	if branch == s.trunk {
		var roots []string
		for _, name := range sortedKeys(s.branches) {
			if s.branches[name].Parent == s.trunk {
				roots = append(roots, name)
			}
		}
		return roots
	}
	b, ok := s.branches[branch]
	if !ok {
		return nil
	}
	return b.Children
}

// Descendants returns the branches above the given branch in pre-order:
// each branch before its own children, siblings in name order.
// The branch itself is not included. branch may be trunk, in which case
// every tracked branch is yielded.
func (s *Stack) Descendants(branch string) iter.Seq[string] {
	return func(yield func(string) bool) {
		var visit func(string) bool
		visit = func(name string) bool {
			for _, child := range s.Children(name) {
				if !yield(child) {
					return false
				}
				if !visit(child) {
					return false
				}
			}
			return true
		}
		visit(branch)
	}
}

// Ancestors returns the tracked branches below the given branch,
// nearest parent first, stopping at (and excluding) trunk.
func (s *Stack) Ancestors(branch string) iter.Seq[string] {
	return func(yield func(string) bool) {
		b, ok := s.branches[branch]
		for ok {
			if b.Parent == s.trunk {
				return
			}
			if !yield(b.Parent) {
				return
			}
			b, ok = s.branches[b.Parent]
		}
	}
}

// Chain reports the full downstack chain of a branch in trunk-to-leaf
// order, ending with the branch itself. Trunk is not included.
func (s *Stack) Chain(branch string) []string {
	var chain []string
	for anc := range s.Ancestors(branch) {
		chain = append(chain, anc)
	}
	// Ancestors yields nearest-first; reverse into trunk-to-leaf order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return append(chain, branch)
}

// Bottom reports the lowest tracked ancestor of the given branch: the
// one stacked directly on trunk. Reports the branch itself if it is
// stacked on trunk, or "" if the branch is not tracked.
func (s *Stack) Bottom(branch string) string {
	b, ok := s.branches[branch]
	if !ok {
		return ""
	}
	for b.Parent != s.trunk {
		parent, ok := s.branches[b.Parent]
		if !ok {
			break
		}
		b = parent
	}
	return b.Name
}

func sortedKeys(m map[string]*Branch) []string {
	keys := maputil.Keys(m)
	sort.Strings(keys)
	return keys
}
