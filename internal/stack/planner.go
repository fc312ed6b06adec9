package stack

import (
	"fmt"
	"sort"

	"go.abhg.dev/container/ring"
	"go.abhg.dev/stax/internal/graph"
)

// Scope selects which branches a restack plan covers.
type Scope int

// Restack scopes.
const (
	// ScopeCurrent restacks only the current branch.
	ScopeCurrent Scope = iota

	// ScopeUpstack restacks the current branch and everything above it.
	ScopeUpstack

	// ScopeAll restacks every branch that has fallen behind its
	// parent, plus every branch a rebase would displace.
	ScopeAll
)

func (s Scope) String() string {
	switch s {
	case ScopeCurrent:
		return "current"
	case ScopeUpstack:
		return "upstack"
	case ScopeAll:
		return "all"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

// PlanSummary is the human-readable shape of a plan, recorded in the
// transaction receipt.
type PlanSummary struct {
	BranchesToRebase int      `json:"branchesToRebase"`
	BranchesToPush   int      `json:"branchesToPush"`
	Description      []string `json:"description,omitempty"`
}

// Plan is an ordered list of branches to rebase: parents always come
// before their children, ties broken by name.
//
// The plan does not pre-filter branches that currently look up to
// date; an earlier rebase in the same plan can change a later branch's
// status, so the executor re-evaluates each branch live.
type Plan struct {
	Scope    Scope
	Branches []string
	Summary  PlanSummary
}

// Empty reports whether the plan has nothing to do.
func (p *Plan) Empty() bool { return len(p.Branches) == 0 }

// PlanRestack produces a restack plan over the given stack.
// current is the branch checked out in the invoking worktree; it is
// only consulted for [ScopeCurrent] and [ScopeUpstack].
func PlanRestack(s *Stack, scope Scope, current string) (*Plan, error) {
	var candidates []string
	switch scope {
	case ScopeCurrent:
		if current == s.Trunk() {
			break // restacking trunk is a no-op
		}
		if _, ok := s.Lookup(current); !ok {
			return nil, fmt.Errorf("branch %v is not tracked", current)
		}
		candidates = []string{current}

	case ScopeUpstack:
		if current != s.Trunk() {
			if _, ok := s.Lookup(current); !ok {
				return nil, fmt.Errorf("branch %v is not tracked", current)
			}
			candidates = append(candidates, current)
		}
		for desc := range s.Descendants(current) {
			candidates = append(candidates, desc)
		}

	case ScopeAll:
		// Start from every stale branch, then pull in everything a
		// rebase of those would displace: all their descendants.
		seen := make(map[string]struct{})
		var q ring.Q[string]
		for _, name := range s.Branches() {
			if b, _ := s.Lookup(name); b.NeedsRestack {
				q.Push(name)
			}
		}
		for !q.Empty() {
			name := q.Pop()
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			candidates = append(candidates, name)
			for _, child := range s.Children(name) {
				q.Push(child)
			}
		}

	default:
		return nil, fmt.Errorf("unknown scope %v", scope)
	}

	// Topological order, parents before children. Toposort preserves
	// input order among unrelated branches, so sorting the candidates
	// first yields lexicographic tie-breaking.
	sort.Strings(candidates)
	inPlan := make(map[string]struct{}, len(candidates))
	for _, name := range candidates {
		inPlan[name] = struct{}{}
	}
	ordered := graph.Toposort(candidates, func(name string) (string, bool) {
		b, ok := s.Lookup(name)
		if !ok {
			return "", false
		}
		_, planned := inPlan[b.Parent]
		return b.Parent, planned
	})

	plan := &Plan{Scope: scope, Branches: ordered}
	for _, name := range ordered {
		b, _ := s.Lookup(name)
		plan.Summary.Description = append(plan.Summary.Description,
			fmt.Sprintf("rebase %v onto %v", name, b.Parent))
		if b.NeedsRestack {
			plan.Summary.BranchesToRebase++
		}
		if b.PR != nil {
			plan.Summary.BranchesToPush++
		}
	}
	return plan, nil
}
