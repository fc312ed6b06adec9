// Package state persists per-branch stack metadata inside the Git
// repository itself: one ref per tracked branch under
// refs/branch-metadata/, each pointing directly at a JSON blob.
//
// Storing metadata as refs rather than files under .git/ means it is
// namespaced, reflogged, survives git gc, and can be pushed or fetched
// with a custom refspec if the user configures one. Because blobs are
// immutable, an update is a single atomic ref swap.
package state

import (
	"go.abhg.dev/stax/internal/git"
)

// PRState is the lifecycle state of a pull request associated with a
// tracked branch.
type PRState string

// Known pull request states.
const (
	PROpen   PRState = "open"
	PRClosed PRState = "closed"
	PRMerged PRState = "merged"
)

// PR records what we know about the pull request submitted from a
// branch. It is absent until the branch is first submitted.
type PR struct {
	// Number of the pull request on the forge.
	Number int `json:"number"`

	// State is the last known state of the pull request.
	State PRState `json:"state"`

	// Draft reports whether the pull request was a draft
	// when we last saw it.
	Draft bool `json:"isDraft,omitempty"`
}

// Metadata is the durable record kept for each tracked branch.
type Metadata struct {
	// Parent is the name of the branch this branch is stacked on.
	// It is either the trunk branch or another tracked branch.
	Parent string `json:"parentBranchName"`

	// ParentRevision is the commit the parent branch pointed to the
	// last time this branch was successfully restacked. The branch
	// needs a restack whenever this differs from the parent's
	// current tip.
	ParentRevision git.Hash `json:"parentBranchRevision"`

	// PR is the pull request submitted from this branch, if any.
	PR *PR `json:"prInfo,omitempty"`
}
