// Package git provides a narrow, typed wrapper around the git CLI.
//
// Every operation runs the real git binary under internal/xec so that
// stderr capture, logging, and executor injection for tests are handled
// in one place. Read-only operations hang off [Repository]; operations
// that touch the working tree hang off [Worktree].
package git

import (
	"errors"
	"log/slog"
)

// ErrNotExist is returned when a Git object, ref, or config entry does
// not exist.
var ErrNotExist = errors.New("does not exist")

// ErrDetachedHead is returned by operations that require a branch to be
// checked out (e.g. [Worktree.CurrentBranch]) when HEAD is detached.
var ErrDetachedHead = errors.New("HEAD is detached")

// Hash is a Git object ID, in full or abbreviated form.
type Hash string

// ZeroHash is the all-zero hash Git uses to mean "no object".
const ZeroHash Hash = "0000000000000000000000000000000000000000"

func (h Hash) String() string { return string(h) }

// LogValue reports how the hash should be logged.
func (h Hash) LogValue() slog.Value {
	return slog.StringValue(h.Short())
}

// Short reports the short form of the hash.
func (h Hash) Short() string {
	if len(h) < 7 {
		return string(h)
	}
	return string(h[:7])
}

// IsZero reports whether the hash is the zero hash.
// Works with abbreviated hashes too.
func (h Hash) IsZero() bool {
	if h == "" {
		return true
	}
	for _, b := range h {
		if b != '0' {
			return false
		}
	}
	return true
}

// Refspec is a Git refspec, e.g. "refs/heads/main:refs/heads/main".
type Refspec string

func (r Refspec) String() string { return string(r) }
