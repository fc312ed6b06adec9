package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sort"

	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/silog"
)

// refPrefix is the namespace under which branch metadata refs live.
const refPrefix = "refs/branch-metadata/"

// ErrNotExist indicates that a branch is not tracked.
var ErrNotExist = errors.New("branch is not tracked")

// ErrConcurrentUpdate indicates that a metadata write lost a race with
// another process: the ref moved between our read and our write.
var ErrConcurrentUpdate = errors.New("metadata changed concurrently")

// CorruptError indicates that a branch's metadata blob exists but
// cannot be decoded. Other branches remain usable; the caller should
// surface the branch name and offer repair.
type CorruptError struct {
	Branch string
	Err    error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("metadata for branch %v is corrupt: %v", e.Branch, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// GitRepository is the subset of [git.Repository] the store needs.
type GitRepository interface {
	HashObject(ctx context.Context, data []byte) (git.Hash, error)
	CatBlob(ctx context.Context, hash git.Hash) ([]byte, error)
	SetRef(ctx context.Context, req git.SetRefRequest) error
	DeleteRef(ctx context.Context, ref string) error
	ListRefs(ctx context.Context, prefix string) iter.Seq2[git.RefEntry, error]
	RefHash(ctx context.Context, ref string) (git.Hash, error)
}

var _ GitRepository = (*git.Repository)(nil)

// Store reads and writes per-branch metadata.
//
// Writes are compare-and-swap: the ref is only updated if it still
// points at the blob we read, so two racing processes cannot silently
// overwrite each other's updates.
type Store struct {
	repo  GitRepository
	trunk string
	log   *silog.Logger
}

// NewStore builds a Store for the given repository.
// trunk is the name of the trunk branch; it is never tracked.
func NewStore(repo GitRepository, trunk string, log *silog.Logger) *Store {
	if log == nil {
		log = silog.Nop()
	}
	return &Store{repo: repo, trunk: trunk, log: log}
}

// Trunk reports the name of the trunk branch.
func (s *Store) Trunk() string { return s.trunk }

func metadataRef(branch string) string { return refPrefix + branch }

// Lookup returns the metadata recorded for a branch,
// or [ErrNotExist] if the branch is not tracked.
func (s *Store) Lookup(ctx context.Context, branch string) (*Metadata, error) {
	md, _, err := s.lookup(ctx, branch)
	return md, err
}

// lookup additionally reports the blob hash the metadata ref points at,
// for use as the compare-and-swap guard on a subsequent write.
func (s *Store) lookup(ctx context.Context, branch string) (*Metadata, git.Hash, error) {
	blobHash, err := s.repo.RefHash(ctx, metadataRef(branch))
	if err != nil {
		if errors.Is(err, git.ErrNotExist) {
			return nil, git.ZeroHash, ErrNotExist
		}
		return nil, git.ZeroHash, fmt.Errorf("resolve %v: %w", metadataRef(branch), err)
	}

	data, err := s.repo.CatBlob(ctx, blobHash)
	if err != nil {
		return nil, git.ZeroHash, fmt.Errorf("read metadata blob for %v: %w", branch, err)
	}

	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, git.ZeroHash, &CorruptError{Branch: branch, Err: err}
	}
	return &md, blobHash, nil
}

// Update records new metadata for a branch, creating it if needed.
// The write is guarded against concurrent modification:
// [ErrConcurrentUpdate] is returned if the metadata changed since it
// was last read in this process.
func (s *Store) Update(ctx context.Context, branch string, md *Metadata) error {
	if branch == s.trunk {
		return fmt.Errorf("branch %v is trunk: trunk is never tracked", branch)
	}
	if md.Parent == "" {
		return fmt.Errorf("branch %v: parent must not be empty", branch)
	}

	// Old value guards the swap. ZeroHash means "must not exist yet".
	oldHash := git.ZeroHash
	if _, hash, err := s.lookup(ctx, branch); err == nil {
		oldHash = hash
	} else if !errors.Is(err, ErrNotExist) {
		var corrupt *CorruptError
		if !errors.As(err, &corrupt) {
			return err
		}
		// Corrupt metadata may still be overwritten: recover by
		// replacing it wholesale, guarded by the corrupt blob's hash.
		blobHash, err := s.repo.RefHash(ctx, metadataRef(branch))
		if err != nil {
			return err
		}
		oldHash = blobHash
	}

	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata for %v: %w", branch, err)
	}

	blobHash, err := s.repo.HashObject(ctx, append(data, '\n'))
	if err != nil {
		return fmt.Errorf("write metadata blob for %v: %w", branch, err)
	}

	err = s.repo.SetRef(ctx, git.SetRefRequest{
		Ref:     metadataRef(branch),
		Hash:    blobHash,
		OldHash: oldHash,
	})
	if err != nil {
		return fmt.Errorf("%v: %w: %v", branch, ErrConcurrentUpdate, err)
	}

	s.log.Debug("Updated branch metadata",
		"branch", branch,
		"parent", md.Parent,
		"parentRevision", md.ParentRevision)
	return nil
}

// Delete forgets a branch's metadata. Deleting an untracked branch is
// not an error.
func (s *Store) Delete(ctx context.Context, branch string) error {
	if err := s.repo.DeleteRef(ctx, metadataRef(branch)); err != nil {
		return fmt.Errorf("delete metadata for %v: %w", branch, err)
	}
	s.log.Debug("Deleted branch metadata", "branch", branch)
	return nil
}

// List reports the names of all tracked branches, sorted.
// The trunk branch is never in the list.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var branches []string
	for ref, err := range s.repo.ListRefs(ctx, refPrefix) {
		if err != nil {
			return nil, fmt.Errorf("list metadata refs: %w", err)
		}
		if ref.Name == s.trunk {
			// Stale tracking of trunk, e.g. after the user changed
			// which branch is trunk. Ignore rather than fail.
			s.log.Warn("Ignoring metadata for trunk branch", "branch", ref.Name)
			continue
		}
		branches = append(branches, ref.Name)
	}
	sort.Strings(branches)
	return branches, nil
}
