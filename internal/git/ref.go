package git

import (
	"bufio"
	"context"
	"fmt"
	"iter"
	"strings"
)

// SetRefRequest is a request to change the value of a ref.
type SetRefRequest struct {
	// Ref is the fully qualified name of the ref to set,
	// e.g. "refs/heads/main" or "refs/branch-metadata/feature".
	Ref string

	// Hash is the hash the ref should point to afterwards.
	Hash Hash

	// OldHash, if set, guards the update: the ref is only changed if it
	// currently points to OldHash. Set to [ZeroHash] to require that the
	// ref does not already exist.
	OldHash Hash
}

// SetRef creates or updates a ref, optionally guarded by its expected
// current value. This is the compare-and-swap primitive the metadata
// store relies on for per-branch atomic writes.
func (r *Repository) SetRef(ctx context.Context, req SetRefRequest) error {
	args := []string{"update-ref", req.Ref, string(req.Hash)}
	if req.OldHash != "" {
		args = append(args, string(req.OldHash))
	}
	if err := r.gitCmd(ctx, args...).Run(); err != nil {
		return fmt.Errorf("update-ref %s: %w", req.Ref, err)
	}
	return nil
}

// DeleteRef deletes a ref. Deleting a ref that does not exist is not an
// error.
func (r *Repository) DeleteRef(ctx context.Context, ref string) error {
	if err := r.gitCmd(ctx, "update-ref", "-d", ref).Run(); err != nil {
		return fmt.Errorf("update-ref -d %s: %w", ref, err)
	}
	return nil
}

// ListRefs lists the refs under the given prefix (e.g.
// "refs/branch-metadata/"), yielding the ref name with the prefix
// stripped and the hash it points to.
func (r *Repository) ListRefs(ctx context.Context, prefix string) iter.Seq2[RefEntry, error] {
	return func(yield func(RefEntry, error) bool) {
		cmd := r.gitCmd(ctx, "for-each-ref", "--format=%(objectname) %(refname)", prefix)
		out, err := cmd.StdoutPipe()
		if err != nil {
			yield(RefEntry{}, fmt.Errorf("pipe stdout: %w", err))
			return
		}
		if err := cmd.Start(); err != nil {
			yield(RefEntry{}, fmt.Errorf("start: %w", err))
			return
		}

		var finished bool
		defer func() {
			if !finished {
				_ = cmd.Kill()
			}
		}()

		scanner := bufio.NewScanner(out)
		for scanner.Scan() {
			line := scanner.Text()
			hash, name, ok := strings.Cut(line, " ")
			if !ok {
				continue
			}
			if !yield(RefEntry{
				Name: strings.TrimPrefix(name, prefix),
				Hash: Hash(hash),
			}, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield(RefEntry{}, fmt.Errorf("scan: %w", err))
			return
		}
		if err := cmd.Wait(); err != nil {
			yield(RefEntry{}, fmt.Errorf("for-each-ref: %w", err))
			return
		}
		finished = true
	}
}

// RefEntry is a single ref returned by [Repository.ListRefs].
type RefEntry struct {
	// Name is the ref's name with the queried prefix stripped.
	Name string
	Hash Hash
}

// RefHash reports the object a ref points to without peeling it, so it
// works for refs that point at blobs or tags as well as commits.
// Returns [ErrNotExist] if the ref does not exist.
func (r *Repository) RefHash(ctx context.Context, ref string) (Hash, error) {
	return r.revParse(ctx, ref)
}

// PeelToCommit resolves a commit-ish to the commit hash it refers to.
// Returns [ErrNotExist] if it does not resolve.
func (r *Repository) PeelToCommit(ctx context.Context, ref string) (Hash, error) {
	return r.revParse(ctx, ref+"^{commit}")
}

// PeelToTree resolves a tree-ish to the tree hash it refers to.
func (r *Repository) PeelToTree(ctx context.Context, ref string) (Hash, error) {
	return r.revParse(ctx, ref+"^{tree}")
}

func (r *Repository) revParse(ctx context.Context, ref string) (Hash, error) {
	out, err := r.gitCmd(ctx,
		"rev-parse", "--verify", "--quiet", "--end-of-options", ref,
	).OutputChomp()
	if err != nil {
		return "", ErrNotExist
	}
	return Hash(out), nil
}

// MergeBase reports the best common ancestor of a and b.
func (r *Repository) MergeBase(ctx context.Context, a, b string) (Hash, error) {
	out, err := r.gitCmd(ctx, "merge-base", a, b).OutputChomp()
	if err != nil {
		return "", fmt.Errorf("merge-base %s %s: %w", a, b, err)
	}
	return Hash(out), nil
}

// ForkPoint reports the point at which b diverged from a, per
// "git merge-base --fork-point". Used as a fallback rebase anchor when
// the recorded parent revision is no longer a direct ancestor of the
// branch tip, e.g. after the parent was amended.
func (r *Repository) ForkPoint(ctx context.Context, a, b string) (Hash, error) {
	out, err := r.gitCmd(ctx, "merge-base", "--fork-point", a, b).OutputChomp()
	if err != nil {
		return "", fmt.Errorf("merge-base --fork-point %s %s: %w", a, b, err)
	}
	if out == "" {
		return "", ErrNotExist
	}
	return Hash(out), nil
}

// IsAncestor reports whether a is an ancestor of (or equal to) b.
func (r *Repository) IsAncestor(ctx context.Context, a, b Hash) bool {
	return r.gitCmd(ctx, "merge-base", "--is-ancestor", string(a), string(b)).Run() == nil
}

// HashObject writes data as a loose Git blob and returns its hash.
func (r *Repository) HashObject(ctx context.Context, data []byte) (Hash, error) {
	out, err := r.gitCmd(ctx, "hash-object", "-w", "--stdin").
		WithStdinString(string(data)).
		OutputChomp()
	if err != nil {
		return "", fmt.Errorf("hash-object: %w", err)
	}
	return Hash(out), nil
}

// CatBlob returns the contents of a blob object.
func (r *Repository) CatBlob(ctx context.Context, hash Hash) ([]byte, error) {
	out, err := r.gitCmd(ctx, "cat-file", "blob", string(hash)).Output()
	if err != nil {
		return nil, fmt.Errorf("cat-file blob %s: %w", hash, err)
	}
	return out, nil
}
