package git

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"go.abhg.dev/stax/internal/silog"
)

// ListRemotes returns the names of remotes configured for the repository.
func (r *Repository) ListRemotes(ctx context.Context) ([]string, error) {
	cmd := r.gitCmd(ctx, "remote")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	var remotes []string
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		remotes = append(remotes, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("git remote: %w", err)
	}
	return remotes, nil
}

// RemoteURL reports the URL of a known remote.
func (r *Repository) RemoteURL(ctx context.Context, remote string) (string, error) {
	url, err := r.gitCmd(ctx, "remote", "get-url", remote).OutputChomp()
	if err != nil {
		return "", fmt.Errorf("remote get-url: %w", err)
	}
	return url, nil
}

// RemoteDefaultBranch reports the default branch of a remote, as recorded
// in the local refs/remotes/<remote>/HEAD symbolic ref. Run "git remote
// set-head <remote> --auto" first if this has never been populated.
func (r *Repository) RemoteDefaultBranch(ctx context.Context, remote string) (string, error) {
	ref, err := r.gitCmd(ctx, "symbolic-ref", "--short", "refs/remotes/"+remote+"/HEAD").OutputChomp()
	if err != nil {
		return "", fmt.Errorf("symbolic-ref: %w", err)
	}
	return strings.TrimPrefix(ref, remote+"/"), nil
}

// FetchOptions configures [Repository.Fetch].
type FetchOptions struct {
	// Remote to fetch from. If empty, the current branch's configured
	// remote is used; Refspecs must be empty in that case.
	Remote string

	// Refspecs to fetch, in addition to or instead of the remote's
	// configured refspecs.
	Refspecs []Refspec

	// Prune deletes remote-tracking refs that no longer exist upstream.
	Prune bool
}

// Fetch downloads objects and refs from a remote.
func (r *Repository) Fetch(ctx context.Context, opts FetchOptions) error {
	if opts.Remote == "" && len(opts.Refspecs) == 0 {
		return errors.New("fetch: no remote or refspecs specified")
	}

	r.log.Debug("Fetching from remote", silog.NonZero("name", opts.Remote))

	args := []string{"fetch"}
	if opts.Prune {
		args = append(args, "--prune")
	}
	if opts.Remote != "" {
		args = append(args, opts.Remote)
	}
	for _, refspec := range opts.Refspecs {
		args = append(args, refspec.String())
	}

	if err := r.gitCmd(ctx, args...).Run(); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	return nil
}

// PushOptions configures [Worktree.Push].
type PushOptions struct {
	// Remote to push to. If empty, the current branch's configured
	// remote is used and Refspec must be empty too.
	Remote string

	Force          bool
	ForceWithLease string

	// Refspec to push. If empty, the current branch is pushed.
	Refspec Refspec

	NoVerify bool
}

// Push uploads objects and refs to a remote.
func (w *Worktree) Push(ctx context.Context, opts PushOptions) error {
	if opts.Remote == "" && opts.Refspec == "" {
		return errors.New("push: no remote or refspec specified")
	}

	w.log.Debug("Pushing to remote",
		silog.NonZero("name", opts.Remote),
		silog.NonZero("force", opts.Force),
		silog.NonZero("lease", forceWithLease(opts.ForceWithLease)))

	args := []string{"push"}
	if lease := opts.ForceWithLease; lease != "" {
		args = append(args, "--force-with-lease="+lease)
	}
	if opts.Force {
		args = append(args, "--force")
	}
	if opts.NoVerify {
		args = append(args, "--no-verify")
	}
	if opts.Remote != "" {
		args = append(args, opts.Remote)
	}
	if opts.Refspec != "" {
		args = append(args, opts.Refspec.String())
	}

	if err := w.gitCmd(ctx, args...).CaptureStdout().Run(); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}

type forceWithLease string

func (f forceWithLease) String() string { return string(f) }

func (f forceWithLease) LogValue() slog.Value {
	ref, hash, ok := strings.Cut(string(f), ":")
	if !ok {
		return slog.StringValue(string(f))
	}
	return slog.GroupValue(
		slog.String("ref", ref),
		slog.String("hash", Hash(hash).Short()),
	)
}

// RemoteRef is a reference read from a remote repository, without
// fetching it.
type RemoteRef struct {
	Name string
	Hash Hash
}

// ListRemoteRefsOptions configures [Repository.ListRemoteRefs].
type ListRemoteRefsOptions struct {
	Heads    bool
	Patterns []string
}

// ListRemoteRefs lists refs in a remote repository without fetching them,
// via "git ls-remote". Used to check whether a branch's upstream still
// exists before attempting to push or fetch it.
func (r *Repository) ListRemoteRefs(ctx context.Context, remote string, opts *ListRemoteRefsOptions) iter.Seq2[RemoteRef, error] {
	if opts == nil {
		opts = &ListRemoteRefsOptions{}
	}

	args := []string{"ls-remote", "--quiet"}
	if opts.Heads {
		args = append(args, "--heads")
	}
	args = append(args, remote)
	args = append(args, opts.Patterns...)

	return func(yield func(RemoteRef, error) bool) {
		cmd := r.gitCmd(ctx, args...)
		out, err := cmd.StdoutPipe()
		if err != nil {
			yield(RemoteRef{}, fmt.Errorf("pipe stdout: %w", err))
			return
		}
		if err := cmd.Start(); err != nil {
			yield(RemoteRef{}, fmt.Errorf("start: %w", err))
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
			oid, ref, ok := strings.Cut(line, "\t")
			if !ok {
				r.log.Warn("bad ls-remote output", "line", line)
				continue
			}
			if !yield(RemoteRef{Name: ref, Hash: Hash(oid)}, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield(RemoteRef{}, fmt.Errorf("scan: %w", err))
			return
		}
		if err := cmd.Wait(); err != nil {
			yield(RemoteRef{}, fmt.Errorf("git ls-remote: %w", err))
			return
		}
		finished = true
	}
}

// Cherry lists commits on head that are not on upstream, by patch-id
// equivalence, annotating each with whether an equivalent patch already
// landed on upstream. Used to decide whether a branch whose work was
// squash-merged is now fully contained in trunk.
func (r *Repository) Cherry(ctx context.Context, upstream, head string) ([]CherryCommit, error) {
	out, err := r.gitCmd(ctx, "cherry", upstream, head).Output()
	if err != nil {
		return nil, fmt.Errorf("cherry: %w", err)
	}

	var commits []CherryCommit
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		equivalent := line[0] == '-'
		hash := strings.TrimSpace(line[1:])
		commits = append(commits, CherryCommit{Hash: Hash(hash), Equivalent: equivalent})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan cherry output: %w", err)
	}
	return commits, nil
}

// CherryCommit is one line of "git cherry" output.
type CherryCommit struct {
	Hash Hash

	// Equivalent reports whether an equivalent change already exists on
	// the upstream side (a "-" entry), meaning this commit's changes
	// have already landed there, typically via squash merge.
	Equivalent bool
}
