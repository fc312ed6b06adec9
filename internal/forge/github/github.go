// Package github implements the forge contract against GitHub's
// GraphQL API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"go.abhg.dev/stax/internal/forge"
	"go.abhg.dev/stax/internal/graphqlutil"
	"go.abhg.dev/stax/internal/silog"
)

// Options configures [New].
type Options struct {
	// URL is the base web URL of the GitHub instance,
	// e.g. "https://github.com".
	URL string

	// APIURL is the base API URL,
	// e.g. "https://api.github.com".
	APIURL string

	// TokenSource authenticates API requests.
	TokenSource oauth2.TokenSource

	Log *silog.Logger
}

// Forge talks to one GitHub repository.
type Forge struct {
	client *githubv4.Client
	owner  string
	repo   string
	log    *silog.Logger

	repoID githubv4.ID // lazily resolved
}

var _ forge.Forge = (*Forge)(nil)

// New builds a Forge for the repository that remoteURL points at.
// Returns an error if remoteURL is not hosted on the configured GitHub
// instance.
func New(ctx context.Context, remoteURL string, opts Options) (*Forge, error) {
	if opts.Log == nil {
		opts.Log = silog.Nop()
	}

	owner, repo, err := parseRemoteURL(remoteURL, opts.URL)
	if err != nil {
		return nil, err
	}

	httpClient := oauth2.NewClient(ctx, opts.TokenSource)
	httpClient.Transport = graphqlutil.WrapTransport(httpClient.Transport)

	var client *githubv4.Client
	if opts.APIURL == "" || opts.APIURL == "https://api.github.com" {
		client = githubv4.NewClient(httpClient)
	} else {
		client = githubv4.NewEnterpriseClient(
			strings.TrimSuffix(opts.APIURL, "/")+"/graphql", httpClient)
	}

	return &Forge{
		client: client,
		owner:  owner,
		repo:   repo,
		log:    opts.Log,
	}, nil
}

// parseRemoteURL extracts "owner/repo" from the HTTPS, SSH, and
// scp-like forms of a GitHub remote URL.
func parseRemoteURL(remoteURL, baseURL string) (owner, repo string, _ error) {
	host := "github.com"
	if baseURL != "" {
		if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
			host = u.Host
		}
	}

	var path string
	switch {
	case strings.HasPrefix(remoteURL, "https://"), strings.HasPrefix(remoteURL, "http://"):
		u, err := url.Parse(remoteURL)
		if err != nil {
			return "", "", fmt.Errorf("parse remote URL: %w", err)
		}
		if u.Host != host {
			return "", "", fmt.Errorf("remote %v is not on %v", remoteURL, host)
		}
		path = u.Path

	case strings.HasPrefix(remoteURL, "ssh://"):
		u, err := url.Parse(remoteURL)
		if err != nil {
			return "", "", fmt.Errorf("parse remote URL: %w", err)
		}
		if strings.TrimPrefix(u.Host, "git@") != host && u.Host != host {
			return "", "", fmt.Errorf("remote %v is not on %v", remoteURL, host)
		}
		path = u.Path

	default:
		// scp-like: git@github.com:owner/repo.git
		rest, ok := strings.CutPrefix(remoteURL, "git@"+host+":")
		if !ok {
			return "", "", fmt.Errorf("remote %v is not on %v", remoteURL, host)
		}
		path = rest
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	owner, repo, ok := strings.Cut(path, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("cannot extract owner/repo from %v", remoteURL)
	}
	return owner, repo, nil
}

// resolveRepoID fetches and caches the repository's GraphQL node ID,
// required by the create mutation.
func (f *Forge) resolveRepoID(ctx context.Context) (githubv4.ID, error) {
	if f.repoID != nil {
		return f.repoID, nil
	}

	var q struct {
		Repository struct {
			ID githubv4.ID `graphql:"id"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	err := f.client.Query(ctx, &q, map[string]any{
		"owner": githubv4.String(f.owner),
		"name":  githubv4.String(f.repo),
	})
	if err != nil {
		return nil, fmt.Errorf("resolve repository %v/%v: %w", f.owner, f.repo, err)
	}
	f.repoID = q.Repository.ID
	return f.repoID, nil
}

// prNode is the subset of pull request fields the tool consumes.
type prNode struct {
	ID          githubv4.ID      `graphql:"id"`
	Number      githubv4.Int     `graphql:"number"`
	Title       githubv4.String  `graphql:"title"`
	State       githubv4.String  `graphql:"state"`
	IsDraft     githubv4.Boolean `graphql:"isDraft"`
	HeadRefName githubv4.String  `graphql:"headRefName"`
	BaseRefName githubv4.String  `graphql:"baseRefName"`
	URL         githubv4.URI     `graphql:"url"`
}

func (n *prNode) toPR() *forge.PR {
	state := forge.PROpen
	switch n.State {
	case "CLOSED":
		state = forge.PRClosed
	case "MERGED":
		state = forge.PRMerged
	}
	var prURL string
	if n.URL.URL != nil {
		prURL = n.URL.String()
	}
	return &forge.PR{
		Number: int(n.Number),
		State:  state,
		Draft:  bool(n.IsDraft),
		Title:  string(n.Title),
		Head:   string(n.HeadRefName),
		Base:   string(n.BaseRefName),
		URL:    prURL,
	}
}

// CreatePR opens a pull request.
func (f *Forge) CreatePR(ctx context.Context, req forge.CreatePRRequest) (*forge.PR, error) {
	repoID, err := f.resolveRepoID(ctx)
	if err != nil {
		return nil, err
	}

	var m struct {
		CreatePullRequest struct {
			PullRequest prNode `graphql:"pullRequest"`
		} `graphql:"createPullRequest(input: $input)"`
	}

	input := githubv4.CreatePullRequestInput{
		RepositoryID: repoID,
		Title:        githubv4.String(req.Title),
		HeadRefName:  githubv4.String(req.Head),
		BaseRefName:  githubv4.String(req.Base),
	}
	if req.Body != "" {
		input.Body = githubv4.NewString(githubv4.String(req.Body))
	}
	if req.Draft {
		input.Draft = githubv4.NewBoolean(true)
	}

	if err := f.client.Mutate(ctx, &m, input, nil); err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}

	pr := m.CreatePullRequest.PullRequest.toPR()
	f.log.Debug("Created pull request", "pr", pr.Number, "url", pr.URL)
	return pr, nil
}

// GetPR fetches a pull request by number.
func (f *Forge) GetPR(ctx context.Context, number int) (*forge.PR, error) {
	node, err := f.prByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return node.toPR(), nil
}

func (f *Forge) prByNumber(ctx context.Context, number int) (*prNode, error) {
	var q struct {
		Repository struct {
			PullRequest prNode `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	err := f.client.Query(ctx, &q, map[string]any{
		"owner":  githubv4.String(f.owner),
		"name":   githubv4.String(f.repo),
		"number": githubv4.Int(number),
	})
	if err != nil {
		if errors.Is(err, graphqlutil.ErrNotFound) {
			return nil, fmt.Errorf("pull request #%v: %w", number, forge.ErrNotFound)
		}
		return nil, fmt.Errorf("get pull request #%v: %w", number, err)
	}
	return &q.Repository.PullRequest, nil
}

// UpdatePRBody replaces the pull request's description.
func (f *Forge) UpdatePRBody(ctx context.Context, number int, body string) error {
	node, err := f.prByNumber(ctx, number)
	if err != nil {
		return err
	}

	var m struct {
		UpdatePullRequest struct {
			PullRequest struct {
				Number githubv4.Int `graphql:"number"`
			} `graphql:"pullRequest"`
		} `graphql:"updatePullRequest(input: $input)"`
	}
	input := githubv4.UpdatePullRequestInput{
		PullRequestID: node.ID,
		Body:          githubv4.NewString(githubv4.String(body)),
	}
	if err := f.client.Mutate(ctx, &m, input, nil); err != nil {
		return fmt.Errorf("update pull request #%v: %w", number, err)
	}
	return nil
}

// FindPRByHead finds the open pull request whose head is the given
// branch.
func (f *Forge) FindPRByHead(ctx context.Context, head string) (*forge.PR, error) {
	var q struct {
		Repository struct {
			PullRequests struct {
				Nodes []prNode
			} `graphql:"pullRequests(headRefName: $head, states: $states, first: 1)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	err := f.client.Query(ctx, &q, map[string]any{
		"owner":  githubv4.String(f.owner),
		"name":   githubv4.String(f.repo),
		"head":   githubv4.String(head),
		"states": []githubv4.PullRequestState{githubv4.PullRequestStateOpen},
	})
	if err != nil {
		return nil, fmt.Errorf("find pull request for %v: %w", head, err)
	}
	if len(q.Repository.PullRequests.Nodes) == 0 {
		return nil, fmt.Errorf("branch %v: %w", head, forge.ErrNotFound)
	}
	return q.Repository.PullRequests.Nodes[0].toPR(), nil
}
