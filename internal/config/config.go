// Package config resolves the tool's settings from git-config.
//
// Configuration is read-only and deliberately narrow: the trunk branch
// name, the remote to sync against, and the forge URLs. Everything is
// stored under the "stax" section of git-config, so it can be set at
// system, user, repository, or worktree level like any other Git
// setting.
package config

import (
	"context"
	"errors"
	"fmt"

	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/silog"
)

// Git configuration keys.
const (
	KeyTrunk  git.ConfigKey = "stax.trunk"
	KeyRemote git.ConfigKey = "stax.remote"
	KeyURL    git.ConfigKey = "stax.url"
	KeyAPIURL git.ConfigKey = "stax.apiUrl"
)

// Defaults used when neither git-config nor the repository suggest a
// value.
const (
	DefaultTrunk  = "main"
	DefaultRemote = "origin"
	DefaultURL    = "https://github.com"
	DefaultAPIURL = "https://api.github.com"
)

// Config is the resolved, read-only configuration.
type Config struct {
	// Trunk is the branch everything ultimately stacks on.
	Trunk string

	// Remote is the remote used by sync and submit.
	Remote string

	// URL is the base web URL of the Git host.
	URL string

	// APIURL is the base API URL of the Git host.
	APIURL string
}

// GitConfig reads single git-config values.
type GitConfig interface {
	Get(ctx context.Context, key git.ConfigKey) (string, error)
}

var _ GitConfig = (*git.Config)(nil)

// GitRepository is the subset of [git.Repository] used to infer
// defaults from the repository itself.
type GitRepository interface {
	ListRemotes(ctx context.Context) ([]string, error)
	RemoteDefaultBranch(ctx context.Context, remote string) (string, error)
}

var _ GitRepository = (*git.Repository)(nil)

// Load resolves the configuration for a repository.
//
// The remote comes from git-config, falling back to the repository's
// only remote, then to "origin". The trunk comes from git-config,
// falling back to the remote's default branch (refs/remotes/<remote>/HEAD),
// then to "main".
func Load(ctx context.Context, cfg GitConfig, repo GitRepository, log *silog.Logger) (*Config, error) {
	if log == nil {
		log = silog.Nop()
	}

	c := &Config{
		URL:    DefaultURL,
		APIURL: DefaultAPIURL,
	}

	remote, err := cfg.Get(ctx, KeyRemote)
	switch {
	case err == nil:
		c.Remote = remote
	case errors.Is(err, git.ErrNotExist):
		remotes, err := repo.ListRemotes(ctx)
		if err != nil {
			return nil, fmt.Errorf("list remotes: %w", err)
		}
		if len(remotes) == 1 {
			c.Remote = remotes[0]
		} else {
			c.Remote = DefaultRemote
		}
	default:
		return nil, fmt.Errorf("read %v: %w", KeyRemote, err)
	}

	trunk, err := cfg.Get(ctx, KeyTrunk)
	switch {
	case err == nil:
		c.Trunk = trunk
	case errors.Is(err, git.ErrNotExist):
		if def, err := repo.RemoteDefaultBranch(ctx, c.Remote); err == nil {
			c.Trunk = def
		} else {
			log.Debug("No default branch recorded for remote; assuming main",
				"remote", c.Remote)
			c.Trunk = DefaultTrunk
		}
	default:
		return nil, fmt.Errorf("read %v: %w", KeyTrunk, err)
	}

	if url, err := cfg.Get(ctx, KeyURL); err == nil {
		c.URL = url
	} else if !errors.Is(err, git.ErrNotExist) {
		return nil, fmt.Errorf("read %v: %w", KeyURL, err)
	}
	if url, err := cfg.Get(ctx, KeyAPIURL); err == nil {
		c.APIURL = url
	} else if !errors.Is(err, git.ErrNotExist) {
		return nil, fmt.Errorf("read %v: %w", KeyAPIURL, err)
	}

	return c, nil
}
