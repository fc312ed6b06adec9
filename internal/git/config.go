package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.abhg.dev/stax/internal/scanutil"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/xec"
)

// Config provides read access to Git configuration, independent of any
// particular [Repository] handle. Collaborators that only need
// configuration (trunk branch name, remote, forge host) build this
// directly instead of opening a full repository.
type Config struct {
	log    *silog.Logger
	dir    string
	env    []string
	execer xec.Execer
}

// ConfigOptions configures [NewConfig].
type ConfigOptions struct {
	// Dir to run Git commands in. Defaults to the current directory.
	Dir string

	// Env adds extra environment variables to every invocation.
	Env []string

	Log    *silog.Logger
	Execer xec.Execer
}

// NewConfig builds a [Config] for reading Git configuration.
func NewConfig(opts ConfigOptions) *Config {
	if opts.Log == nil {
		opts.Log = silog.Nop()
	}
	return &Config{log: opts.Log, dir: opts.Dir, env: opts.Env, execer: opts.Execer}
}

// ConfigKey is a dotted Git configuration key: "section.subsection.name".
// The subsection may be absent. section and name are case-insensitive;
// subsection is case-sensitive.
type ConfigKey string

// Split breaks the key into its section, subsection, and name parts.
func (k ConfigKey) Split() (section, subsection, name string) {
	idx := strings.LastIndex(string(k), ".")
	if idx == -1 {
		return "", "", string(k)
	}
	name = string(k[idx+1:])
	k = k[:idx]

	idx = strings.Index(string(k), ".")
	if idx == -1 {
		return string(k), "", name
	}
	return string(k[:idx]), string(k[idx+1:]), name
}

// Canonical lowercases the section and name (which are case-insensitive)
// while leaving the subsection as-is.
func (k ConfigKey) Canonical() ConfigKey {
	section, subsection, name := k.Split()
	var buf strings.Builder
	if section != "" {
		buf.WriteString(strings.ToLower(section))
		buf.WriteByte('.')
	}
	if subsection != "" {
		buf.WriteString(subsection)
		buf.WriteByte('.')
	}
	buf.WriteString(strings.ToLower(name))
	return ConfigKey(buf.String())
}

func (k ConfigKey) Section() string    { s, _, _ := k.Split(); return s }
func (k ConfigKey) Subsection() string { _, s, _ := k.Split(); return s }
func (k ConfigKey) Name() string       { _, _, n := k.Split(); return n }

// ConfigEntry is a single key-value pair read from Git configuration.
type ConfigEntry struct {
	Key   ConfigKey
	Value string
}

// Get reads a single configuration value. Returns [ErrNotExist] if the
// key is unset.
func (cfg *Config) Get(ctx context.Context, key ConfigKey) (string, error) {
	out, err := cfg.gitCmd(ctx, "config", "--get", string(key)).OutputChomp()
	if err != nil {
		return "", ErrNotExist
	}
	return out, nil
}

// SetOptions configures [Config.Set].
type SetOptions struct {
	// Global sets the value in the user's global configuration rather
	// than the repository's local configuration.
	Global bool
}

// Set writes a configuration value.
func (cfg *Config) Set(ctx context.Context, key ConfigKey, value string, opts SetOptions) error {
	args := []string{"config"}
	if opts.Global {
		args = append(args, "--global")
	}
	args = append(args, string(key), value)
	if err := cfg.gitCmd(ctx, args...).Run(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Unset removes a configuration key. Unsetting a key that does not exist
// is not an error.
func (cfg *Config) Unset(ctx context.Context, key ConfigKey) error {
	err := cfg.gitCmd(ctx, "config", "--unset", string(key)).Run()
	if err != nil {
		if _, getErr := cfg.Get(ctx, key); getErr != nil {
			return nil // was already unset
		}
		return fmt.Errorf("unset %s: %w", key, err)
	}
	return nil
}

// ListRegexp lists all configuration entries whose key matches pattern.
// An empty pattern matches every entry.
func (cfg *Config) ListRegexp(ctx context.Context, pattern string) (func(yield func(ConfigEntry, error) bool), error) {
	if pattern == "" {
		pattern = "."
	}
	return cfg.list(ctx, "--get-regexp", pattern)
}

func (cfg *Config) list(ctx context.Context, args ...string) (func(yield func(ConfigEntry, error) bool), error) {
	args = append([]string{"config", "--null"}, args...)
	cmd := cfg.gitCmd(ctx, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start git-config: %w", err)
	}

	log := cfg.log
	return func(yield func(ConfigEntry, error) bool) {
		// git config --get-regexp exits non-zero when there are no
		// matches; that's not an error for a list operation, so the
		// exit error is swallowed here.
		defer func() { _ = cmd.Wait() }()

		scan := bufio.NewScanner(stdout)
		scan.Split(scanutil.SplitNull)
		for scan.Scan() {
			entry := scan.Bytes()
			key, value, ok := bytes.Cut(entry, []byte{'\n'})
			if !ok {
				log.Warnf("skipping invalid config entry: %q", entry)
				continue
			}
			if !yield(ConfigEntry{Key: ConfigKey(key), Value: string(value)}, nil) {
				return
			}
		}
		if err := scan.Err(); err != nil {
			_ = yield(ConfigEntry{}, fmt.Errorf("scan git-config output: %w", err))
		}
	}, nil
}

func (cfg *Config) gitCmd(ctx context.Context, args ...string) *gitCmd {
	cmd := newGitCmd(ctx, cfg.log, cfg.dir, args...).AppendEnv(cfg.env...)
	if cfg.execer != nil {
		cmd = cmd.WithExecer(cfg.execer)
	}
	return cmd
}
