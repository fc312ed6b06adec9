package gittest

import (
	"os"
	"path/filepath"
	"testing"
)

// Env pins the Git environment for tests that run Git commands
// directly rather than through a fixture script: a fixed author
// identity, and configuration isolated from the host system.
//
// Must not be combined with t.Parallel.
func Env(t testing.TB) {
	cfgFile := filepath.Join(t.TempDir(), "gitconfig")
	if err := DefaultConfig().WriteTo(cfgFile); err != nil {
		t.Fatalf("write git config: %v", err)
	}

	t.Setenv("GIT_CONFIG_SYSTEM", os.DevNull)
	t.Setenv("GIT_CONFIG_GLOBAL", cfgFile)
	t.Setenv("GIT_AUTHOR_NAME", "Test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "Test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@example.com")
	t.Setenv("EDITOR", "false")
}
