package git

import (
	"context"

	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/xec"
)

// gitCmd is a thin alias for xec.Cmd, kept so call sites read as
// "git command" rather than "generic command".
type gitCmd = xec.Cmd

func newGitCmd(ctx context.Context, log *silog.Logger, dir string, args ...string) *gitCmd {
	cmd := xec.Command(ctx, log, "git", args...)
	if dir != "" {
		cmd = cmd.WithDir(dir)
	}
	return cmd
}
