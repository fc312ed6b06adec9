// stax manages stacks of dependent Git branches: it records each
// branch's parent in the repository, rebases descendants when an
// ancestor moves, syncs with the remote, and submits pull requests.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"go.abhg.dev/stax/internal/silog"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitBadUsage = 2
	exitConflict = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logOpts := silog.Options{Level: silog.LevelInfo}
	log := silog.New(os.Stderr, &logOpts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		log.Warn("Cleaning up. Press Ctrl-C again to exit immediately.")
		cancel()
	}()

	var cmd mainCmd
	parser, err := kong.New(
		&cmd,
		kong.Name("stax"),
		kong.Description("stax manages stacks of dependent Git branches."),
		kong.Bind(log),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.UsageOnError(),
	)
	if err != nil {
		log.Error("Failed to build command parser", "error", err)
		return exitFailure
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		var parseErr *kong.ParseError
		if errors.As(err, &parseErr) {
			_ = parseErr.Context.PrintUsage(false)
			fmt.Fprintf(os.Stderr, "stax: %v\n", err)
			return exitBadUsage
		}
		log.Error("Failed to parse arguments", "error", err)
		return exitBadUsage
	}

	if err := kctx.Run(); err != nil {
		var suspended *conflictSuspendedError
		if errors.As(err, &suspended) {
			log.Error(suspended.Error())
			log.Errorf("Resolve the conflicts and run 'stax continue', or abort with 'stax continue --abort'.")
			return exitConflict
		}
		log.Error(err.Error())
		return exitFailure
	}
	return exitOK
}

// conflictSuspendedError marks the suspended-on-conflict exit: the
// transaction receipt stays in progress and the process exits with a
// distinct status.
type conflictSuspendedError struct {
	Branch string
	Parent string
}

func (e *conflictSuspendedError) Error() string {
	return fmt.Sprintf("rebase of %v onto %v stopped on a conflict", e.Branch, e.Parent)
}
