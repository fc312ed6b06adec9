// Package ui is the tool's terminal output surface.
//
// There is deliberately no interactive machinery here: no prompts, no
// forms, no colors. Commands render plain text to stdout and rely on
// the logger for diagnostics. Anything that would normally prompt must
// either be answered by a flag (--yes) or fail closed.
package ui

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// ErrNoPrompt is returned when an operation needs confirmation but the
// surface is non-interactive and --yes was not given.
var ErrNoPrompt = errors.New("confirmation required: re-run with --yes")

// View writes command output.
type View struct {
	stdout io.Writer
	quiet  bool
	yes    bool
	tty    bool
}

// Options configures [New].
type Options struct {
	// Quiet suppresses non-essential output.
	Quiet bool

	// Yes answers every confirmation affirmatively.
	Yes bool
}

// New builds a View writing to stdout.
func New(stdout io.Writer, opts Options) *View {
	tty := false
	if f, ok := stdout.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &View{
		stdout: stdout,
		quiet:  opts.Quiet,
		yes:    opts.Yes,
		tty:    tty,
	}
}

// Interactive reports whether output goes to a terminal.
func (v *View) Interactive() bool { return v.tty }

// Printf writes formatted output unconditionally.
func (v *View) Printf(format string, args ...any) {
	fmt.Fprintf(v.stdout, format, args...)
}

// Noticef writes formatted output unless the view is quiet.
func (v *View) Noticef(format string, args ...any) {
	if v.quiet {
		return
	}
	fmt.Fprintf(v.stdout, format, args...)
}

// Confirm requests a yes/no decision. With --yes it is always
// affirmative; otherwise it fails closed with [ErrNoPrompt], since
// this surface never prompts.
func (v *View) Confirm(what string) error {
	if v.yes {
		return nil
	}
	return fmt.Errorf("%v: %w", what, ErrNoPrompt)
}

// RelativeTime renders a timestamp as a human-readable offset from
// now, e.g. "3 minutes ago".
func RelativeTime(t time.Time) string {
	return humanize.Time(t)
}
