package ui

import (
	"fmt"
	"strings"

	"go.abhg.dev/stax/internal/stack"
)

// StackTree renders the stack as an indented tree rooted at trunk,
// marking the current branch and any branch that needs a restack.
//
//	main
//	┣━ feat-a (needs restack)
//	┃  ┗━ feat-b ◀
//	┗━ fix-c #12
func StackTree(s *stack.Stack, current string) string {
	var sb strings.Builder
	sb.WriteString(s.Trunk())
	sb.WriteByte('\n')

	var render func(prefix string, branches []string)
	render = func(prefix string, branches []string) {
		for i, name := range branches {
			last := i == len(branches)-1

			connector, childPrefix := "┣━ ", prefix+"┃  "
			if last {
				connector, childPrefix = "┗━ ", prefix+"   "
			}

			sb.WriteString(prefix)
			sb.WriteString(connector)
			sb.WriteString(name)

			b, _ := s.Lookup(name)
			if b.PR != nil {
				fmt.Fprintf(&sb, " #%d", b.PR.Number)
			}
			if b.LinesAdded > 0 || b.LinesRemoved > 0 {
				fmt.Fprintf(&sb, " (+%d -%d)", b.LinesAdded, b.LinesRemoved)
			}
			if b.NeedsRestack {
				sb.WriteString(" (needs restack)")
			}
			if name == current {
				sb.WriteString(" ◀")
			}
			sb.WriteByte('\n')

			render(childPrefix, s.Children(name))
		}
	}
	render("", s.Children(s.Trunk()))

	return sb.String()
}
