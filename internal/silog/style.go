package silog

import "github.com/charmbracelet/lipgloss"

// Style controls how log records are rendered.
type Style struct {
	// LevelLabels are the short labels printed for each level,
	// e.g. "INF".
	LevelLabels ByLevel[lipgloss.Style]

	// Messages optionally re-styles the message text per level.
	Messages ByLevel[lipgloss.Style]

	// Key styles attribute keys and group names.
	Key lipgloss.Style

	// KeyValueDelimiter separates an attribute key from its value.
	KeyValueDelimiter lipgloss.Style

	// MultilinePrefix is printed before each line of a multi-line
	// attribute value.
	MultilinePrefix lipgloss.Style

	// PrefixDelimiter separates the logger prefix from the message.
	PrefixDelimiter lipgloss.Style

	// Values overrides the style of values for specific keys.
	Values map[string]lipgloss.Style
}

// PlainStyle is a style with no colors.
// It is the default when the output is not a terminal.
func PlainStyle() *Style {
	return &Style{
		LevelLabels: ByLevel[lipgloss.Style]{
			Debug: lipgloss.NewStyle().SetString("DBG"),
			Info:  lipgloss.NewStyle().SetString("INF"),
			Warn:  lipgloss.NewStyle().SetString("WRN"),
			Error: lipgloss.NewStyle().SetString("ERR"),
			Fatal: lipgloss.NewStyle().SetString("FTL"),
		},
		KeyValueDelimiter: lipgloss.NewStyle().SetString("="),
		MultilinePrefix:   lipgloss.NewStyle().SetString("| "),
		PrefixDelimiter:   lipgloss.NewStyle().SetString(": "),
	}
}

// DefaultStyle is the colored style used when the output is a
// terminal.
func DefaultStyle() *Style {
	style := PlainStyle()
	style.LevelLabels.Debug = style.LevelLabels.Debug.Foreground(lipgloss.Color("8"))
	style.LevelLabels.Info = style.LevelLabels.Info.Foreground(lipgloss.Color("10"))
	style.LevelLabels.Warn = style.LevelLabels.Warn.Foreground(lipgloss.Color("11"))
	style.LevelLabels.Error = style.LevelLabels.Error.Foreground(lipgloss.Color("9"))
	style.LevelLabels.Fatal = style.LevelLabels.Fatal.Foreground(lipgloss.Color("9")).Bold(true)
	style.Key = style.Key.Faint(true)
	style.KeyValueDelimiter = style.KeyValueDelimiter.Faint(true)
	style.MultilinePrefix = style.MultilinePrefix.Faint(true)
	return style
}
