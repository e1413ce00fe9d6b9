// Package tui provides Bubble Tea views over worker journals.
//
// Views are opt-in (--tui) and read-only; they render the same payloads the
// plain json/yaml/table output uses.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	accent = lipgloss.Color("#0EA5E9")
	dim    = lipgloss.Color("#71717A")
	green  = lipgloss.Color("#22C55E")
	yellow = lipgloss.Color("#EAB308")
	red    = lipgloss.Color("#F43F5E")
	white  = lipgloss.Color("#FAFAFA")
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).MarginBottom(1)
	LabelStyle = lipgloss.NewStyle().Foreground(dim).Width(18)
	ValueStyle = lipgloss.NewStyle().Foreground(white)
	HelpStyle  = lipgloss.NewStyle().Foreground(dim).MarginTop(1)

	// Envelope kinds.
	SuccessStyle = lipgloss.NewStyle().Foreground(green)
	WarningStyle = lipgloss.NewStyle().Foreground(yellow)
	ErrorStyle   = lipgloss.NewStyle().Foreground(red).Bold(true)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(dim).
			Padding(1, 2)

	// Summary counters.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(accent).
			Width(20).
			Padding(0, 1).
			Align(lipgloss.Center)
	StatLabelStyle = lipgloss.NewStyle().Foreground(dim)
	StatValueStyle = lipgloss.NewStyle().Bold(true)
)

var kindStyles = map[string]lipgloss.Style{
	"response":        SuccessStyle,
	"function_loaded": WarningStyle,
	"error":           ErrorStyle,
}

// KindStyle returns the style for an envelope kind; log records and unknown
// kinds use ValueStyle.
func KindStyle(kind string) lipgloss.Style {
	if s, ok := kindStyles[kind]; ok {
		return s
	}
	return ValueStyle
}
