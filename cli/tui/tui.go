package tui

import (
	"fmt"
	"slices"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// View types with TUI support.
const (
	ViewJournal = "journal"
	ViewSummary = "journal_summary"
)

// Run starts the TUI for the view type.
func Run(viewType string, data any) error {
	var model tea.Model
	switch viewType {
	case ViewJournal:
		m, err := NewJournalModel(data)
		if err != nil {
			return err
		}
		model = m
	case ViewSummary:
		m, err := NewSummaryModel(data)
		if err != nil {
			return err
		}
		model = m
	default:
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns the view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewJournal, ViewSummary}
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
	Top  key.Binding
	End  key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
	Top: key.NewBinding(
		key.WithKeys("g", "home"),
		key.WithHelp("g", "top"),
	),
	End: key.NewBinding(
		key.WithKeys("G", "end"),
		key.WithHelp("G", "bottom"),
	),
}
