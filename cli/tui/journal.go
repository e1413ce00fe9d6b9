package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/warmstart/cli/reader"
)

const (
	defaultWidth  = 100
	defaultHeight = 24
	chromeHeight  = 4 // title + help
)

// JournalModel is a scrollable view of journal entries.
type JournalModel struct {
	journal  *reader.Journal
	viewport viewport.Model
	ready    bool
	quitting bool
}

// NewJournalModel creates a journal model. data must be a *reader.Journal.
func NewJournalModel(data any) (JournalModel, error) {
	j, ok := data.(*reader.Journal)
	if !ok {
		return JournalModel{}, fmt.Errorf("journal view needs *reader.Journal, got %T", data)
	}
	m := JournalModel{journal: j}
	m.resize(defaultWidth, defaultHeight)
	return m, nil
}

func (m *JournalModel) resize(width, height int) {
	h := max(height-chromeHeight, 1)
	if !m.ready {
		m.viewport = viewport.New(width, h)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = h
	}
	m.viewport.SetContent(RenderEntries(m.journal.Entries, width))
}

// Init implements tea.Model.
func (m JournalModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m JournalModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Top):
			m.viewport.GotoTop()
			return m, nil
		case key.Matches(msg, keys.End):
			m.viewport.GotoBottom()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m JournalModel) View() string {
	if m.quitting {
		return ""
	}
	title := TitleStyle.Render(fmt.Sprintf("Journal %s (%d records)", m.journal.Path, len(m.journal.Entries)))
	help := HelpStyle.Render(fmt.Sprintf("%3.0f%%  ↑/↓ scroll  g/G top/bottom  q quit", m.viewport.ScrollPercent()*100))
	return title + "\n" + m.viewport.View() + "\n" + help
}

// RenderEntries renders entries one per line, truncating text to width.
func RenderEntries(entries []reader.Entry, width int) string {
	if len(entries) == 0 {
		return HelpStyle.Render("(empty journal)")
	}

	var b strings.Builder
	for _, e := range entries {
		ts := "--:--:--.---"
		if !e.Time.IsZero() {
			ts = e.Time.Format("15:04:05.000")
		}
		prefix := fmt.Sprintf("%5d  %s  %-15s  ", e.Seq, ts, e.Kind)
		text := strings.ReplaceAll(e.Text, "\n", "⏎")
		if room := width - len(prefix); room > 1 && len([]rune(text)) > room {
			text = string([]rune(text)[:room-1]) + "…"
		}
		b.WriteString(LabelStyle.UnsetWidth().Render(prefix))
		b.WriteString(KindStyle(e.Kind).Render(text))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}
