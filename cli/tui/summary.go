package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/warmstart/cli/reader"
)

// SummaryModel shows a journal summary as stat boxes.
type SummaryModel struct {
	summary  *reader.Summary
	quitting bool
}

// NewSummaryModel creates a summary model. data must be a *reader.Summary.
func NewSummaryModel(data any) (SummaryModel, error) {
	s, ok := data.(*reader.Summary)
	if !ok {
		return SummaryModel{}, fmt.Errorf("summary view needs *reader.Summary, got %T", data)
	}
	return SummaryModel{summary: s}, nil
}

// Init implements tea.Model.
func (m SummaryModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m SummaryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m SummaryModel) View() string {
	if m.quitting {
		return ""
	}
	return RenderSummary(m.summary) + "\n" + HelpStyle.Render("Press q or Ctrl+C to quit")
}

// RenderSummary renders the summary without running a program.
func RenderSummary(s *reader.Summary) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Worker Run"))
	b.WriteString("\n")

	status, style := "running", WarningStyle
	switch {
	case s.Finished:
		status, style = "finished", SuccessStyle
	case s.LastError != "" && !s.Loaded:
		status, style = "failed", ErrorStyle
	}

	rows := [][2]string{
		{"Journal", s.Path},
		{"Engine", s.Engine},
		{"Pid", fmt.Sprintf("%d", s.Pid)},
		{"Handler loaded", fmt.Sprintf("%t", s.Loaded)},
		{"Duration", fmt.Sprintf("%dms", s.DurationMs)},
	}
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Status:"), style.Render(status))
	for _, row := range rows {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(row[0]+":"), ValueStyle.Render(row[1]))
	}
	if s.LastError != "" {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Last error:"), ErrorStyle.Render(s.LastError))
	}
	b.WriteString("\n")

	boxes := []string{
		statBox("Records", s.Records, accent),
		statBox("Served", s.Served, green),
		statBox("Invocation errors", s.InvocationErrors, red),
		statBox("Protocol errors", s.ProtocolErrors, yellow),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))

	return BoxStyle.Render(b.String())
}

func statBox(label string, value int, color lipgloss.Color) string {
	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)
	return StatBoxStyle.BorderForeground(color).
		Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}
