package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/warmstart/cli/reader"
)

func testJournal() *reader.Journal {
	ts := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	return &reader.Journal{
		Path: "/tmp/w.journal",
		Entries: []reader.Entry{
			{Seq: 1, Time: ts, Kind: "log", Text: "Pid: 7"},
			{Seq: 2, Time: ts, Kind: "function_loaded", Text: `""`},
			{Seq: 3, Time: ts, Kind: "response", Text: `{"y":42}`},
			{Seq: 4, Kind: "error", Text: "failure in handle call: " + strings.Repeat("x", 200)},
		},
	}
}

func TestIsTUISupported(t *testing.T) {
	tests := []struct {
		viewType string
		want     bool
	}{
		{ViewJournal, true},
		{ViewSummary, true},
		{"invoke", false},
		{"version", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.viewType, func(t *testing.T) {
			if got := IsTUISupported(tt.viewType); got != tt.want {
				t.Errorf("IsTUISupported(%q) = %v, want %v", tt.viewType, got, tt.want)
			}
		})
	}
}

func TestRun_UnsupportedViewType(t *testing.T) {
	if err := Run("invoke", nil); err == nil {
		t.Error("expected error for unsupported view type")
	}
}

func TestNewModels_RejectWrongData(t *testing.T) {
	if _, err := NewJournalModel(&reader.Summary{}); err == nil {
		t.Error("NewJournalModel accepted a summary")
	}
	if _, err := NewSummaryModel(testJournal()); err == nil {
		t.Error("NewSummaryModel accepted a journal")
	}
}

func TestRenderEntries(t *testing.T) {
	out := RenderEntries(testJournal().Entries, 80)

	lines := strings.Split(out, "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), out)
	}
	for _, want := range []string{"Pid: 7", `{"y":42}`, "12:00:00.000", "--:--:--.---", "…"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, strings.Repeat("x", 200)) {
		t.Error("long text was not truncated")
	}
}

func TestRenderEntries_Empty(t *testing.T) {
	if out := RenderEntries(nil, 80); !strings.Contains(out, "empty journal") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestJournalModel_Keys(t *testing.T) {
	m, err := NewJournalModel(testJournal())
	if err != nil {
		t.Fatal(err)
	}

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 60, Height: 10})
	m = updated.(JournalModel)
	if !strings.Contains(m.View(), "4 records") {
		t.Errorf("title missing record count:\n%s", m.View())
	}

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	m = updated.(JournalModel)
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if m.View() != "" {
		t.Error("view should be empty after quit")
	}
}

func TestRenderSummary(t *testing.T) {
	s := testJournal().Summarize()
	s.Finished = true
	out := RenderSummary(s)
	for _, want := range []string{"Worker Run", "finished", "Records", "Served", "/tmp/w.journal"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
