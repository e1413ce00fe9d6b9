package reader

import (
	"fmt"
	"os"
	"time"

	"github.com/justapithecus/warmstart/iox"
	"github.com/justapithecus/warmstart/ipc"
	"github.com/justapithecus/warmstart/types"
)

// Worker log lines with a fixed meaning in a summary.
const (
	logLoaded   = "handle function successfully loaded"
	logFinished = "finished server"
)

// ReadJournal reads every record of the journal at path.
// A truncated journal (a worker killed mid-write) returns the records read so
// far together with the error.
func ReadJournal(path string) (*Journal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer iox.DiscardClose(f)

	records, readErr := ipc.NewJournalReader(f).ReadAll()

	j := &Journal{Path: path, Entries: make([]Entry, 0, len(records))}
	for i := range records {
		j.Entries = append(j.Entries, toEntry(&records[i]))
	}
	if readErr != nil {
		return j, fmt.Errorf("read journal %s: %w", path, readErr)
	}
	return j, nil
}

func toEntry(r *ipc.JournalRecord) Entry {
	e := Entry{Seq: r.Seq, Kind: string(r.Type), Text: r.Data}
	if ts, err := time.Parse(time.RFC3339Nano, r.Ts); err == nil {
		e.Time = ts
	}
	switch r.Type {
	case types.KindLog, types.KindError:
		if text, ok := r.Envelope().Text(); ok {
			e.Text = text
		}
	}
	return e
}

// Summarize condenses the journal entries.
func (j *Journal) Summarize() *Summary {
	s := &Summary{
		Path:    j.Path,
		Records: len(j.Entries),
		ByKind:  make(map[string]int),
	}

	for i := range j.Entries {
		e := &j.Entries[i]
		s.ByKind[e.Kind]++

		if !e.Time.IsZero() {
			if s.StartedAt == nil {
				t := e.Time
				s.StartedAt = &t
			}
			t := e.Time
			s.EndedAt = &t
		}

		switch types.EnvelopeKind(e.Kind) {
		case types.KindError:
			s.LastError = e.Text
		case types.KindFunctionLoaded:
			s.Loaded = true
		case types.KindLog:
			s.applyLog(e.Text)
		}
	}

	if s.StartedAt != nil && s.EndedAt != nil {
		s.DurationMs = s.EndedAt.Sub(*s.StartedAt).Milliseconds()
	}
	return s
}

func (s *Summary) applyLog(text string) {
	switch text {
	case logLoaded:
		s.Loaded = true
		return
	case logFinished:
		s.Finished = true
		return
	}
	if pid, ok := ParsePid(text); ok && s.Pid == 0 {
		s.Pid = pid
		return
	}
	if name, ok := ParseEngine(text); ok && s.Engine == "" {
		s.Engine = name
		return
	}
	if served, inv, proto, ok := ParseServed(text); ok {
		s.Served, s.InvocationErrors, s.ProtocolErrors = served, inv, proto
	}
}
