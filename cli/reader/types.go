// Package reader provides the read side of worker journals for the
// warmstart CLI.
//
// Commands never decode journal frames themselves; they load a Journal here
// and render its entries or its Summary.
package reader

import "time"

// Entry is one journal record prepared for display.
type Entry struct {
	Seq  int64     `json:"seq" yaml:"seq"`
	Time time.Time `json:"time" yaml:"time"`
	Kind string    `json:"kind" yaml:"kind"`
	// Text is the decoded string for log and error records and the compact
	// JSON value for responses.
	Text string `json:"text" yaml:"text"`
}

// Journal is a fully read journal file.
type Journal struct {
	Path    string  `json:"path" yaml:"path"`
	Entries []Entry `json:"entries" yaml:"entries"`
}

// Summary condenses a journal into the facts of one worker run.
type Summary struct {
	Path             string         `json:"path" yaml:"path"`
	Records          int            `json:"records" yaml:"records"`
	ByKind           map[string]int `json:"by_kind" yaml:"by_kind"`
	Pid              int            `json:"pid,omitempty" yaml:"pid,omitempty"`
	Engine           string         `json:"engine,omitempty" yaml:"engine,omitempty"`
	Loaded           bool           `json:"loaded" yaml:"loaded"`
	Finished         bool           `json:"finished" yaml:"finished"`
	Served           int            `json:"served" yaml:"served"`
	InvocationErrors int            `json:"invocation_errors" yaml:"invocation_errors"`
	ProtocolErrors   int            `json:"protocol_errors" yaml:"protocol_errors"`
	LastError        string         `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	StartedAt        *time.Time     `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	EndedAt          *time.Time     `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
	DurationMs       int64          `json:"duration_ms" yaml:"duration_ms"`
}
