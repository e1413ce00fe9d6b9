package types //nolint:revive // types is a valid package name

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeKind_Valid(t *testing.T) {
	tests := []struct {
		kind EnvelopeKind
		want bool
	}{
		{KindLog, true},
		{KindError, true},
		{KindResponse, true},
		{KindFunctionLoaded, true},
		{KindRequest, true},
		{"started", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Valid(); got != tt.want {
				t.Errorf("EnvelopeKind(%q).Valid() = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestNewLog_TextRoundTrip(t *testing.T) {
	env := NewLog("line one\nline two")
	if env.Kind != KindLog {
		t.Fatalf("Kind = %q, want %q", env.Kind, KindLog)
	}
	text, ok := env.Text()
	if !ok {
		t.Fatal("Text() not ok for log envelope")
	}
	if text != "line one\nline two" {
		t.Errorf("Text() = %q", text)
	}
}

func TestNewFunctionLoaded_EmptyStringPayload(t *testing.T) {
	b, err := json.Marshal(NewFunctionLoaded())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"type":"function_loaded","data":""}` {
		t.Errorf("got %s", b)
	}
}

func TestEnvelope_TextOnResponse(t *testing.T) {
	env := NewResponse(json.RawMessage(`{"y":42}`))
	if _, ok := env.Text(); ok {
		t.Error("Text() should not be ok for an object payload")
	}
}

func TestNewError_KeepsHTMLCharactersLiteral(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"bad <thing> & more", `"bad <thing> & more"`},
		{"File \"<module>\", line 1", `"File \"<module>\", line 1"`},
		{"plain", `"plain"`},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			env := NewError(tt.msg)
			if string(env.Data) != tt.want {
				t.Errorf("Data = %s, want %s", env.Data, tt.want)
			}
			if text, ok := env.Text(); !ok || text != tt.msg {
				t.Errorf("Text() = %q, %v", text, ok)
			}
		})
	}
}
