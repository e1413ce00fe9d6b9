// Package types holds the wire and state types shared by the worker, its
// controller and the CLI surfaces.
package types

import (
	"bytes"
	"encoding/json"
)

// EnvelopeKind is the type discriminator of a line protocol envelope.
type EnvelopeKind string

// Envelope kinds. Request is only ever sent by the controller.
const (
	KindLog            EnvelopeKind = "log"
	KindError          EnvelopeKind = "error"
	KindResponse       EnvelopeKind = "response"
	KindFunctionLoaded EnvelopeKind = "function_loaded"
	KindRequest        EnvelopeKind = "request"
)

// Valid reports whether k is a known envelope kind.
func (k EnvelopeKind) Valid() bool {
	switch k {
	case KindLog, KindError, KindResponse, KindFunctionLoaded, KindRequest:
		return true
	}
	return false
}

// Envelope is one line of the worker's output stream.
// Data is a JSON string for Log and Error, arbitrary JSON for Response and
// Request, and the empty string for FunctionLoaded.
type Envelope struct {
	Kind EnvelopeKind    `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewLog builds a Log envelope.
func NewLog(message string) Envelope {
	return Envelope{Kind: KindLog, Data: quote(message)}
}

// NewError builds an Error envelope.
func NewError(message string) Envelope {
	return Envelope{Kind: KindError, Data: quote(message)}
}

// NewFunctionLoaded builds the FunctionLoaded envelope.
func NewFunctionLoaded() Envelope {
	return Envelope{Kind: KindFunctionLoaded, Data: quote("")}
}

// NewResponse wraps a JSON value produced by the handler.
func NewResponse(value json.RawMessage) Envelope {
	return Envelope{Kind: KindResponse, Data: value}
}

// Text returns the string payload of a Log or Error envelope.
// ok is false when the payload is not a JSON string.
func (e Envelope) Text() (text string, ok bool) {
	if err := json.Unmarshal(e.Data, &text); err != nil {
		return "", false
	}
	return text, true
}

// quote encodes s as a JSON string. HTML characters are kept literal so
// diagnostics such as "<module>" read the same on the wire.
func quote(s string) json.RawMessage {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	_ = enc.Encode(s)
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// HandlerMessage is the first controller message after readiness.
type HandlerMessage struct {
	Handler string `json:"handler"`
}

// RequestMessage carries one request. Data is normally a JSON string whose
// contents are the JSON request value.
type RequestMessage struct {
	Data json.RawMessage `json:"data"`
}
