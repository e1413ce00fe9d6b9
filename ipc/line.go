// Package ipc implements the worker's line protocol and its lifecycle journal.
//
// The line protocol is newline-delimited JSON over stdin/stdout. Every
// envelope is written as exactly one line in a single Write call, so an
// unbuffered stdout delivers it to the controller immediately.
package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/justapithecus/warmstart/iox"
	"github.com/justapithecus/warmstart/types"
)

// DefaultMaxLineSize bounds a single incoming line (1 MiB), newline excluded.
const DefaultMaxLineSize = 1024 * 1024

// LineErrorKind classifies line decoding errors.
type LineErrorKind int

const (
	// LineErrorParse indicates a line that is not a JSON object.
	LineErrorParse LineErrorKind = iota
	// LineErrorTooLarge indicates a line exceeding the configured bound.
	LineErrorTooLarge
	// LineErrorMissingField indicates a JSON object without a required key.
	LineErrorMissingField
)

func (k LineErrorKind) String() string {
	switch k {
	case LineErrorParse:
		return "parse_error"
	case LineErrorTooLarge:
		return "oversized_message"
	case LineErrorMissingField:
		return "missing_field"
	default:
		return "unknown"
	}
}

// LineError represents a line decoding error.
type LineError struct {
	Kind  LineErrorKind
	Msg   string
	Field string
	Err   error
}

func (e *LineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// IsLineError reports whether err is a *LineError of the given kind.
func IsLineError(err error, kind LineErrorKind) bool {
	var lineErr *LineError
	if errors.As(err, &lineErr) {
		return lineErr.Kind == kind
	}
	return false
}

// LineEncoder writes envelopes as single JSON lines.
type LineEncoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineEncoder creates an encoder writing to w.
func NewLineEncoder(w io.Writer) *LineEncoder {
	return &LineEncoder{w: w}
}

// EncodeEnvelope renders env as one line, trailing newline included.
// Embedded newlines in string payloads are escaped and raw payloads are
// compacted, so the result never spans more than one line.
func EncodeEnvelope(env types.Envelope) ([]byte, error) {
	if len(env.Data) == 0 {
		env.Data = json.RawMessage(`""`)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Kind, err)
	}
	return buf.Bytes(), nil
}

// Encode writes env as one line and flushes it if the writer buffers.
func (e *LineEncoder) Encode(env types.Envelope) error {
	line, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(line); err != nil {
		return fmt.Errorf("write %s envelope: %w", env.Kind, err)
	}
	if err := iox.Flush(e.w); err != nil {
		return fmt.Errorf("flush %s envelope: %w", env.Kind, err)
	}
	return nil
}

// WriteMessage writes an arbitrary controller message as one JSON line.
func (e *LineEncoder) WriteMessage(msg any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return iox.Flush(e.w)
}

// LineDecoder reads bounded lines from a stream.
type LineDecoder struct {
	r   *bufio.Reader
	max int
}

// NewLineDecoder creates a decoder over r. A maxLine of zero or less selects
// DefaultMaxLineSize.
func NewLineDecoder(r io.Reader, maxLine int) *LineDecoder {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineSize
	}
	size := maxLine + 2
	if size > 64*1024 {
		size = 64 * 1024
	}
	return &LineDecoder{r: bufio.NewReaderSize(r, size), max: maxLine}
}

// Buffered returns the number of bytes already read from the stream but not
// yet consumed. A non-zero value means a line may be available without
// touching the underlying file descriptor.
func (d *LineDecoder) Buffered() int {
	return d.r.Buffered()
}

// ReadLine reads one line without its terminator.
//
// Errors:
//   - io.EOF: stream ended with no pending data
//   - *LineError with Kind=LineErrorTooLarge: the line exceeded the bound;
//     the whole line has been consumed and the next call reads the next line
func (d *LineDecoder) ReadLine() ([]byte, error) {
	var line []byte
	oversized := false
	total := 0

	for {
		frag, err := d.r.ReadSlice('\n')
		total += len(frag)
		if !oversized {
			line = append(line, frag...)
			if len(bytes.TrimRight(line, "\r\n")) > d.max {
				oversized = true
				line = nil
			}
		}

		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if total == 0 {
				return nil, io.EOF
			}
			break
		}
		return nil, err
	}

	if oversized {
		return nil, &LineError{
			Kind: LineErrorTooLarge,
			Msg:  fmt.Sprintf("line of %d bytes exceeds maximum %d", total, d.max),
		}
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// DecodeObject parses line as a JSON object.
func DecodeObject(line []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(line, &obj); err != nil {
		return nil, &LineError{Kind: LineErrorParse, Msg: "line is not a JSON object", Err: err}
	}
	if obj == nil {
		return nil, &LineError{Kind: LineErrorParse, Msg: "line is JSON null"}
	}
	return obj, nil
}

func requireField(obj map[string]json.RawMessage, field string) (json.RawMessage, error) {
	raw, ok := obj[field]
	if !ok {
		return nil, &LineError{
			Kind:  LineErrorMissingField,
			Msg:   fmt.Sprintf("missing %q field", field),
			Field: field,
		}
	}
	return raw, nil
}

// DecodeHandler parses a {"handler": "<source>"} message.
func DecodeHandler(line []byte) (*types.HandlerMessage, error) {
	obj, err := DecodeObject(line)
	if err != nil {
		return nil, err
	}
	raw, err := requireField(obj, "handler")
	if err != nil {
		return nil, err
	}
	var msg types.HandlerMessage
	if err := json.Unmarshal(raw, &msg.Handler); err != nil {
		return nil, &LineError{Kind: LineErrorParse, Msg: "handler is not a string", Field: "handler", Err: err}
	}
	return &msg, nil
}

// DecodeRequest parses a {"data": ...} message.
func DecodeRequest(line []byte) (*types.RequestMessage, error) {
	obj, err := DecodeObject(line)
	if err != nil {
		return nil, err
	}
	raw, err := requireField(obj, "data")
	if err != nil {
		return nil, err
	}
	return &types.RequestMessage{Data: raw}, nil
}

// RequestValue extracts the request value from msg. A string payload is
// decoded as the JSON document it contains; any other payload is the value.
func RequestValue(msg *types.RequestMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(msg.Data)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return msg.Data, nil
	}
	var encoded string
	if err := json.Unmarshal(trimmed, &encoded); err != nil {
		return nil, &LineError{Kind: LineErrorParse, Msg: "request data is not a valid JSON string", Field: "data", Err: err}
	}
	if !json.Valid([]byte(encoded)) {
		return nil, &LineError{Kind: LineErrorParse, Msg: "request data is not valid JSON", Field: "data"}
	}
	return json.RawMessage(encoded), nil
}

// DecodeEnvelope parses a worker output line.
func DecodeEnvelope(line []byte) (*types.Envelope, error) {
	obj, err := DecodeObject(line)
	if err != nil {
		return nil, err
	}
	rawKind, err := requireField(obj, "type")
	if err != nil {
		return nil, err
	}
	data, err := requireField(obj, "data")
	if err != nil {
		return nil, err
	}
	var kind types.EnvelopeKind
	if err := json.Unmarshal(rawKind, &kind); err != nil {
		return nil, &LineError{Kind: LineErrorParse, Msg: "type is not a string", Field: "type", Err: err}
	}
	return &types.Envelope{Kind: kind, Data: data}, nil
}
