package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/justapithecus/warmstart/types"
)

func compactJSON(t *testing.T, raw []byte) string {
	t.Helper()
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		t.Fatalf("compact %q: %v", raw, err)
	}
	return buf.String()
}

func TestEnvelope_RoundTripPreservesPayload(t *testing.T) {
	values := []string{
		`{"y": 42}`,
		`[1, 2.5, "three", null, true]`,
		`"jsonstring"`,
		`"line\nbreak"`,
		`0`,
		`-17.25e3`,
		`null`,
		`{"nested": {"list": [{"a": "<b>&"}], "empty": {}}}`,
	}

	for _, v := range values {
		t.Run(v, func(t *testing.T) {
			line, err := EncodeEnvelope(types.NewResponse(json.RawMessage(v)))
			if err != nil {
				t.Fatalf("EncodeEnvelope: %v", err)
			}
			if n := bytes.Count(line, []byte("\n")); n != 1 || line[len(line)-1] != '\n' {
				t.Fatalf("encoded envelope is not exactly one line: %q", line)
			}

			env, err := DecodeEnvelope(bytes.TrimRight(line, "\n"))
			if err != nil {
				t.Fatalf("DecodeEnvelope: %v", err)
			}
			if env.Kind != types.KindResponse {
				t.Errorf("Kind = %q, want %q", env.Kind, types.KindResponse)
			}
			if got, want := compactJSON(t, env.Data), compactJSON(t, []byte(v)); got != want {
				t.Errorf("payload = %s, want %s", got, want)
			}
		})
	}
}

func TestEncodeEnvelope_MultilinePayloadStaysOnOneLine(t *testing.T) {
	raw := json.RawMessage("{\n  \"a\": 1,\n  \"b\": [\n 2\n ]\n}")
	line, err := EncodeEnvelope(types.NewResponse(raw))
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	if got := string(line); got != `{"type":"response","data":{"a":1,"b":[2]}}`+"\n" {
		t.Errorf("line = %q", got)
	}

	line, err = EncodeEnvelope(types.NewLog("a\nb"))
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	if got := string(line); got != `{"type":"log","data":"a\nb"}`+"\n" {
		t.Errorf("line = %q", got)
	}
}

type flushRecorder struct {
	bytes.Buffer
	flushes int
}

func (f *flushRecorder) Flush() error {
	f.flushes++
	return nil
}

func TestLineEncoder_FlushesEveryEnvelope(t *testing.T) {
	var out flushRecorder
	enc := NewLineEncoder(&out)

	for i := 0; i < 3; i++ {
		if err := enc.Encode(types.NewLog("hello")); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	if out.flushes != 3 {
		t.Errorf("flushes = %d, want 3", out.flushes)
	}
	if got := strings.Count(out.String(), "\n"); got != 3 {
		t.Errorf("lines = %d, want 3", got)
	}
}

func TestLineDecoder_ReadsLines(t *testing.T) {
	dec := NewLineDecoder(strings.NewReader("one\r\ntwo\nthree"), 0)

	for _, want := range []string{"one", "two", "three"} {
		line, err := dec.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine: %v", err)
		}
		if string(line) != want {
			t.Errorf("line = %q, want %q", line, want)
		}
	}
	if _, err := dec.ReadLine(); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestLineDecoder_OversizedLineFailsLoudlyAndResyncs(t *testing.T) {
	input := strings.Repeat("x", 100) + "\n" + `{"data":"1"}` + "\n"
	dec := NewLineDecoder(strings.NewReader(input), 16)

	_, err := dec.ReadLine()
	if !IsLineError(err, LineErrorTooLarge) {
		t.Fatalf("err = %v, want oversized_message", err)
	}

	line, err := dec.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine after oversized: %v", err)
	}
	if string(line) != `{"data":"1"}` {
		t.Errorf("line = %q", line)
	}
}

func TestLineDecoder_OversizedLongerThanBuffer(t *testing.T) {
	big := strings.Repeat("y", 200*1024)
	dec := NewLineDecoder(strings.NewReader(big+"\nok\n"), 1024)

	if _, err := dec.ReadLine(); !IsLineError(err, LineErrorTooLarge) {
		t.Fatalf("err = %v, want oversized_message", err)
	}
	line, err := dec.ReadLine()
	if err != nil || string(line) != "ok" {
		t.Fatalf("ReadLine = %q, %v", line, err)
	}
}

func TestLineDecoder_ExactlyMaxIsAccepted(t *testing.T) {
	dec := NewLineDecoder(strings.NewReader(strings.Repeat("z", 16)+"\n"), 16)
	line, err := dec.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if len(line) != 16 {
		t.Errorf("len = %d, want 16", len(line))
	}
}

func TestDecodeHandler(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    string
		errKind LineErrorKind
		wantErr bool
	}{
		{name: "valid", line: `{"handler": "def handle(x):\n  return x\n"}`, want: "def handle(x):\n  return x\n"},
		{name: "not json", line: `def handle`, wantErr: true, errKind: LineErrorParse},
		{name: "array", line: `["handler"]`, wantErr: true, errKind: LineErrorParse},
		{name: "null", line: `null`, wantErr: true, errKind: LineErrorParse},
		{name: "missing", line: `{"code": "x"}`, wantErr: true, errKind: LineErrorMissingField},
		{name: "not string", line: `{"handler": 3}`, wantErr: true, errKind: LineErrorParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeHandler([]byte(tt.line))
			if tt.wantErr {
				if !IsLineError(err, tt.errKind) {
					t.Fatalf("err = %v, want %s", err, tt.errKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeHandler: %v", err)
			}
			if msg.Handler != tt.want {
				t.Errorf("Handler = %q, want %q", msg.Handler, tt.want)
			}
		})
	}
}

func TestRequestValue(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    string
		wantErr bool
	}{
		{name: "double encoded object", line: `{"data": "{\"x\": 41}"}`, want: `{"x":41}`},
		{name: "double encoded string", line: `{"data": "\"jsonstring\""}`, want: `"jsonstring"`},
		{name: "raw object", line: `{"data": {"x": 1}}`, want: `{"x":1}`},
		{name: "raw number", line: `{"data": 7}`, want: `7`},
		{name: "raw null", line: `{"data": null}`, want: `null`},
		{name: "raw false", line: `{"data": false}`, want: `false`},
		{name: "double encoded null", line: `{"data": "null"}`, want: `null`},
		{name: "string that is not json", line: `{"data": "not json"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeRequest([]byte(tt.line))
			if err != nil {
				t.Fatalf("DecodeRequest: %v", err)
			}
			value, err := RequestValue(msg)
			if tt.wantErr {
				if !IsLineError(err, LineErrorParse) {
					t.Fatalf("err = %v, want parse_error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("RequestValue: %v", err)
			}
			if got := compactJSON(t, value); got != tt.want {
				t.Errorf("value = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeRequest_MissingData(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"type": "request"}`))
	var lineErr *LineError
	if !errors.As(err, &lineErr) {
		t.Fatalf("err = %v, want *LineError", err)
	}
	if lineErr.Kind != LineErrorMissingField || lineErr.Field != "data" {
		t.Errorf("got kind=%s field=%q", lineErr.Kind, lineErr.Field)
	}
}

func TestDecodeEnvelope_MissingKeys(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`{"data": 1}`)); !IsLineError(err, LineErrorMissingField) {
		t.Errorf("missing type: err = %v", err)
	}
	if _, err := DecodeEnvelope([]byte(`{"type": "log"}`)); !IsLineError(err, LineErrorMissingField) {
		t.Errorf("missing data: err = %v", err)
	}
}

func TestLineEncoder_WriteMessage(t *testing.T) {
	var out bytes.Buffer
	enc := NewLineEncoder(&out)
	if err := enc.WriteMessage(types.HandlerMessage{Handler: "def handle(x):\n  return x"}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if got := out.String(); got != `{"handler":"def handle(x):\n  return x"}`+"\n" {
		t.Errorf("got %q", got)
	}
}
