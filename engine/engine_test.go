package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

var handlerSources = map[string]struct {
	echo        string
	syntaxErr   string
	noHandle    string
	notFunc     string
	raises      string
	prints      string
	unencodable string
}{
	"starlark": {
		echo:        "def handle(x):\n    return {\"y\": x[\"x\"] + 1}\n",
		syntaxErr:   "def handle(x)\n    return x\n",
		noHandle:    "def other(x):\n    return x\n",
		notFunc:     "handle = 3\n",
		raises:      "def handle(x):\n    fail(\"boom\")\n",
		prints:      "def handle(x):\n    print(\"got\", x)\n    return x\n",
		unencodable: "def handle(x):\n    return len\n",
	},
	"lua": {
		echo:        "function handle(x)\n  return {y = x.x + 1}\nend\n",
		syntaxErr:   "function handle(x\n  return x\nend\n",
		noHandle:    "function other(x)\n  return x\nend\n",
		notFunc:     "handle = 3\n",
		raises:      "function handle(x)\n  error(\"boom\")\nend\n",
		prints:      "function handle(x)\n  print(\"got\", x)\n  return x\nend\n",
		unencodable: "function handle(x)\n  return print\nend\n",
	},
}

func startEngine(t *testing.T, name string, opts Options) Engine {
	t.Helper()
	e, err := New(name, opts)
	if err != nil {
		t.Fatalf("New(%q) error = %v", name, err)
	}
	if err := e.Start("warmstart-worker"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func assertJSONEqual(t *testing.T, got json.RawMessage, want string) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("result %q is not json: %v", got, err)
	}
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("want %q is not json: %v", want, err)
	}
	gb, _ := json.Marshal(g)
	wb, _ := json.Marshal(w)
	if string(gb) != string(wb) {
		t.Errorf("result = %s, want %s", got, want)
	}
}

func TestNew_UnknownEngine(t *testing.T) {
	_, err := New("cobol", Options{})
	var bootErr *BootstrapError
	if !errors.As(err, &bootErr) {
		t.Fatalf("New() error = %v, want *BootstrapError", err)
	}
	if bootErr.Engine != "cobol" {
		t.Errorf("Engine = %q, want %q", bootErr.Engine, "cobol")
	}
}

func TestNames(t *testing.T) {
	got := Names()
	if len(got) != 2 || got[0] != "lua" || got[1] != "starlark" {
		t.Errorf("Names() = %v, want [lua starlark]", got)
	}
}

func TestInvoke_Echo(t *testing.T) {
	for name, src := range handlerSources {
		t.Run(name, func(t *testing.T) {
			e := startEngine(t, name, Options{})
			h, err := e.LoadHandler(src.echo)
			if err != nil {
				t.Fatalf("LoadHandler() error = %v", err)
			}
			if h.EntryPoint() != DefaultEntryPoint {
				t.Errorf("EntryPoint() = %q, want %q", h.EntryPoint(), DefaultEntryPoint)
			}
			for i := 0; i < 3; i++ {
				out, err := e.Invoke(context.Background(), h, json.RawMessage(`{"x": 41}`))
				if err != nil {
					t.Fatalf("Invoke() error = %v", err)
				}
				assertJSONEqual(t, out, `{"y": 42}`)
			}
		})
	}
}

func TestLoadHandler_Failures(t *testing.T) {
	for name, src := range handlerSources {
		cases := []struct {
			label   string
			source  string
			wantMsg string
		}{
			{"syntax error", src.syntaxErr, "could not load handler"},
			{"missing entry point", src.noHandle, `does not define "handle"`},
			{"entry point not callable", src.notFunc, "not a function"},
		}
		for _, tc := range cases {
			t.Run(name+"/"+tc.label, func(t *testing.T) {
				e := startEngine(t, name, Options{})
				_, err := e.LoadHandler(tc.source)
				var loadErr *HandlerLoadError
				if !errors.As(err, &loadErr) {
					t.Fatalf("LoadHandler() error = %v, want *HandlerLoadError", err)
				}
				if !strings.Contains(loadErr.Error(), tc.wantMsg) {
					t.Errorf("error = %q, want substring %q", loadErr.Error(), tc.wantMsg)
				}
			})
		}
	}
}

func TestLoadHandler_OnlyOnce(t *testing.T) {
	for name, src := range handlerSources {
		t.Run(name, func(t *testing.T) {
			e := startEngine(t, name, Options{})
			if _, err := e.LoadHandler(src.echo); err != nil {
				t.Fatalf("first LoadHandler() error = %v", err)
			}
			_, err := e.LoadHandler(src.echo)
			if !errors.Is(err, ErrAlreadyLoaded) {
				t.Errorf("second LoadHandler() error = %v, want ErrAlreadyLoaded", err)
			}
		})
	}
}

func TestLoadHandler_BeforeStart(t *testing.T) {
	for name, src := range handlerSources {
		t.Run(name, func(t *testing.T) {
			e, err := New(name, Options{})
			if err != nil {
				t.Fatal(err)
			}
			_, err = e.LoadHandler(src.echo)
			if !errors.Is(err, ErrNotStarted) {
				t.Errorf("LoadHandler() error = %v, want ErrNotStarted", err)
			}
		})
	}
}

func TestInvoke_Failures(t *testing.T) {
	for name, src := range handlerSources {
		cases := []struct {
			label   string
			source  string
			request string
			wantMsg string
		}{
			{"handler raises", src.raises, `{}`, "failure in handle call"},
			{"result not serializable", src.unencodable, `{}`, "could not dump response json"},
			{"request not json", src.echo, `{nope`, "could not load request json"},
		}
		for _, tc := range cases {
			t.Run(name+"/"+tc.label, func(t *testing.T) {
				e := startEngine(t, name, Options{})
				h, err := e.LoadHandler(tc.source)
				if err != nil {
					t.Fatalf("LoadHandler() error = %v", err)
				}
				_, err = e.Invoke(context.Background(), h, json.RawMessage(tc.request))
				var invErr *InvocationError
				if !errors.As(err, &invErr) {
					t.Fatalf("Invoke() error = %v, want *InvocationError", err)
				}
				if !strings.Contains(invErr.Error(), tc.wantMsg) {
					t.Errorf("error = %q, want substring %q", invErr.Error(), tc.wantMsg)
				}
			})
		}
	}
}

func TestInvoke_RaiseCarriesDiagnostic(t *testing.T) {
	for name, src := range handlerSources {
		t.Run(name, func(t *testing.T) {
			e := startEngine(t, name, Options{})
			h, err := e.LoadHandler(src.raises)
			if err != nil {
				t.Fatal(err)
			}
			_, err = e.Invoke(context.Background(), h, json.RawMessage(`{}`))
			if err == nil || !strings.Contains(err.Error(), "boom") {
				t.Errorf("Invoke() error = %v, want mention of boom", err)
			}
		})
	}
}

func TestInvoke_PrintRouted(t *testing.T) {
	for name, src := range handlerSources {
		t.Run(name, func(t *testing.T) {
			var printed []string
			e := startEngine(t, name, Options{Print: func(msg string) { printed = append(printed, msg) }})
			h, err := e.LoadHandler(src.prints)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := e.Invoke(context.Background(), h, json.RawMessage(`"hi"`)); err != nil {
				t.Fatalf("Invoke() error = %v", err)
			}
			if len(printed) != 1 || !strings.HasPrefix(printed[0], "got") || !strings.Contains(printed[0], "hi") {
				t.Errorf("printed = %q, want one line starting with got and mentioning hi", printed)
			}
		})
	}
}

func TestInvoke_ForeignHandler(t *testing.T) {
	star := startEngine(t, "starlark", Options{})
	lu := startEngine(t, "lua", Options{})
	h, err := lu.LoadHandler(handlerSources["lua"].echo)
	if err != nil {
		t.Fatal(err)
	}
	_, err = star.Invoke(context.Background(), h, json.RawMessage(`{"x":1}`))
	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Errorf("Invoke() error = %v, want *InvocationError", err)
	}
}

func TestInvoke_CustomEntryPoint(t *testing.T) {
	e := startEngine(t, "starlark", Options{EntryPoint: "main"})
	h, err := e.LoadHandler("def main(x):\n    return [x, x]\n")
	if err != nil {
		t.Fatal(err)
	}
	out, err := e.Invoke(context.Background(), h, json.RawMessage(`"a"`))
	if err != nil {
		t.Fatal(err)
	}
	assertJSONEqual(t, out, `["a","a"]`)
}

func TestStarlark_PythonConstructs(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		request string
		want    string
	}{
		{
			name:    "while loop",
			source:  "def handle(x):\n    n = 0\n    while n < x:\n        n += 1\n    return n\n",
			request: `3`,
			want:    `3`,
		},
		{
			name:    "top-level if",
			source:  "LIMIT = 2\nif LIMIT > 1:\n    SCALE = 10\nelse:\n    SCALE = 1\n\ndef handle(x):\n    return x * SCALE\n",
			request: `4`,
			want:    `40`,
		},
		{
			name:    "top-level for and global reassignment",
			source:  "TOTAL = 0\nfor i in range(4):\n    TOTAL += i\n\ndef handle(x):\n    return TOTAL + x\n",
			request: `0`,
			want:    `6`,
		},
		{
			name:    "recursion",
			source:  "def fact(n):\n    if n <= 1:\n        return 1\n    return n * fact(n - 1)\n\ndef handle(x):\n    return fact(x)\n",
			request: `5`,
			want:    `120`,
		},
		{
			name:    "set",
			source:  "def handle(x):\n    return len(set([1, 1, 2, x]))\n",
			request: `3`,
			want:    `3`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := startEngine(t, "starlark", Options{})
			h, err := e.LoadHandler(tt.source)
			if err != nil {
				t.Fatalf("LoadHandler() error = %v", err)
			}
			out, err := e.Invoke(context.Background(), h, json.RawMessage(tt.request))
			if err != nil {
				t.Fatalf("Invoke() error = %v", err)
			}
			assertJSONEqual(t, out, tt.want)
		})
	}
}
