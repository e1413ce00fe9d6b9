package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/warmstart/cli/config"
	"github.com/justapithecus/warmstart/cli/reader"
	"github.com/justapithecus/warmstart/ipc"
	"github.com/justapithecus/warmstart/types"
	"github.com/justapithecus/warmstart/worker"
)

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	hasTUI := false
	for _, f := range ReadOnlyFlags() {
		if f.Names()[0] == "tui" {
			hasTUI = true
		}
	}
	if !hasTUI {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

// runApp runs a one-command app and returns stdout and stderr.
func runApp(t *testing.T, command *cli.Command, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := &cli.App{
		Name:           "warmstart",
		Writer:         &stdout,
		ErrWriter:      &stderr,
		ExitErrHandler: ExitErrHandler,
		Commands:       []*cli.Command{command},
	}
	err := app.Run(append([]string{"warmstart", command.Name}, args...))
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, _, err := runApp(t, VersionCommand("abc123"), "--format", "json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var resp VersionResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if resp.Version != types.Version || resp.Commit != "abc123" || resp.ProtocolVersion != types.ProtocolVersion {
		t.Errorf("unexpected version response %+v", resp)
	}
}

func TestVersionCommand_RejectsTUI(t *testing.T) {
	_, _, err := runApp(t, VersionCommand("x"), "--tui")
	if ExitCode(err, &bytes.Buffer{}) != exitUsage {
		t.Errorf("expected usage exit, got %v", err)
	}
}

func writeTestJournal(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	w := ipc.NewJournalWriter(&buf)
	for _, env := range []types.Envelope{
		types.NewLog("Pid: 99"),
		types.NewLog("lua started"),
		types.NewFunctionLoaded(),
		types.NewResponse(json.RawMessage(`{"ok":true}`)),
		types.NewError("failure in handle call: boom"),
		types.NewLog("finished server"),
		types.NewLog("served 2 requests (1 invocation errors, 0 protocol errors)"),
	} {
		if err := w.Append(env); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), "w.journal")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestJournalCommand(t *testing.T) {
	path := writeTestJournal(t)

	t.Run("entries json", func(t *testing.T) {
		out, _, err := runApp(t, JournalCommand(), "--format", "json", path)
		if err != nil {
			t.Fatalf("journal: %v", err)
		}
		var j reader.Journal
		if err := json.Unmarshal([]byte(out), &j); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(j.Entries) != 7 {
			t.Errorf("got %d entries, want 7", len(j.Entries))
		}
	})

	t.Run("kind filter table", func(t *testing.T) {
		out, _, err := runApp(t, JournalCommand(), "--format", "table", "--no-color", "--kind", "error", path)
		if err != nil {
			t.Fatalf("journal: %v", err)
		}
		if !strings.Contains(out, "failure in handle call: boom") || strings.Contains(out, "Pid: 99") {
			t.Errorf("unexpected filtered output:\n%s", out)
		}
	})

	t.Run("summary yaml", func(t *testing.T) {
		out, _, err := runApp(t, JournalCommand(), "--format", "yaml", "--summary", path)
		if err != nil {
			t.Fatalf("journal: %v", err)
		}
		for _, want := range []string{"engine: lua", "pid: 99", "finished: true", "served: 2", "invocation_errors: 1"} {
			if !strings.Contains(out, want) {
				t.Errorf("summary missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("missing path", func(t *testing.T) {
		_, _, err := runApp(t, JournalCommand())
		if ExitCode(err, &bytes.Buffer{}) != exitUsage {
			t.Errorf("expected usage exit, got %v", err)
		}
	})

	t.Run("unreadable", func(t *testing.T) {
		_, _, err := runApp(t, JournalCommand(), filepath.Join(t.TempDir(), "nope"))
		if ExitCode(err, &bytes.Buffer{}) != exitFailure {
			t.Errorf("expected failure exit, got %v", err)
		}
	})
}

func TestReadRequests(t *testing.T) {
	reqs, err := readRequests(strings.NewReader("{\"x\":1}\n\n  [1,2]  \n\"s\"\n"))
	if err != nil {
		t.Fatalf("readRequests: %v", err)
	}
	want := []string{`{"x":1}`, `[1,2]`, `"s"`}
	if len(reqs) != len(want) {
		t.Fatalf("got %d requests, want %d", len(reqs), len(want))
	}
	for i := range want {
		if string(reqs[i]) != want[i] {
			t.Errorf("reqs[%d] = %s, want %s", i, reqs[i], want[i])
		}
	}

	if _, err := readRequests(strings.NewReader("{\"x\":1}\n{broken\n")); err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected line 2 error, got %v", err)
	}
}

func TestBuildAdapter(t *testing.T) {
	zero := 0
	tests := []struct {
		name    string
		cfg     config.AdapterConfig
		wantNil bool
		wantErr bool
	}{
		{"none", config.AdapterConfig{}, true, false},
		{"webhook", config.AdapterConfig{Type: "webhook", URL: "http://localhost/hook", Retries: &zero}, false, false},
		{"webhook without url", config.AdapterConfig{Type: "webhook"}, true, true},
		{"redis", config.AdapterConfig{Type: "redis", URL: "redis://localhost:6379"}, false, false},
		{"unknown", config.AdapterConfig{Type: "kafka"}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := buildAdapter(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildAdapter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if (a == nil) != tt.wantNil {
				t.Errorf("buildAdapter() = %v, wantNil %v", a, tt.wantNil)
			}
			if a != nil {
				_ = a.Close()
			}
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Errorf("got %q, want b", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

// resolveWorkerConfig runs the worker flag set with args and returns the
// layered configuration.
func resolveWorkerConfig(t *testing.T, args ...string) (worker.Config, string, error) {
	t.Helper()
	var (
		cfg     worker.Config
		journal string
		cfgErr  error
	)
	app := &cli.App{
		Name:  "warmstart-worker",
		Flags: WorkerFlags(),
		Action: func(c *cli.Context) error {
			cfg, journal, cfgErr = workerConfig(c)
			return nil
		},
	}
	if err := app.Run(append([]string{"warmstart-worker"}, args...)); err != nil {
		t.Fatalf("app.Run: %v", err)
	}
	return cfg, journal, cfgErr
}

func TestWorkerConfig_Defaults(t *testing.T) {
	cfg, journal, err := resolveWorkerConfig(t)
	if err != nil {
		t.Fatalf("workerConfig: %v", err)
	}
	if cfg.Engine != worker.DefaultEngine || journal != "" {
		t.Errorf("unexpected defaults: engine=%q journal=%q", cfg.Engine, journal)
	}
	if !strings.HasPrefix(cfg.WorkerID, "worker-") {
		t.Errorf("WorkerID = %q, want worker-<pid>", cfg.WorkerID)
	}
	if cfg.Handshake.StopSignal != syscall.SIGUSR2 {
		t.Errorf("stop signal = %v", cfg.Handshake.StopSignal)
	}
}

func TestWorkerConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warmstart.yaml")
	yaml := "worker:\n  engine: lua\n  id: from-file\n  journal: /tmp/file.journal\n  poll_interval: 50ms\n  trace: true\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, journal, err := resolveWorkerConfig(t,
		"--config", path,
		"--engine", "starlark",
		"--journal", "/tmp/flag.journal",
		"--nudge-interval", "0s",
		"--await-resume",
	)
	if err != nil {
		t.Fatalf("workerConfig: %v", err)
	}
	if cfg.Engine != "starlark" {
		t.Errorf("engine = %q, flag should win", cfg.Engine)
	}
	if cfg.WorkerID != "from-file" {
		t.Errorf("worker id = %q, want from-file", cfg.WorkerID)
	}
	if journal != "/tmp/flag.journal" {
		t.Errorf("journal = %q", journal)
	}
	if cfg.PollInterval != 50*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.PollInterval)
	}
	if cfg.Handshake.NudgeInterval != 0 {
		t.Errorf("nudge interval = %v, want 0", cfg.Handshake.NudgeInterval)
	}
	if !cfg.Trace || !cfg.AwaitResume {
		t.Errorf("trace=%v await=%v, want both true", cfg.Trace, cfg.AwaitResume)
	}
}

func TestWorkerConfig_Invalid(t *testing.T) {
	if _, _, err := resolveWorkerConfig(t, "--max-line-bytes", "-1"); err == nil {
		t.Error("expected validation error for negative max line bytes")
	}
}
