package config

import (
	"fmt"
	"syscall"
	"time"

	"github.com/justapithecus/warmstart/handshake"
	"github.com/justapithecus/warmstart/worker"
)

// Config represents a warmstart.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	Worker     WorkerConfig     `yaml:"worker"`
	Controller ControllerConfig `yaml:"controller"`
	Storage    StorageConfig    `yaml:"storage"`
	Adapter    AdapterConfig    `yaml:"adapter"`
}

// WorkerConfig holds worker process defaults.
type WorkerConfig struct {
	ID                    string    `yaml:"id"`
	Engine                string    `yaml:"engine"`
	EntryPoint            string    `yaml:"entry_point"`
	Journal               string    `yaml:"journal"`
	MaxLineBytes          int       `yaml:"max_line_bytes"`
	PollInterval          Duration  `yaml:"poll_interval"`
	ParkInterval          Duration  `yaml:"park_interval"`
	NudgeInterval         *Duration `yaml:"nudge_interval,omitempty"`
	CheckpointSignal      string    `yaml:"checkpoint_signal"`
	StopSignal            string    `yaml:"stop_signal"`
	AwaitResume           bool      `yaml:"await_resume"`
	FatalInvocationErrors bool      `yaml:"fatal_invocation_errors"`
	Trace                 bool      `yaml:"trace"`
}

// ControllerConfig holds defaults for the controller CLI.
type ControllerConfig struct {
	WorkerPath string   `yaml:"worker_path"`
	WorkerArgs []string `yaml:"worker_args"`
	Handler    string   `yaml:"handler"`
	Timeout    Duration `yaml:"timeout"`
	CacheSize  int      `yaml:"cache_size"`
}

// StorageConfig configures remote handler artifact sources.
type StorageConfig struct {
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
	MaxSize     int64  `yaml:"max_size"`
}

// AdapterConfig holds completion adapter defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Backoff Duration          `yaml:"backoff,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// ParseSignal resolves a signal name such as "SIGUSR1" or "usr1".
func ParseSignal(name string) (syscall.Signal, error) {
	return handshake.ParseSignal(name)
}

// ApplyTo overlays the non-zero worker settings onto cfg.
func (w WorkerConfig) ApplyTo(cfg *worker.Config) error {
	if w.ID != "" {
		cfg.WorkerID = w.ID
	}
	if w.Engine != "" {
		cfg.Engine = w.Engine
	}
	if w.EntryPoint != "" {
		cfg.EntryPoint = w.EntryPoint
	}
	if w.MaxLineBytes != 0 {
		cfg.MaxLineBytes = w.MaxLineBytes
	}
	if w.PollInterval.Duration != 0 {
		cfg.PollInterval = w.PollInterval.Duration
	}
	if w.ParkInterval.Duration != 0 {
		cfg.ParkInterval = w.ParkInterval.Duration
	}
	if w.NudgeInterval != nil {
		cfg.Handshake.NudgeInterval = w.NudgeInterval.Duration
	}
	if w.CheckpointSignal != "" {
		sig, err := ParseSignal(w.CheckpointSignal)
		if err != nil {
			return fmt.Errorf("checkpoint_signal: %w", err)
		}
		cfg.Handshake.CheckpointSignal = sig
	}
	if w.StopSignal != "" {
		sig, err := ParseSignal(w.StopSignal)
		if err != nil {
			return fmt.Errorf("stop_signal: %w", err)
		}
		cfg.Handshake.StopSignal = sig
	}
	cfg.AwaitResume = cfg.AwaitResume || w.AwaitResume
	cfg.FatalInvocationErrors = cfg.FatalInvocationErrors || w.FatalInvocationErrors
	cfg.Trace = cfg.Trace || w.Trace
	return nil
}
