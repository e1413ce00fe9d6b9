package worker

import (
	"errors"
	"time"

	"github.com/justapithecus/warmstart/engine"
	"github.com/justapithecus/warmstart/handshake"
	"github.com/justapithecus/warmstart/ipc"
)

// Defaults.
const (
	DefaultEngine       = "starlark"
	DefaultPollInterval = 10 * time.Millisecond
	DefaultParkInterval = 10 * time.Millisecond
)

// Config holds worker settings.
type Config struct {
	WorkerID   string
	Engine     string
	EntryPoint string

	// MaxLineBytes bounds one incoming line.
	MaxLineBytes int
	// PollInterval is how long the serving loop waits for input before
	// checking the stop flag again.
	PollInterval time.Duration
	// ParkInterval paces the idle loop after serving finishes.
	ParkInterval time.Duration

	// AwaitResume blocks after activation until the stop/resume channel fires.
	AwaitResume bool
	// FatalInvocationErrors ends the worker on the first failed invocation
	// instead of reporting it and serving on.
	FatalInvocationErrors bool
	// Trace emits a Log envelope for every request processing step.
	Trace bool

	Handshake handshake.Config
}

// DefaultConfig returns the stock worker configuration.
func DefaultConfig() Config {
	return Config{
		Engine:       DefaultEngine,
		EntryPoint:   engine.DefaultEntryPoint,
		MaxLineBytes: ipc.DefaultMaxLineSize,
		PollInterval: DefaultPollInterval,
		ParkInterval: DefaultParkInterval,
		Handshake: handshake.Config{
			CheckpointSignal: handshake.DefaultCheckpointSignal,
			StopSignal:       handshake.DefaultStopSignal,
			NudgeInterval:    handshake.DefaultNudgeInterval,
		},
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Engine == "":
		return errors.New("engine is required")
	case c.MaxLineBytes <= 0:
		return errors.New("max line bytes must be positive")
	case c.PollInterval <= 0:
		return errors.New("poll interval must be positive")
	case c.ParkInterval <= 0:
		return errors.New("park interval must be positive")
	case c.Handshake.NudgeInterval < 0:
		return errors.New("nudge interval must not be negative")
	case c.Handshake.CheckpointSignal != 0 && c.Handshake.CheckpointSignal == c.Handshake.StopSignal:
		return errors.New("checkpoint and stop signals must differ")
	}
	return nil
}
