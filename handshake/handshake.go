// Package handshake implements the checkpoint readiness protocol between a
// function worker and its controller.
//
// Two process signals are tracked. The checkpoint channel is raised by the
// worker against itself once it is ready to be snapshotted; the worker then
// waits until its own handler has observed that notification, so a tracing
// controller that intercepts the signal sees a provably suspended process.
// The stop channel means "resume" right after activation and "stop" while
// serving; which one is decided by the dispatch table for the worker state
// most recently installed with Enter.
//
// Handlers only flip atomic flags. They run on the goroutine that pumps the
// signal channel, which is always the worker's own goroutine.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/justapithecus/warmstart/types"
)

// Defaults.
const (
	DefaultCheckpointSignal = syscall.SIGUSR1
	DefaultStopSignal       = syscall.SIGUSR2
	DefaultNudgeInterval    = time.Millisecond
)

// DefaultHeldSignals are kept pending while waiting for the checkpoint
// notification and redelivered once the wait ends.
var DefaultHeldSignals = []syscall.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}

// ErrNotArmed is returned when a wait is attempted before Arm.
var ErrNotArmed = errors.New("handshake: not armed")

// Config configures a Handshake.
type Config struct {
	// CheckpointSignal carries the checkpoint channel (default SIGUSR1).
	CheckpointSignal syscall.Signal
	// StopSignal carries the stop/resume channel (default SIGUSR2).
	StopSignal syscall.Signal
	// NudgeInterval re-raises the checkpoint signal while waiting, for
	// controllers that poll for it. Zero disables nudging.
	NudgeInterval time.Duration
	// HeldSignals are blocked during the checkpoint wait. Nil selects
	// DefaultHeldSignals; an empty non-nil slice holds nothing.
	HeldSignals []syscall.Signal
}

func (c Config) withDefaults() Config {
	if c.CheckpointSignal == 0 {
		c.CheckpointSignal = DefaultCheckpointSignal
	}
	if c.StopSignal == 0 {
		c.StopSignal = DefaultStopSignal
	}
	if c.HeldSignals == nil {
		c.HeldSignals = DefaultHeldSignals
	}
	return c
}

// Handshake owns the tracked signal channels and their flags.
type Handshake struct {
	cfg      Config
	notifier Notifier

	sigs  chan os.Signal
	armed bool

	state        atomic.Int32
	usrInterrupt atomic.Bool
	resumed      atomic.Bool
	serverFinish atomic.Bool

	// counts are per channel observations, for diagnostics and tests.
	checkpointSeen atomic.Int64
	stopSeen       atomic.Int64

	mu      sync.Mutex
	blocked []syscall.Signal
}

// New creates an unarmed handshake. A nil notifier selects OSNotifier.
func New(cfg Config, notifier Notifier) *Handshake {
	if notifier == nil {
		notifier = OSNotifier{}
	}
	cfg = cfg.withDefaults()
	h := &Handshake{
		cfg:      cfg,
		notifier: notifier,
		sigs:     make(chan os.Signal, 16),
	}
	h.state.Store(int32(types.StateStarting))
	return h
}

// Config returns the effective configuration.
func (h *Handshake) Config() Config {
	return h.cfg
}

// Arm registers for both tracked signals. It must run before anything that
// can block, so no notification from the controller is lost to an
// unregistered handler.
func (h *Handshake) Arm() error {
	if h.armed {
		return nil
	}
	if h.cfg.CheckpointSignal == h.cfg.StopSignal {
		return fmt.Errorf("handshake: checkpoint and stop signals must differ (both %v)", h.cfg.CheckpointSignal)
	}
	h.notifier.Notify(h.sigs, h.cfg.CheckpointSignal, h.cfg.StopSignal)
	h.armed = true
	return nil
}

// Disarm stops relaying tracked signals.
func (h *Handshake) Disarm() {
	if !h.armed {
		return
	}
	h.notifier.Stop(h.sigs)
	h.armed = false
}

// Enter installs the handler behavior for state.
func (h *Handshake) Enter(state types.WorkerState) {
	h.pump()
	h.state.Store(int32(state))
}

// State returns the most recently installed state.
func (h *Handshake) State() types.WorkerState {
	return types.WorkerState(h.state.Load())
}

// InstallStopHook switches the stop channel to its serving meaning.
func (h *Handshake) InstallStopHook() {
	h.serverFinish.Store(false)
	h.Enter(types.StateServing)
}

// AnnounceReady raises the checkpoint signal against the current process and
// waits until that notification has been observed. While waiting, the held
// signals stay pending and are redelivered on return. Extra checkpoint
// notifications during the wait are absorbed.
func (h *Handshake) AnnounceReady(ctx context.Context) error {
	if !h.armed {
		return ErrNotArmed
	}
	h.Enter(types.StateAwaitingCheckpointSignal)

	release := h.hold()
	defer release()

	if err := h.notifier.Raise(h.cfg.CheckpointSignal); err != nil {
		return err
	}

	var nudge <-chan time.Time
	if h.cfg.NudgeInterval > 0 {
		ticker := time.NewTicker(h.cfg.NudgeInterval)
		defer ticker.Stop()
		nudge = ticker.C
	}

	for !h.usrInterrupt.Load() {
		select {
		case sig := <-h.sigs:
			h.handle(sig)
		case <-nudge:
			if err := h.notifier.Raise(h.cfg.CheckpointSignal); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// AwaitResume blocks until the stop channel fires in the Activated state,
// the post-restore half of the handshake.
func (h *Handshake) AwaitResume(ctx context.Context) error {
	if !h.armed {
		return ErrNotArmed
	}
	h.Enter(types.StateActivated)

	for !h.resumed.Load() {
		select {
		case sig := <-h.sigs:
			h.handle(sig)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ServerFinish reports whether a stop was observed while serving.
// It does not block.
func (h *Handshake) ServerFinish() bool {
	h.pump()
	return h.serverFinish.Load()
}

// Ready reports whether the checkpoint notification has been observed.
func (h *Handshake) Ready() bool {
	h.pump()
	return h.usrInterrupt.Load()
}

// RaiseDone raises the stop signal to tell the controller serving finished.
func (h *Handshake) RaiseDone() error {
	h.Enter(types.StateFinished)
	return h.notifier.Raise(h.cfg.StopSignal)
}

// Observed returns how many notifications each channel has delivered.
func (h *Handshake) Observed() (checkpoint, stop int64) {
	h.pump()
	return h.checkpointSeen.Load(), h.stopSeen.Load()
}

// Blocked returns the signals currently held pending.
func (h *Handshake) Blocked() []syscall.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]syscall.Signal, len(h.blocked))
	copy(out, h.blocked)
	return out
}

// pump dispatches every notification already relayed, without blocking.
func (h *Handshake) pump() {
	for {
		select {
		case sig := <-h.sigs:
			h.handle(sig)
		default:
			return
		}
	}
}

func (h *Handshake) handle(sig os.Signal) {
	var ch Channel
	switch sig {
	case h.cfg.CheckpointSignal:
		ch = ChannelCheckpoint
		h.checkpointSeen.Add(1)
	case h.cfg.StopSignal:
		ch = ChannelStop
		h.stopSeen.Add(1)
	default:
		return
	}

	switch Lookup(h.State(), ch) {
	case ActionMarkReady:
		h.usrInterrupt.Store(true)
	case ActionMarkResumed:
		h.resumed.Store(true)
	case ActionMarkFinish:
		h.serverFinish.Store(true)
	}
}

// hold keeps the held signals pending until the returned release runs, which
// restores the previous blocked set and redelivers what arrived meanwhile.
func (h *Handshake) hold() (release func()) {
	if len(h.cfg.HeldSignals) == 0 {
		return func() {}
	}

	held := make(chan os.Signal, len(h.cfg.HeldSignals))
	sigs := make([]os.Signal, len(h.cfg.HeldSignals))
	for i, s := range h.cfg.HeldSignals {
		sigs[i] = s
	}

	h.mu.Lock()
	previous := h.blocked
	h.blocked = append(append([]syscall.Signal(nil), previous...), h.cfg.HeldSignals...)
	h.mu.Unlock()

	h.notifier.Notify(held, sigs...)

	return func() {
		h.notifier.Stop(held)

		h.mu.Lock()
		h.blocked = previous
		h.mu.Unlock()

		pending := map[syscall.Signal]bool{}
		for {
			select {
			case s := <-held:
				if ss, ok := s.(syscall.Signal); ok && !pending[ss] {
					pending[ss] = true
					_ = h.notifier.Raise(ss)
				}
			default:
				return
			}
		}
	}
}
