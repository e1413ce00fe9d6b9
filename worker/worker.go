// Package worker runs the function worker state machine.
//
// A worker announces that it is ready to be checkpointed, receives one handler
// from its controller, and then answers requests one line at a time until the
// controller signals stop. It never exits on its own after that: it raises the
// done notification and parks until its supervisor terminates it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/justapithecus/warmstart/engine"
	"github.com/justapithecus/warmstart/handshake"
	"github.com/justapithecus/warmstart/ipc"
	"github.com/justapithecus/warmstart/log"
	"github.com/justapithecus/warmstart/metrics"
	"github.com/justapithecus/warmstart/types"
)

// Options wires a worker to its environment. Zero values select the process
// defaults (stdin, stdout, OS signals, no journal).
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	// Poller overrides input readiness checks. Nil polls Stdin's descriptor
	// when it is an *os.File.
	Poller   Poller
	Journal  io.Writer
	Notifier handshake.Notifier
	Logger   *log.Logger
	Metrics  *metrics.Collector
	// Identity is passed to the engine at start (default os.Args[0]).
	Identity string
	Pid      int
}

// Worker drives one worker process lifetime.
type Worker struct {
	cfg      Config
	identity string
	pid      int

	in      *ipc.LineDecoder
	poller  Poller
	emitter *Emitter
	hs      *handshake.Handshake
	eng     engine.Engine
	handler engine.Handler
	logger  *log.Logger
	metrics *metrics.Collector

	state atomic.Int32
}

// New builds a worker. It fails only on invalid configuration or an unknown
// engine name; nothing is emitted before Run.
func New(cfg Config, opts Options) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}

	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector(cfg.WorkerID, cfg.Engine)
	}
	if opts.Pid == 0 {
		opts.Pid = os.Getpid()
	}
	if opts.Identity == "" && len(os.Args) > 0 {
		opts.Identity = os.Args[0]
	}
	if opts.Poller == nil {
		if f, ok := opts.Stdin.(*os.File); ok {
			opts.Poller = NewFDPoller(f)
		} else {
			opts.Poller = alwaysReady{}
		}
	}

	w := &Worker{
		cfg:      cfg,
		identity: opts.Identity,
		pid:      opts.Pid,
		in:       ipc.NewLineDecoder(opts.Stdin, cfg.MaxLineBytes),
		poller:   opts.Poller,
		emitter:  NewEmitter(opts.Stdout, opts.Journal, opts.Metrics, opts.Logger),
		hs:       handshake.New(cfg.Handshake, opts.Notifier),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	w.state.Store(int32(types.StateStarting))

	eng, err := engine.New(cfg.Engine, engine.Options{
		EntryPoint: cfg.EntryPoint,
		Print:      func(msg string) { _ = w.emitter.Log(msg) },
	})
	if err != nil {
		return nil, err
	}
	w.eng = eng
	return w, nil
}

// State returns the current worker state.
func (w *Worker) State() types.WorkerState {
	return types.WorkerState(w.state.Load())
}

// Run executes the worker lifecycle. It returns nil when ctx is cancelled
// after serving finished, ctx.Err() when cancelled earlier, and a
// *FatalError when the worker cannot continue.
func (w *Worker) Run(ctx context.Context) error {
	defer func() { _ = w.eng.Close() }()
	defer w.hs.Disarm()

	_ = w.emitter.Logf("Pid: %d", w.pid)
	w.logger.Info("worker starting", map[string]any{"engine": w.cfg.Engine})

	if err := w.hs.Arm(); err != nil {
		return w.fatal(HandshakeFailure, err)
	}

	if err := w.eng.Start(w.identity); err != nil {
		return w.fatal(BootstrapFailure, err)
	}
	_ = w.emitter.Logf("%s started", w.eng.Name())

	if err := w.transition(types.StateAwaitingCheckpointSignal, "awaiting checkpoint signal"); err != nil {
		return err
	}
	if err := w.hs.AnnounceReady(ctx); err != nil {
		return w.waitErr(err)
	}
	if err := w.transition(types.StateActivated, "activated"); err != nil {
		return err
	}

	if w.cfg.AwaitResume {
		if err := w.hs.AwaitResume(ctx); err != nil {
			return w.waitErr(err)
		}
		_ = w.emitter.Log("resumed")
	}

	if err := w.loadHandler(ctx); err != nil {
		return err
	}

	if err := w.transition(types.StateServing, "serving"); err != nil {
		return err
	}
	w.hs.InstallStopHook()

	if err := w.serve(ctx); err != nil {
		return err
	}

	return w.finish(ctx)
}

// transition emits msg and then moves to next.
func (w *Worker) transition(next types.WorkerState, msg string) error {
	current := w.State()
	if !current.CanTransition(next) {
		return w.fatal(ProtocolFailure, fmt.Errorf("illegal transition %s -> %s", current, next))
	}
	if err := w.emitter.Log(msg); err != nil {
		return &FatalError{Kind: ProtocolFailure, Err: err}
	}
	w.state.Store(int32(next))
	w.emitter.SetState(next)
	w.hs.Enter(next)
	w.logger.Debug("state transition", map[string]any{"state": next.String()})
	return nil
}

// fatal reports err as the final Error envelope.
func (w *Worker) fatal(kind FatalKind, err error) error {
	_ = w.emitter.Error(err.Error())
	w.logger.Error("worker failed", map[string]any{"kind": kind.String(), "error": err.Error()})
	return &FatalError{Kind: kind, Err: err}
}

func (w *Worker) waitErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return w.fatal(HandshakeFailure, err)
}

func (w *Worker) trace(format string, args ...any) {
	if w.cfg.Trace {
		_ = w.emitter.Logf(format, args...)
	}
}

// waitLine polls until a line can be read or ctx ends.
func (w *Worker) waitLine(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ready, err := w.inputReady()
		if err != nil {
			return nil, err
		}
		if ready {
			return w.in.ReadLine()
		}
	}
}

func (w *Worker) inputReady() (bool, error) {
	if w.in.Buffered() > 0 {
		return true, nil
	}
	return w.poller.Ready(w.cfg.PollInterval)
}

func (w *Worker) loadHandler(ctx context.Context) error {
	w.trace("starting function json load")

	line, err := w.waitLine(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return w.fatal(ProtocolFailure, errors.New("input closed before handler was received"))
		}
		return w.fatal(ProtocolFailure, fmt.Errorf("read handler: %w", err))
	}

	msg, err := ipc.DecodeHandler(line)
	if err != nil {
		return w.fatal(ProtocolFailure, fmt.Errorf("decode handler: %w", err))
	}
	w.trace("%s", msg.Handler)

	start := time.Now()
	h, err := w.eng.LoadHandler(msg.Handler)
	if err != nil {
		return w.fatal(HandlerLoadFailure, err)
	}
	w.metrics.SetHandlerLoadTime(time.Since(start))
	w.handler = h

	if err := w.transition(types.StateHandlerLoaded, "handle function successfully loaded"); err != nil {
		return err
	}
	if err := w.emitter.Emit(types.NewFunctionLoaded()); err != nil {
		return &FatalError{Kind: ProtocolFailure, Err: err}
	}
	return nil
}

// serve answers requests until the stop flag is set or input ends.
func (w *Worker) serve(ctx context.Context) error {
	for !w.hs.ServerFinish() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.emitter.Err(); err != nil {
			return &FatalError{Kind: ProtocolFailure, Err: err}
		}

		ready, err := w.inputReady()
		if err != nil {
			return w.fatal(ProtocolFailure, fmt.Errorf("poll input: %w", err))
		}
		if !ready {
			continue
		}

		line, err := w.in.ReadLine()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			_ = w.emitter.Log("input closed")
			return nil
		case ipc.IsLineError(err, ipc.LineErrorTooLarge):
			w.metrics.IncRequestReceived()
			w.protocolError(err)
			continue
		default:
			return w.fatal(ProtocolFailure, fmt.Errorf("read request: %w", err))
		}

		if err := w.handle(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) protocolError(err error) {
	w.metrics.IncProtocolError()
	_ = w.emitter.Error(fmt.Sprintf("invalid request: %v", err))
	w.logger.Warn("invalid request", map[string]any{"error": err.Error()})
}

// handle processes one request line. Only fatal errors are returned.
func (w *Worker) handle(ctx context.Context, line []byte) error {
	w.metrics.IncRequestReceived()

	msg, err := ipc.DecodeRequest(line)
	if err != nil {
		w.protocolError(err)
		return nil
	}
	value, err := ipc.RequestValue(msg)
	if err != nil {
		w.protocolError(err)
		return nil
	}
	w.trace("%s", value)

	start := time.Now()
	out, err := w.eng.Invoke(ctx, w.handler, value)
	elapsed := time.Since(start)
	if err != nil {
		w.metrics.ObserveInvocationError(elapsed)
		if w.cfg.FatalInvocationErrors {
			return w.fatal(InvocationFailure, err)
		}
		_ = w.emitter.Error(err.Error())
		w.logger.Warn("invocation failed", map[string]any{"error": err.Error()})
		return nil
	}
	w.metrics.ObserveServed(elapsed)
	w.trace("handle called")

	if err := w.emitter.Emit(types.NewResponse(out)); err != nil {
		return &FatalError{Kind: ProtocolFailure, Err: err}
	}
	return nil
}

// finish announces the end of serving and parks until ctx ends.
func (w *Worker) finish(ctx context.Context) error {
	w.metrics.SetSignals(w.hs.Observed())
	snap := w.metrics.Snapshot()

	if err := w.transition(types.StateFinished, "finished server"); err != nil {
		return err
	}
	_ = w.emitter.Logf("served %d requests (%d invocation errors, %d protocol errors)",
		snap.RequestsServed, snap.InvocationErrors, snap.ProtocolErrors)
	w.logger.Info("worker finished", snap.Fields())

	if err := w.hs.RaiseDone(); err != nil {
		w.logger.Warn("raise done signal failed", map[string]any{"error": err.Error()})
	}

	ticker := time.NewTicker(w.cfg.ParkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
