package worker

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/justapithecus/warmstart/ipc"
	"github.com/justapithecus/warmstart/log"
	"github.com/justapithecus/warmstart/metrics"
	"github.com/justapithecus/warmstart/types"
)

// Ordering violations. These indicate a worker bug, never controller input.
var (
	ErrResponseBeforeLoad  = errors.New("response emitted before function_loaded")
	ErrLoadedBeforeHandler = errors.New("function_loaded emitted before handler_loaded")
	ErrDuplicateLoaded     = errors.New("function_loaded emitted twice")
)

// Emitter writes envelopes to the controller stream, one flushed line each,
// and tees them into the journal when one is configured.
//
// The first write failure is sticky: later emits return it without writing.
type Emitter struct {
	mu      sync.Mutex
	enc     *ipc.LineEncoder
	journal *ipc.JournalWriter
	metrics *metrics.Collector
	logger  *log.Logger

	state  types.WorkerState
	loaded bool
	err    error
}

// NewEmitter creates an emitter writing to out. journal may be nil.
func NewEmitter(out io.Writer, journal io.Writer, m *metrics.Collector, logger *log.Logger) *Emitter {
	e := &Emitter{
		enc:     ipc.NewLineEncoder(out),
		metrics: m,
		logger:  logger,
	}
	if journal != nil {
		e.journal = ipc.NewJournalWriter(journal)
	}
	return e
}

// SetState records the worker state used by the ordering checks.
func (e *Emitter) SetState(s types.WorkerState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Emit writes env.
func (e *Emitter) Emit(env types.Envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.err != nil {
		return e.err
	}

	switch env.Kind {
	case types.KindResponse:
		if !e.loaded {
			return ErrResponseBeforeLoad
		}
	case types.KindFunctionLoaded:
		if e.loaded {
			return ErrDuplicateLoaded
		}
		if e.state < types.StateHandlerLoaded {
			return ErrLoadedBeforeHandler
		}
	}

	if err := e.enc.Encode(env); err != nil {
		e.err = fmt.Errorf("emit: %w", err)
		return e.err
	}
	if env.Kind == types.KindFunctionLoaded {
		e.loaded = true
	}
	e.metrics.IncEnvelope(string(env.Kind))

	if e.journal != nil {
		if err := e.journal.Append(env); err != nil {
			// The journal is a diagnostic copy; losing it must not stop serving.
			e.metrics.IncJournalError()
			e.logger.Warn("journal append failed", map[string]any{"error": err.Error(), "type": string(env.Kind)})
		}
	}
	return nil
}

// Log emits a Log envelope.
func (e *Emitter) Log(msg string) error {
	return e.Emit(types.NewLog(msg))
}

// Logf emits a formatted Log envelope.
func (e *Emitter) Logf(format string, args ...any) error {
	return e.Emit(types.NewLog(fmt.Sprintf(format, args...)))
}

// Error emits an Error envelope.
func (e *Emitter) Error(msg string) error {
	return e.Emit(types.NewError(msg))
}

// Err returns the sticky write error, if any.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}
