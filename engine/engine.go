// Package engine binds the embedded interpreters that run user handlers.
//
// An Engine is started once per process, loads exactly one handler artifact,
// and then invokes the handler's entry point once per request with a JSON
// value in and a JSON value out. Handlers are not sandboxed: isolation of the
// whole worker process is the platform's job.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// DefaultEntryPoint is the name of the function a handler must define.
const DefaultEntryPoint = "handle"

// Options configures an engine.
type Options struct {
	// EntryPoint is the handler function name (default "handle").
	EntryPoint string
	// Print receives output from the handler's print statements.
	// Nil discards it.
	Print func(msg string)
}

func (o Options) withDefaults() Options {
	if o.EntryPoint == "" {
		o.EntryPoint = DefaultEntryPoint
	}
	if o.Print == nil {
		o.Print = func(string) {}
	}
	return o
}

// Handler is a loaded entry point.
type Handler interface {
	// EntryPoint returns the resolved function name.
	EntryPoint() string
}

// Engine is an embedded computation runtime.
type Engine interface {
	// Name returns the registered engine name.
	Name() string
	// Start performs one-time bootstrap.
	Start(identity string) error
	// LoadHandler executes source in a fresh namespace and resolves the entry
	// point. It succeeds at most once per engine.
	LoadHandler(source string) (Handler, error)
	// Invoke calls the entry point with one JSON argument.
	Invoke(ctx context.Context, h Handler, request json.RawMessage) (json.RawMessage, error)
	// Close releases the runtime.
	Close() error
}

// Factory constructs an engine.
type Factory func(opts Options) Engine

var registry = map[string]Factory{
	"starlark": newStarlark,
	"lua":      newLua,
}

// Names returns the registered engine names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the named engine. Unknown names are bootstrap failures.
func New(name string, opts Options) (Engine, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, &BootstrapError{
			Engine: name,
			Err:    fmt.Errorf("unknown engine (available: %v)", Names()),
		}
	}
	return factory(opts.withDefaults()), nil
}

// ErrAlreadyLoaded is wrapped by a second LoadHandler call.
var ErrAlreadyLoaded = errors.New("handler already loaded")

// ErrNotStarted is wrapped when an engine is used before Start.
var ErrNotStarted = errors.New("engine not started")

// BootstrapError reports an engine that could not start.
type BootstrapError struct {
	Engine string
	Err    error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("engine %q bootstrap failed: %v", e.Engine, e.Err)
}

func (e *BootstrapError) Unwrap() error {
	return e.Err
}

// HandlerLoadError reports a handler that failed to execute or lacks a
// callable entry point.
type HandlerLoadError struct {
	Msg string
	// Diagnostic is the interpreter's own report, when there is one.
	Diagnostic string
	Err        error
}

func (e *HandlerLoadError) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("%s: %s", e.Msg, e.Diagnostic)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *HandlerLoadError) Unwrap() error {
	return e.Err
}

// InvocationError reports a failure raised while running the entry point or
// marshaling its argument or result.
type InvocationError struct {
	Msg        string
	Diagnostic string
	Err        error
}

func (e *InvocationError) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("%s: %s", e.Msg, e.Diagnostic)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}
