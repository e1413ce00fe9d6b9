package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// handlerFileOptions enables the Python constructs handlers are written with:
// while loops, top-level control flow, global reassignment, recursion and sets.
var handlerFileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// starlarkEngine runs handlers written in Starlark, a Python dialect.
// The json module is predeclared and also does request/response marshaling.
type starlarkEngine struct {
	opts     Options
	identity string
	started  bool
	loaded   bool
	decode   starlark.Value
	encode   starlark.Value
}

type starlarkHandler struct {
	name string
	fn   starlark.Callable
}

func (h *starlarkHandler) EntryPoint() string { return h.name }

func newStarlark(opts Options) Engine {
	return &starlarkEngine{opts: opts}
}

func (e *starlarkEngine) Name() string { return "starlark" }

func (e *starlarkEngine) Start(identity string) error {
	decode, ok := starlarkjson.Module.Members["decode"]
	if !ok {
		return &BootstrapError{Engine: e.Name(), Err: errors.New("json.decode unavailable")}
	}
	encode, ok := starlarkjson.Module.Members["encode"]
	if !ok {
		return &BootstrapError{Engine: e.Name(), Err: errors.New("json.encode unavailable")}
	}
	e.decode, e.encode = decode, encode
	e.identity = identity
	e.started = true
	return nil
}

func (e *starlarkEngine) thread() *starlark.Thread {
	return &starlark.Thread{
		Name:  e.identity,
		Print: func(_ *starlark.Thread, msg string) { e.opts.Print(msg) },
	}
}

func (e *starlarkEngine) LoadHandler(source string) (Handler, error) {
	if !e.started {
		return nil, &HandlerLoadError{Msg: "cannot load handler", Err: ErrNotStarted}
	}
	if e.loaded {
		return nil, &HandlerLoadError{Msg: "cannot load handler", Err: ErrAlreadyLoaded}
	}

	predeclared := starlark.StringDict{"json": starlarkjson.Module}
	globals, err := starlark.ExecFileOptions(handlerFileOptions, e.thread(), "handler.star", source, predeclared)
	if err != nil {
		return nil, &HandlerLoadError{Msg: "could not load handler", Diagnostic: starlarkDiagnostic(err), Err: err}
	}

	value, ok := globals[e.opts.EntryPoint]
	if !ok {
		return nil, &HandlerLoadError{Msg: fmt.Sprintf("handler does not define %q", e.opts.EntryPoint)}
	}
	fn, ok := value.(starlark.Callable)
	if !ok {
		return nil, &HandlerLoadError{Msg: fmt.Sprintf("%q is a %s, not a function", e.opts.EntryPoint, value.Type())}
	}

	e.loaded = true
	return &starlarkHandler{name: e.opts.EntryPoint, fn: fn}, nil
}

func (e *starlarkEngine) Invoke(ctx context.Context, h Handler, request json.RawMessage) (json.RawMessage, error) {
	sh, ok := h.(*starlarkHandler)
	if !ok {
		return nil, &InvocationError{Msg: fmt.Sprintf("handler %T does not belong to the starlark engine", h)}
	}

	thread := e.thread()
	stop := context.AfterFunc(ctx, func() { thread.Cancel(context.Cause(ctx).Error()) })
	defer stop()

	arg, err := starlark.Call(thread, e.decode, starlark.Tuple{starlark.String(request)}, nil)
	if err != nil {
		return nil, &InvocationError{Msg: "could not load request json", Diagnostic: starlarkDiagnostic(err), Err: err}
	}

	result, err := starlark.Call(thread, sh.fn, starlark.Tuple{arg}, nil)
	if err != nil {
		return nil, &InvocationError{Msg: "failure in handle call", Diagnostic: starlarkDiagnostic(err), Err: err}
	}

	out, err := starlark.Call(thread, e.encode, starlark.Tuple{result}, nil)
	if err != nil {
		return nil, &InvocationError{Msg: "could not dump response json", Diagnostic: starlarkDiagnostic(err), Err: err}
	}
	s, ok := starlark.AsString(out)
	if !ok {
		return nil, &InvocationError{Msg: fmt.Sprintf("json.encode returned %s", out.Type())}
	}
	return json.RawMessage(s), nil
}

func (e *starlarkEngine) Close() error {
	e.started = false
	return nil
}

func starlarkDiagnostic(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	return err.Error()
}
