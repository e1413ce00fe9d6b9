package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// maxConvertDepth bounds table nesting when converting to JSON, which also
// stops self-referencing tables.
const maxConvertDepth = 64

// luaEngine runs handlers written in Lua 5.1.
type luaEngine struct {
	opts   Options
	L      *lua.LState
	loaded bool
}

type luaHandler struct {
	name string
	fn   *lua.LFunction
}

func (h *luaHandler) EntryPoint() string { return h.name }

func newLua(opts Options) Engine {
	return &luaEngine{opts: opts}
}

func (e *luaEngine) Name() string { return "lua" }

func (e *luaEngine) Start(identity string) error {
	L := lua.NewState()
	L.SetGlobal("print", L.NewFunction(e.print))
	L.SetGlobal("_WORKER", lua.LString(identity))
	e.L = L
	return nil
}

func (e *luaEngine) print(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	e.opts.Print(strings.Join(parts, "\t"))
	return 0
}

func (e *luaEngine) LoadHandler(source string) (Handler, error) {
	if e.L == nil {
		return nil, &HandlerLoadError{Msg: "cannot load handler", Err: ErrNotStarted}
	}
	if e.loaded {
		return nil, &HandlerLoadError{Msg: "cannot load handler", Err: ErrAlreadyLoaded}
	}
	L := e.L

	chunk, err := L.LoadString(source)
	if err != nil {
		return nil, &HandlerLoadError{Msg: "could not load handler", Diagnostic: err.Error(), Err: err}
	}

	// Fresh namespace that still sees the standard library.
	env := L.NewTable()
	meta := L.NewTable()
	L.SetField(meta, "__index", L.G.Global)
	L.SetMetatable(env, meta)
	L.SetFEnv(chunk, env)

	if err := L.CallByParam(lua.P{Fn: chunk, NRet: 0, Protect: true}); err != nil {
		return nil, &HandlerLoadError{Msg: "could not load handler", Diagnostic: luaDiagnostic(err), Err: err}
	}

	value := env.RawGetString(e.opts.EntryPoint)
	if value == lua.LNil {
		return nil, &HandlerLoadError{Msg: fmt.Sprintf("handler does not define %q", e.opts.EntryPoint)}
	}
	fn, ok := value.(*lua.LFunction)
	if !ok {
		return nil, &HandlerLoadError{Msg: fmt.Sprintf("%q is a %s, not a function", e.opts.EntryPoint, value.Type())}
	}

	e.loaded = true
	return &luaHandler{name: e.opts.EntryPoint, fn: fn}, nil
}

func (e *luaEngine) Invoke(ctx context.Context, h Handler, request json.RawMessage) (json.RawMessage, error) {
	lh, ok := h.(*luaHandler)
	if !ok {
		return nil, &InvocationError{Msg: fmt.Sprintf("handler %T does not belong to the lua engine", h)}
	}
	L := e.L

	var v any
	if err := json.Unmarshal(request, &v); err != nil {
		return nil, &InvocationError{Msg: "could not load request json", Err: err}
	}

	L.SetContext(ctx)
	defer L.RemoveContext()

	if err := L.CallByParam(lua.P{Fn: lh.fn, NRet: 1, Protect: true}, toLua(L, v)); err != nil {
		return nil, &InvocationError{Msg: "failure in handle call", Diagnostic: luaDiagnostic(err), Err: err}
	}
	ret := L.Get(-1)
	L.Pop(1)

	out, err := fromLua(ret, 0)
	if err != nil {
		return nil, &InvocationError{Msg: "could not dump response json", Err: err}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, &InvocationError{Msg: "could not dump response json", Err: err}
	}
	return data, nil
}

func (e *luaEngine) Close() error {
	if e.L != nil {
		e.L.Close()
		e.L = nil
	}
	return nil
}

func luaDiagnostic(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.StackTrace != "" {
		return apiErr.Object.String() + "\n" + apiErr.StackTrace
	}
	return err.Error()
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case float64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case []any:
		t := L.CreateTable(len(x), 0)
		for i, item := range x {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(x))
		for k, item := range x {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

// fromLua converts a Lua value into something encoding/json can marshal.
// A table whose keys are exactly 1..n becomes an array; any other table,
// including an empty one, becomes an object.
func fromLua(v lua.LValue, depth int) (any, error) {
	if depth > maxConvertDepth {
		return nil, errors.New("table nesting too deep")
	}
	switch x := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(x), nil
	case lua.LNumber:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("number %v is not representable in json", f)
		}
		return f, nil
	case lua.LString:
		return string(x), nil
	case *lua.LTable:
		return tableFromLua(x, depth)
	default:
		return nil, fmt.Errorf("cannot convert %s to json", v.Type())
	}
}

func tableFromLua(t *lua.LTable, depth int) (any, error) {
	n := t.MaxN()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if n > 0 && count == n {
		arr := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			item, err := fromLua(t.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, item)
		}
		return arr, nil
	}

	obj := make(map[string]any, count)
	var convErr error
	t.ForEach(func(k, item lua.LValue) {
		if convErr != nil {
			return
		}
		var key string
		switch kk := k.(type) {
		case lua.LString:
			key = string(kk)
		case lua.LNumber:
			key = strconv.FormatFloat(float64(kk), 'f', -1, 64)
		default:
			convErr = fmt.Errorf("cannot use %s as a json object key", k.Type())
			return
		}
		val, err := fromLua(item, depth+1)
		if err != nil {
			convErr = err
			return
		}
		obj[key] = val
	})
	if convErr != nil {
		return nil, convErr
	}
	return obj, nil
}
