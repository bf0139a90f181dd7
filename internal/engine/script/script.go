// Package script compiles Lua sources into inline-layer dispatch handlers.
// Each invocation runs the chunk in a fresh interpreter with a small API
// bound to the current call, so scripts cannot leak state between steps. A
// chunk returns its result value and, optionally, a second boolean that
// short-circuits the rest of the chain.
package script

import (
	"context"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/louisbranch/weave/internal/engine/dispatch"
	"github.com/louisbranch/weave/internal/engine/entity"
	apperrors "github.com/louisbranch/weave/internal/platform/errors"
)

// Handler compiles source into an inline-layer handler for task. The source
// is parsed once up front so registration fails fast on syntax errors.
func Handler(name, task, source string) (dispatch.Handler, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return dispatch.Handler{}, apperrors.New(apperrors.CodeHandlerNameEmpty, "script handler name is required")
	}
	if err := lua.LoadString(lua.NewState(), source); err != nil {
		return dispatch.Handler{}, apperrors.WrapWithMetadata(apperrors.CodeHandlerError, "script does not compile", map[string]string{
			"handler": name,
		}, err)
	}
	return dispatch.Handler{
		Name:  name,
		Task:  task,
		Layer: dispatch.LayerInline,
		Fn:    run(source),
	}, nil
}

// OwnedHandler is Handler restricted to a single caller entity, the usual
// shape for scripts attached to one node or edge.
func OwnedHandler(name, task string, owner entity.UID, source string) (dispatch.Handler, error) {
	h, err := Handler(name, task, source)
	if err != nil {
		return dispatch.Handler{}, err
	}
	h.Owner = owner
	return h, nil
}

func run(source string) dispatch.Func {
	return func(ctx context.Context, call dispatch.Call) (dispatch.Result, error) {
		if err := ctx.Err(); err != nil {
			return dispatch.Result{}, err
		}
		state := lua.NewState()
		lua.OpenLibraries(state)
		bind(state, call)

		if err := lua.LoadString(state, source); err != nil {
			return dispatch.Result{}, apperrors.Wrap(apperrors.CodeHandlerError, "script does not compile", err)
		}
		if err := state.ProtectedCall(0, lua.MultipleReturns, 0); err != nil {
			return dispatch.Result{}, apperrors.Wrap(apperrors.CodeHandlerError, "script failed", err)
		}

		var result dispatch.Result
		top := state.Top()
		if top >= 1 {
			result.Value = toGo(state, 1)
		}
		if top >= 2 {
			result.Done = state.ToBoolean(2)
		}
		return result, nil
	}
}

// bind installs the call-scoped API: caller (global string), lookup(key),
// arg(name), attr(uid, key), and set_attr(uid, key, value). Attribute
// writes go through the graph so they are journaled like any other effect.
func bind(state *lua.State, call dispatch.Call) {
	if call.Caller != nil {
		state.PushString(string(call.Caller.UID))
	} else {
		state.PushString("")
	}
	state.SetGlobal("caller")

	state.Register("lookup", func(l *lua.State) int {
		key := lua.CheckString(l, 1)
		if call.Namespace == nil {
			l.PushNil()
			return 1
		}
		value, ok := call.Namespace.Lookup(key)
		if !ok {
			l.PushNil()
			return 1
		}
		pushGo(l, value)
		return 1
	})

	state.Register("arg", func(l *lua.State) int {
		name := lua.CheckString(l, 1)
		value, ok := call.Args[name]
		if !ok {
			l.PushNil()
			return 1
		}
		pushGo(l, value)
		return 1
	})

	state.Register("attr", func(l *lua.State) int {
		uid := lua.CheckString(l, 1)
		key := lua.CheckString(l, 2)
		if call.Graph == nil {
			l.PushNil()
			return 1
		}
		e, ok := call.Graph.Get(entity.UID(uid))
		if !ok {
			l.PushNil()
			return 1
		}
		value, ok := e.Attr(key)
		if !ok {
			l.PushNil()
			return 1
		}
		pushGo(l, value)
		return 1
	})

	state.Register("set_attr", func(l *lua.State) int {
		uid := lua.CheckString(l, 1)
		key := lua.CheckString(l, 2)
		value := toGo(l, 3)
		if call.Graph == nil {
			lua.Errorf(l, "set_attr: no graph bound")
			return 0
		}
		if err := call.Graph.SetAttr(entity.UID(uid), key, value); err != nil {
			lua.Errorf(l, "set_attr: %s", err.Error())
			return 0
		}
		return 0
	})
}

// toGo converts simple Lua values; anything else maps to nil.
func toGo(state *lua.State, index int) any {
	switch state.TypeOf(index) {
	case lua.TypeBoolean:
		return state.ToBoolean(index)
	case lua.TypeNumber:
		n, _ := state.ToNumber(index)
		return n
	case lua.TypeString:
		s, _ := state.ToString(index)
		return s
	}
	return nil
}

func pushGo(state *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		state.PushNil()
	case bool:
		state.PushBoolean(v)
	case int:
		state.PushNumber(float64(v))
	case int64:
		state.PushNumber(float64(v))
	case float64:
		state.PushNumber(v)
	case string:
		state.PushString(v)
	default:
		state.PushNil()
	}
}
