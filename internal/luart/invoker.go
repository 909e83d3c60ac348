package luart

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luabus/internal/bus"
)

// HandlerInvoker implements match.Invoker by re-entering a gopher-lua
// state. It must only be driven from the goroutine that owns the state;
// the bus dispatches synchronously on that goroutine, so no further
// locking is needed here.
type HandlerInvoker struct {
	L      *lua.LState
	bridge *Bridge
}

// NewHandlerInvoker creates an invoker for the given state.
func NewHandlerInvoker(L *lua.LState) *HandlerInvoker {
	return &HandlerInvoker{L: L, bridge: NewBridge(L)}
}

// Invoke calls the handler with (id, message, user). The message may be
// nil for non-message callbacks such as timer expiry. The stack is
// restored to its pre-invoke depth on every path, so repeated dispatch
// on a long-lived connection cannot grow the stack.
func (iv *HandlerInvoker) Invoke(id string, handler any, msg *bus.Message, user any) error {
	fn, ok := handler.(*lua.LFunction)
	if !ok {
		return ErrNotAFunction
	}

	L := iv.L
	base := L.GetTop()
	defer L.SetTop(base)

	L.Push(fn)
	L.Push(lua.LString(id))
	if msg != nil {
		L.Push(WrapMessage(L, msg))
	} else {
		L.Push(lua.LNil)
	}
	L.Push(iv.bridge.ToLua(user))

	return L.PCall(3, 0, nil)
}

// WrapMessage exposes a bus message to Lua as a table view. The table is
// a copy of the header fields and matchable arguments; retaining it
// beyond the callback is safe.
func WrapMessage(L *lua.LState, msg *bus.Message) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("type", lua.LString(msg.Type.String()))
	if msg.Serial != "" {
		t.RawSetString("serial", lua.LString(msg.Serial))
	}
	if msg.Sender != "" {
		t.RawSetString("sender", lua.LString(msg.Sender))
	}
	if msg.Destination != "" {
		t.RawSetString("destination", lua.LString(msg.Destination))
	}
	if msg.Path != "" {
		t.RawSetString("path", lua.LString(msg.Path))
	}
	if msg.Interface != "" {
		t.RawSetString("interface", lua.LString(msg.Interface))
	}
	if msg.Member != "" {
		t.RawSetString("member", lua.LString(msg.Member))
	}

	args := L.NewTable()
	for i, arg := range msg.Args {
		entry := L.NewTable()
		entry.RawSetString("value", lua.LString(arg.Value))
		entry.RawSetString("path", lua.LBool(arg.IsPath))
		args.RawSetInt(i+1, entry)
	}
	t.RawSetString("args", args)
	return t
}
