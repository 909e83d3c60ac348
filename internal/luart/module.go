package luart

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luabus/internal/bus"
	"github.com/dshills/luabus/internal/logging"
	"github.com/dshills/luabus/internal/match"
	"github.com/dshills/luabus/internal/reflist"
	"github.com/dshills/luabus/internal/timeout"
)

// refTableKey is the global under which held references are pinned.
const refTableKey = "_luabus_refs"

// inlineRunner runs submissions immediately. Used when everything
// already happens on the Lua-owning goroutine.
type inlineRunner struct{}

func (inlineRunner) Submit(fn func()) error {
	fn()
	return nil
}

// ModuleConfig configures a Module.
type ModuleConfig struct {
	// Conn is the bus connection subscriptions are registered on.
	Conn *bus.Connection

	// Clock drives timers. Nil selects the real clock.
	Clock clock.Clock

	// Runner serializes timer expiry onto the Lua goroutine. Nil runs
	// expiry inline, which is only correct when the clock fires on the
	// Lua goroutine (tests with a mock clock).
	Runner timeout.Runner

	// Log receives handler and teardown diagnostics.
	Log *logging.Logger
}

// Module is the Lua-facing bus API bound to one connection. It owns the
// reference registry tracking every outstanding match and timer, so
// Close can tear the whole connection's subscriptions down in one pass.
type Module struct {
	L        *lua.LState
	conn     *bus.Connection
	engine   *match.Engine
	timers   *timeout.Engine
	refs     *RefTable
	registry *reflist.Registry
	bridge   *Bridge
	log      *logging.Logger
}

// NewModule assembles the runtime layer for a state and connection.
func NewModule(L *lua.LState, cfg ModuleConfig) *Module {
	log := cfg.Log
	if log == nil {
		log = logging.Null
	}
	runner := cfg.Runner
	if runner == nil {
		runner = inlineRunner{}
	}

	refs := NewRefTable(L, refTableKey)
	inv := NewHandlerInvoker(L)

	m := &Module{
		L:        L,
		conn:     cfg.Conn,
		engine:   match.NewEngine(refs, inv, log),
		timers:   timeout.NewEngine(cfg.Clock, refs, inv, runner, log),
		refs:     refs,
		registry: reflist.New(refs),
		bridge:   NewBridge(L),
		log:      log,
	}
	// A fired one-shot would otherwise stay in the registry forever.
	m.timers.OnComplete(func(t *timeout.Timer) {
		m.Remove(t.ID())
	})
	return m
}

// Register installs the "bus" global table.
func (m *Module) Register() error {
	mod := m.L.NewTable()
	m.L.SetField(mod, "subscribe", m.L.NewFunction(m.subscribe))
	m.L.SetField(mod, "unsubscribe", m.L.NewFunction(m.unsubscribe))
	m.L.SetField(mod, "after", m.L.NewFunction(m.after))
	m.L.SetField(mod, "every", m.L.NewFunction(m.every))
	m.L.SetField(mod, "cancel", m.L.NewFunction(m.unsubscribe))
	m.L.SetField(mod, "publish", m.L.NewFunction(m.publish))
	m.L.SetField(mod, "count", m.L.NewFunction(m.count))
	m.L.SetGlobal("bus", mod)
	return nil
}

// Registry exposes the subscription registry for teardown accounting.
func (m *Module) Registry() *reflist.Registry {
	return m.registry
}

// Close disposes every outstanding match and timer and unpins all held
// references. Safe to call more than once.
func (m *Module) Close() {
	m.registry.FreeAll(func(value any, _ any) {
		switch o := value.(type) {
		case *match.Match:
			o.Dispose()
		case *timeout.Timer:
			o.Stop()
		}
	}, nil)
	m.refs.Close()
}

// subscribe(rule, fn, user?) -> id
// Registers a match rule. The handler receives (id, message, user).
func (m *Module) subscribe(L *lua.LState) int {
	ruleTbl := L.CheckTable(1)
	fn := L.CheckFunction(2)
	var user lua.LValue = lua.LNil
	if L.GetTop() >= 3 {
		user = L.Get(3)
	}

	spec := m.parseSpec(L, ruleTbl)

	sub, err := m.engine.Subscribe(spec, fn, user, m.conn)
	if err != nil {
		L.RaiseError("subscribe: %s", err.Error())
		return 0
	}

	if _, err := m.registry.Insert(sub); err != nil {
		sub.Dispose()
		L.RaiseError("subscribe: %s", err.Error())
		return 0
	}

	L.Push(lua.LString(sub.ID()))
	return 1
}

// unsubscribe(id) -> bool
// Disposes a match or timer by id. Returns true when the id was live.
func (m *Module) unsubscribe(L *lua.LState) int {
	id := L.CheckString(1)
	L.Push(lua.LBool(m.Remove(id)))
	return 1
}

// Remove disposes the match or timer with the given id, erasing it from
// the registry. Safe to call from inside a dispatching handler.
func (m *Module) Remove(id string) bool {
	it := m.registry.Iter()
	defer it.Close()

	for it.Valid() {
		switch o := it.Value().(type) {
		case *match.Match:
			if o.ID() == id {
				o.Dispose()
				it.Erase()
				return true
			}
		case *timeout.Timer:
			if o.ID() == id {
				o.Stop()
				it.Erase()
				return true
			}
		}
		if !it.Next() {
			break
		}
	}
	return false
}

// after(ms, fn, user?) -> id
// Schedules a one-shot timer.
func (m *Module) after(L *lua.LState) int {
	return m.newTimer(L, false)
}

// every(ms, fn, user?) -> id
// Schedules a repeating timer.
func (m *Module) every(L *lua.LState) int {
	return m.newTimer(L, true)
}

func (m *Module) newTimer(L *lua.LState, repeat bool) int {
	ms := L.CheckNumber(1)
	fn := L.CheckFunction(2)
	var user lua.LValue = lua.LNil
	if L.GetTop() >= 3 {
		user = L.Get(3)
	}

	d := time.Duration(float64(ms) * float64(time.Millisecond))
	var (
		t   *timeout.Timer
		err error
	)
	if repeat {
		t, err = m.timers.Every(d, fn, user)
	} else {
		t, err = m.timers.After(d, fn, user)
	}
	if err != nil {
		L.RaiseError("timer: %s", err.Error())
		return 0
	}

	if _, err := m.registry.Insert(t); err != nil {
		t.Stop()
		L.RaiseError("timer: %s", err.Error())
		return 0
	}

	L.Push(lua.LString(t.ID()))
	return 1
}

// publish(msg) -> delivered
// Injects a message into the connection and returns how many handlers
// it reached.
func (m *Module) publish(L *lua.LState) int {
	msgTbl := L.CheckTable(1)
	msg := m.parseMessage(L, msgTbl)
	L.Push(lua.LNumber(m.conn.Dispatch(msg)))
	return 1
}

// count() -> n
// Returns the number of outstanding subscriptions.
func (m *Module) count(L *lua.LState) int {
	L.Push(lua.LNumber(m.registry.Len()))
	return 1
}

// parseSpec reads a rule table into a filter spec, applying the
// documented defaults. Structural problems (a filterArgs entry that is
// not a table) raise immediately; field-level validation is left to the
// engine so the first-failure-wins order is in one place.
func (m *Module) parseSpec(L *lua.LState, tbl *lua.LTable) *match.Spec {
	spec := &match.Spec{
		Kind:            parseMatchKind(tbl.RawGetString("msgType")),
		Member:          optString(tbl, "member"),
		Interface:       optString(tbl, "interface"),
		Sender:          optString(tbl, "sender"),
		Path:            optString(tbl, "path"),
		PathIsNamespace: optBool(tbl, "treatPathAsNamespace"),
		Arg0Namespace:   optString(tbl, "arg0Namespace"),
		Eavesdrop:       optBool(tbl, "eavesdrop"),
	}

	argsVal := tbl.RawGetString("filterArgs")
	argsTbl, ok := argsVal.(*lua.LTable)
	if !ok {
		return spec
	}

	n := argsTbl.Len()
	for i := 1; i <= n; i++ {
		entryVal := argsTbl.RawGetInt(i)
		entry, ok := entryVal.(*lua.LTable)
		if !ok {
			L.RaiseError("subscribe: filterArgs[%d]: table expected", i)
			return nil
		}

		var arg match.ArgSpec
		switch kind := entry.RawGetString("type").(type) {
		case *lua.LNilType:
			// Defaults to string matching.
		case lua.LString:
			arg.Kind = string(kind)
		default:
			arg.Kind = kind.String()
		}

		if idx, ok := entry.RawGetString("index").(lua.LNumber); ok {
			n := int(idx)
			arg.Index = &n
		}
		switch v := entry.RawGetString("value").(type) {
		case lua.LString:
			s := string(v)
			arg.Value = &s
		case lua.LNumber:
			s := v.String()
			arg.Value = &s
		}

		spec.Args = append(spec.Args, arg)
	}
	return spec
}

// parseMessage reads a message table. The type defaults to signal and a
// serial is generated when absent.
func (m *Module) parseMessage(L *lua.LState, tbl *lua.LTable) *bus.Message {
	msg := &bus.Message{
		Type:        parseMessageType(optString(tbl, "type")),
		Serial:      optString(tbl, "serial"),
		Sender:      optString(tbl, "sender"),
		Destination: optString(tbl, "destination"),
		Path:        optString(tbl, "path"),
		Interface:   optString(tbl, "interface"),
		Member:      optString(tbl, "member"),
	}
	if msg.Serial == "" {
		msg.Serial = uuid.NewString()
	}

	if argsTbl, ok := tbl.RawGetString("args").(*lua.LTable); ok {
		n := argsTbl.Len()
		for i := 1; i <= n; i++ {
			switch v := argsTbl.RawGetInt(i).(type) {
			case lua.LString:
				msg.Args = append(msg.Args, bus.Arg{Value: string(v)})
			case *lua.LTable:
				arg := bus.Arg{Value: optString(v, "value"), IsPath: optBool(v, "path")}
				msg.Args = append(msg.Args, arg)
			default:
				L.RaiseError("publish: args[%d]: string or table expected", i)
				return nil
			}
		}
	}
	return msg
}

// parseMatchKind maps a msgType field value to a match kind. Unknown
// values fall back to the any-type wildcard.
func parseMatchKind(v lua.LValue) bus.MatchKind {
	switch t := v.(type) {
	case lua.LString:
		switch string(t) {
		case "call", "method_call":
			return bus.MatchMethodCall
		case "return", "method_return":
			return bus.MatchMethodReturn
		case "error":
			return bus.MatchError
		case "signal":
			return bus.MatchSignal
		}
	case lua.LNumber:
		switch bus.MessageType(int(t)) {
		case bus.TypeMethodCall:
			return bus.MatchMethodCall
		case bus.TypeMethodReturn:
			return bus.MatchMethodReturn
		case bus.TypeError:
			return bus.MatchError
		case bus.TypeSignal:
			return bus.MatchSignal
		}
	}
	return bus.MatchAny
}

// parseMessageType maps a message type name; unknown names become
// signals.
func parseMessageType(s string) bus.MessageType {
	switch s {
	case "call", "method_call":
		return bus.TypeMethodCall
	case "return", "method_return":
		return bus.TypeMethodReturn
	case "error":
		return bus.TypeError
	default:
		return bus.TypeSignal
	}
}

func optString(tbl *lua.LTable, key string) string {
	if s, ok := tbl.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}

func optBool(tbl *lua.LTable, key string) bool {
	if b, ok := tbl.RawGetString(key).(lua.LBool); ok {
		return bool(b)
	}
	return false
}
