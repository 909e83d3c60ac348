// Package match builds, registers, and dispatches message filters bound
// to handlers living in a managed scripting runtime. The engine depends
// on three narrow collaborators: a Registrar (the bus connection), a
// RefStore (the runtime's reference primitive), and an Invoker (the
// runtime's call boundary). It never touches the runtime directly.
package match

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dshills/luabus/internal/bus"
	"github.com/dshills/luabus/internal/logging"
	"github.com/dshills/luabus/internal/reflist"
)

// Registrar is the slice of a bus connection the engine needs: rule
// registration and removal by opaque handle.
type Registrar interface {
	RegisterMatch(rule *bus.Rule, fn bus.DispatchFunc, user any) (bus.Handle, error)
	UnregisterMatch(h bus.Handle) error
}

// Invoker re-enters the embedding runtime to run a subscriber's handler
// with (match identity, message, user value). Implementations must
// restore their call stack to its pre-invoke depth before returning,
// success or failure.
type Invoker interface {
	Invoke(id string, handler any, msg *bus.Message, user any) error
}

// callbackCtx is the pair of held references a live subscription needs:
// the handler function and the user-supplied value. Both are released
// together, exactly once.
type callbackCtx struct {
	handlerTok reflist.Token
	userTok    reflist.Token
}

// Engine constructs Match subscriptions.
type Engine struct {
	store reflist.RefStore
	inv   Invoker
	log   *logging.Logger
}

// NewEngine creates an engine. A nil logger disables logging.
func NewEngine(store reflist.RefStore, inv Invoker, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Null
	}
	return &Engine{store: store, inv: inv, log: log}
}

// Match is a live subscription: a registered native rule handle, a held
// reference to the owning connection, and the callback context. Matches
// are immutable after construction and torn down with Dispose.
type Match struct {
	id       string
	engine   *Engine
	conn     Registrar
	handle   bus.Handle
	connTok  reflist.Token
	ctx      *callbackCtx
	disposed atomic.Bool
}

// Subscribe validates the spec, registers the resulting rule with the
// connection, and returns the live Match. On any failure nothing remains
// registered and no references remain held. The Match is not inserted
// into any registry; connection-level bookkeeping is the caller's
// responsibility.
func (e *Engine) Subscribe(spec *Spec, handler any, user any, conn Registrar) (*Match, error) {
	if spec == nil {
		return nil, &ValidationError{Reason: ErrNilSpec.Error(), Err: ErrNilSpec}
	}
	if handler == nil {
		return nil, &ValidationError{Reason: ErrNilHandler.Error(), Err: ErrNilHandler}
	}
	if conn == nil {
		return nil, &ValidationError{Reason: ErrNilConnection.Error(), Err: ErrNilConnection}
	}

	rule, err := spec.compile()
	if err != nil {
		return nil, err
	}

	m := &Match{
		id:     uuid.NewString(),
		engine: e,
		conn:   conn,
	}

	handle, err := conn.RegisterMatch(rule, m.dispatch, nil)
	if err != nil {
		return nil, &RegistrationError{Err: err}
	}
	m.handle = handle

	connTok, err := e.store.Hold(conn)
	if err != nil {
		e.rollback(m, reflist.NoToken, reflist.NoToken)
		return nil, &AllocationError{Err: err}
	}
	m.connTok = connTok

	handlerTok, err := e.store.Hold(handler)
	if err != nil {
		e.rollback(m, connTok, reflist.NoToken)
		return nil, &AllocationError{Err: err}
	}

	userTok, err := e.store.Hold(user)
	if err != nil {
		e.rollback(m, connTok, handlerTok)
		return nil, &AllocationError{Err: err}
	}

	m.ctx = &callbackCtx{handlerTok: handlerTok, userTok: userTok}
	return m, nil
}

// rollback undoes a partially constructed subscription.
func (e *Engine) rollback(m *Match, connTok, handlerTok reflist.Token) {
	if err := m.conn.UnregisterMatch(m.handle); err != nil {
		e.log.Warn("rollback: failed to unregister match: %v", err)
	}
	if handlerTok != reflist.NoToken {
		e.store.Release(handlerTok)
	}
	if connTok != reflist.NoToken {
		e.store.Release(connTok)
	}
}

// ID returns the opaque identity handlers receive, usable for
// self-unsubscription.
func (m *Match) ID() string {
	return m.id
}

// Handle returns the native rule handle.
func (m *Match) Handle() bus.Handle {
	return m.handle
}

// Disposed reports whether the match has been torn down.
func (m *Match) Disposed() bool {
	return m.disposed.Load()
}

// Dispose tears the subscription down: unregister the native rule
// (failure is logged, not fatal, since the connection may already be
// gone), release the callback context, release the connection reference.
// Dispose is idempotent; a second call is a no-op. It is safe to call
// from inside the match's own dispatch.
func (m *Match) Dispose() {
	if m.disposed.Swap(true) {
		return
	}

	if err := m.conn.UnregisterMatch(m.handle); err != nil {
		m.engine.log.Warn("failed to unregister match %s: %v", m.id, err)
	}

	if m.ctx != nil {
		m.engine.store.Release(m.ctx.handlerTok)
		m.engine.store.Release(m.ctx.userTok)
		m.ctx = nil
	}

	m.engine.store.Release(m.connTok)
}

// dispatch is the trampoline the bus invokes on every matching message.
// Handler failures are logged and suppressed: one failing handler must
// not stop delivery to other subscribers or disturb the bus.
func (m *Match) dispatch(_ bus.Handle, msg *bus.Message, _ any) {
	if m.disposed.Load() {
		return
	}
	ctx := m.ctx
	if ctx == nil {
		return
	}

	handler := m.engine.store.Resolve(ctx.handlerTok)
	if handler == nil {
		return
	}
	user := m.engine.store.Resolve(ctx.userTok)

	if err := m.engine.inv.Invoke(m.id, handler, msg, user); err != nil {
		m.engine.log.Error("%v", &HandlerError{MatchID: m.id, Err: err})
	}
}
