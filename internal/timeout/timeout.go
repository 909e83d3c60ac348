// Package timeout provides timer subscriptions whose expiry re-enters
// the managed scripting runtime through the same invoker boundary as
// message dispatch. Timers are tracked in the same reference registry as
// matches, so connection teardown drains both uniformly.
package timeout

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dshills/luabus/internal/logging"
	"github.com/dshills/luabus/internal/match"
	"github.com/dshills/luabus/internal/reflist"
)

// Sentinel errors for timer construction.
var (
	// ErrNilHandler is returned when a nil handler is supplied.
	ErrNilHandler = errors.New("timer handler cannot be nil")

	// ErrBadInterval is returned for non-positive intervals.
	ErrBadInterval = errors.New("timer interval must be positive")
)

// Runner serializes a function onto the goroutine that owns the
// scripting runtime. Timer expiry fires on the clock's goroutine and
// must not touch the runtime directly.
type Runner interface {
	Submit(fn func()) error
}

// Engine constructs timers.
type Engine struct {
	clk    clock.Clock
	store  reflist.RefStore
	inv    match.Invoker
	run    Runner
	log    *logging.Logger
	onDone func(*Timer)
}

// NewEngine creates a timer engine. A nil clock selects the real clock;
// a nil logger disables logging.
func NewEngine(clk clock.Clock, store reflist.RefStore, inv match.Invoker, run Runner, log *logging.Logger) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logging.Null
	}
	return &Engine{clk: clk, store: store, inv: inv, run: run, log: log}
}

// OnComplete registers fn to run after a one-shot timer retires itself,
// on the runner goroutine. Owners that track live timers use it to drop
// their bookkeeping; without it a fired one-shot would stay in the
// owner's registry forever.
func (e *Engine) OnComplete(fn func(*Timer)) {
	e.onDone = fn
}

// Timer is a live timer subscription. Like a match it owns a pair of
// held references (handler, user value) released exactly once by Stop.
type Timer struct {
	id         string
	engine     *Engine
	interval   time.Duration
	repeat     bool
	handlerTok reflist.Token
	userTok    reflist.Token
	timer      *clock.Timer
	stopped    atomic.Bool
}

// After creates a one-shot timer that invokes handler after d.
func (e *Engine) After(d time.Duration, handler, user any) (*Timer, error) {
	return e.newTimer(d, false, handler, user)
}

// Every creates a repeating timer that invokes handler every d.
func (e *Engine) Every(d time.Duration, handler, user any) (*Timer, error) {
	return e.newTimer(d, true, handler, user)
}

func (e *Engine) newTimer(d time.Duration, repeat bool, handler, user any) (*Timer, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if d <= 0 {
		return nil, ErrBadInterval
	}

	handlerTok, err := e.store.Hold(handler)
	if err != nil {
		return nil, err
	}
	userTok, err := e.store.Hold(user)
	if err != nil {
		e.store.Release(handlerTok)
		return nil, err
	}

	t := &Timer{
		id:         uuid.NewString(),
		engine:     e,
		interval:   d,
		repeat:     repeat,
		handlerTok: handlerTok,
		userTok:    userTok,
	}
	t.timer = e.clk.AfterFunc(d, t.fire)
	return t, nil
}

// ID returns the opaque identity handlers receive.
func (t *Timer) ID() string {
	return t.id
}

// Stopped reports whether the timer has been torn down.
func (t *Timer) Stopped() bool {
	return t.stopped.Load()
}

// Stop cancels the timer and releases its held references. Stop is
// idempotent and safe to call from inside the timer's own callback.
func (t *Timer) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	t.timer.Stop()
	t.engine.store.Release(t.handlerTok)
	t.engine.store.Release(t.userTok)
}

// fire runs on the clock's goroutine and hands delivery to the runner.
func (t *Timer) fire() {
	if err := t.engine.run.Submit(t.dispatch); err != nil {
		t.engine.log.Warn("timer %s delivery dropped: %v", t.id, err)
	}
}

// dispatch invokes the handler on the runtime goroutine. Handler errors
// are logged and suppressed, matching message dispatch.
func (t *Timer) dispatch() {
	if t.stopped.Load() {
		return
	}
	handler := t.engine.store.Resolve(t.handlerTok)
	if handler == nil {
		return
	}
	user := t.engine.store.Resolve(t.userTok)

	if err := t.engine.inv.Invoke(t.id, handler, nil, user); err != nil {
		t.engine.log.Error("timer callback error for %s: %v", t.id, err)
	}

	if t.repeat {
		if !t.stopped.Load() {
			t.timer.Reset(t.interval)
		}
	} else {
		t.Stop()
		if t.engine.onDone != nil {
			t.engine.onDone(t)
		}
	}
}
