package luart

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// task is one unit of work queued for the Lua-owning goroutine. A nil
// result channel marks fire-and-forget work nobody waits on.
type task struct {
	fn     func(L *lua.LState) error
	result chan error
}

// Executor serializes all LState access onto a single goroutine.
//
// gopher-lua's LState is not goroutine-safe, so sources that live on
// other goroutines (the wire client's read loop, timer expiry) submit
// their deliveries here instead of touching the state directly.
type Executor struct {
	L         *lua.LState
	queue     chan *task
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewExecutor creates an executor for the given state. queueSize bounds
// how much work can be buffered; non-positive values get a default.
func NewExecutor(L *lua.LState, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = 128
	}
	return &Executor{
		L:     L,
		queue: make(chan *task, queueSize),
		done:  make(chan struct{}),
	}
}

// Run processes queued work until the context is cancelled or Close is
// called. It must run on the goroutine that owns the LState.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.drain(ctx.Err())
			return
		case <-e.done:
			e.drain(ErrExecutorClosed)
			return
		case t := <-e.queue:
			err := e.runTask(t)
			if t.result != nil {
				t.result <- err
				close(t.result)
			}
		}
	}
}

// runTask executes one task with panic recovery so a misbehaving
// callback cannot kill the loop.
func (e *Executor) runTask(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = v
			case string:
				err = errors.New(v)
			default:
				err = errors.New("lua panic")
			}
		}
	}()
	return t.fn(e.L)
}

// drain fails all queued work with the given error.
func (e *Executor) drain(err error) {
	for {
		select {
		case t := <-e.queue:
			if t.result != nil {
				t.result <- err
				close(t.result)
			}
		default:
			return
		}
	}
}

// Execute queues fn and blocks until it has run on the Lua goroutine or
// the context is cancelled.
func (e *Executor) Execute(ctx context.Context, fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	t := &task{fn: fn, result: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- t:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-t.result:
		if !ok {
			return ErrExecutorClosed
		}
		return err
	}
}

// Submit queues fn without waiting for it to run. Used for
// fire-and-forget deliveries from foreign goroutines.
func (e *Executor) Submit(fn func()) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	t := &task{
		fn: func(*lua.LState) error {
			fn()
			return nil
		},
	}
	select {
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the executor. Queued work fails with ErrExecutorClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}
