// Package bus implements an in-process message bus connection with
// declarative match-rule delivery.
package bus

import "sync"

// Handle identifies a registered match on a connection. Handles are opaque
// to callers and owned by the connection.
type Handle uint64

// InvalidHandle is the zero, never-registered handle.
const InvalidHandle Handle = 0

// DispatchFunc is invoked synchronously for every message that matches a
// registered rule. The user value is the one supplied at registration.
type DispatchFunc func(h Handle, msg *Message, user any)

// registration binds a rule to its dispatch function.
type registration struct {
	handle Handle
	rule   *Rule
	fn     DispatchFunc
	user   any
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithMatchLimit caps the number of concurrently registered matches.
// Zero or negative means unlimited.
func WithMatchLimit(n int) ConnectionOption {
	return func(c *Connection) {
		c.matchLimit = n
	}
}

// WithLocalName sets the connection's own bus name. Messages addressed
// to this name are delivered like broadcasts; without it, any addressed
// message requires an eavesdrop rule.
func WithLocalName(name string) ConnectionOption {
	return func(c *Connection) {
		c.localName = name
	}
}

// Connection is a bus connection holding match registrations and
// delivering messages to them.
//
// Dispatch is synchronous: handlers run on the caller's goroutine, one at
// a time, in registration order. A handler may register or unregister
// matches (including its own) while it runs.
type Connection struct {
	mu         sync.Mutex
	nextHandle Handle
	regs       []*registration
	matchLimit int
	localName  string
	closed     bool
}

// NewConnection creates a connection with no registrations.
func NewConnection(opts ...ConnectionOption) *Connection {
	c := &Connection{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterMatch registers a rule with its dispatch function and returns
// the handle naming the registration. The connection keeps its own copy
// of the rule; the caller's copy may be reused or discarded.
func (c *Connection) RegisterMatch(rule *Rule, fn DispatchFunc, user any) (Handle, error) {
	if rule == nil {
		return InvalidHandle, ErrNilRule
	}
	if fn == nil {
		return InvalidHandle, ErrNilDispatch
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return InvalidHandle, ErrConnectionClosed
	}
	if c.matchLimit > 0 && len(c.regs) >= c.matchLimit {
		return InvalidHandle, ErrMatchLimit
	}

	ruleCopy := *rule
	ruleCopy.Args = append([]FilterArg(nil), rule.Args...)

	c.nextHandle++
	reg := &registration{
		handle: c.nextHandle,
		rule:   &ruleCopy,
		fn:     fn,
		user:   user,
	}
	c.regs = append(c.regs, reg)
	return reg.handle, nil
}

// UnregisterMatch removes a registration by handle.
func (c *Connection) UnregisterMatch(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	for i, reg := range c.regs {
		if reg.handle == h {
			c.regs = append(c.regs[:i], c.regs[i+1:]...)
			return nil
		}
	}
	return ErrUnknownHandle
}

// Dispatch delivers the message to every registration whose rule matches,
// in registration order, and returns the number of handlers invoked.
//
// The registration list is snapshotted before delivery, so handlers may
// unregister any match (including their own) mid-dispatch. A registration
// removed by an earlier handler in the same dispatch is skipped.
func (c *Connection) Dispatch(msg *Message) int {
	c.mu.Lock()
	if c.closed || msg == nil {
		c.mu.Unlock()
		return 0
	}
	snapshot := make([]*registration, len(c.regs))
	copy(snapshot, c.regs)
	c.mu.Unlock()

	delivered := 0
	for _, reg := range snapshot {
		if !c.isRegistered(reg.handle) {
			continue
		}
		if !reg.rule.matchesAs(msg, c.localName) {
			continue
		}
		reg.fn(reg.handle, msg, reg.user)
		delivered++
	}
	return delivered
}

// isRegistered reports whether the handle is still registered.
func (c *Connection) isRegistered(h Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, reg := range c.regs {
		if reg.handle == h {
			return true
		}
	}
	return false
}

// MatchCount returns the number of live registrations.
func (c *Connection) MatchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.regs)
}

// Close drops all registrations and rejects further operations.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.regs = nil
}
