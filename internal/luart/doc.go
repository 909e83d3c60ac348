// Package luart embeds the gopher-lua runtime: it pins Lua values for
// native subsystems (RefTable), re-enters the interpreter for match and
// timer callbacks (HandlerInvoker), serializes state access onto one
// goroutine (Executor), and exposes the bus API to scripts (Module).
//
// Everything in this package is bound to a single LState and must be
// driven from the goroutine that owns it; foreign goroutines hand work
// in through the Executor.
package luart
