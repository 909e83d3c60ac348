package luart

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luabus/internal/reflist"
)

// RefTable implements reflist.RefStore for a gopher-lua state. Held Lua
// values are pinned in a table reachable from a global, so the collector
// cannot reclaim them while a native subsystem still points at them.
// Non-Lua values (connections, Go objects) are tracked on the Go side
// only; pinning is a Lua-GC concern and does not apply to them.
//
// A RefTable is bound to one LState and must only be used from the
// goroutine that owns it.
type RefTable struct {
	L     *lua.LState
	tbl   *lua.LTable
	key   string
	next  int
	vals  map[reflist.Token]any
	limit int
}

// RefTableOption configures a RefTable.
type RefTableOption func(*RefTable)

// WithRefLimit caps the number of simultaneously held references. Zero
// or negative means unlimited.
func WithRefLimit(n int) RefTableOption {
	return func(rt *RefTable) {
		rt.limit = n
	}
}

// NewRefTable creates a ref table pinned under the given global key.
func NewRefTable(L *lua.LState, key string, opts ...RefTableOption) *RefTable {
	rt := &RefTable{
		L:    L,
		tbl:  L.NewTable(),
		key:  key,
		vals: make(map[reflist.Token]any),
	}
	for _, opt := range opts {
		opt(rt)
	}
	L.SetGlobal(key, rt.tbl)
	return rt
}

// Hold pins value and returns the token naming the reference.
func (rt *RefTable) Hold(value any) (reflist.Token, error) {
	if rt.tbl == nil {
		return reflist.NoToken, ErrRefTableClosed
	}
	if rt.limit > 0 && len(rt.vals) >= rt.limit {
		return reflist.NoToken, ErrRefTableFull
	}

	rt.next++
	tok := reflist.Token(rt.next)
	if lv, ok := value.(lua.LValue); ok && lv != lua.LNil {
		rt.tbl.RawSetInt(int(tok), lv)
	}
	rt.vals[tok] = value
	return tok, nil
}

// Resolve returns the value a token names, or nil for released or
// unknown tokens.
func (rt *RefTable) Resolve(tok reflist.Token) any {
	return rt.vals[tok]
}

// Release drops the pin. Releasing an unknown token is a no-op.
func (rt *RefTable) Release(tok reflist.Token) {
	if _, ok := rt.vals[tok]; !ok {
		return
	}
	delete(rt.vals, tok)
	if rt.tbl != nil {
		rt.tbl.RawSetInt(int(tok), lua.LNil)
	}
}

// Len returns the number of live references.
func (rt *RefTable) Len() int {
	return len(rt.vals)
}

// Close unpins everything and detaches the table from the state.
func (rt *RefTable) Close() {
	if rt.tbl == nil {
		return
	}
	rt.L.SetGlobal(rt.key, lua.LNil)
	rt.tbl = nil
	rt.vals = make(map[reflist.Token]any)
}
