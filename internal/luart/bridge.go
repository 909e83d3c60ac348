package luart

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Bridge converts values between Go and Lua representations. It covers
// the scalar and container shapes that cross the bus boundary; functions
// and userdata pass through untouched.
type Bridge struct {
	L *lua.LState
}

// NewBridge creates a Bridge for the given state.
func NewBridge(L *lua.LState) *Bridge {
	return &Bridge{L: L}
}

// ToLua converts a Go value to a Lua value. Values that are already Lua
// values are returned as-is.
func (b *Bridge) ToLua(v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case []any:
		t := b.L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, b.ToLua(item))
		}
		return t
	case []string:
		t := b.L.NewTable()
		for i, s := range val {
			t.RawSetInt(i+1, lua.LString(s))
		}
		return t
	case map[string]any:
		t := b.L.NewTable()
		for k, item := range val {
			t.RawSetString(k, b.ToLua(item))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// ToGo converts a Lua value to a Go value. Tables with contiguous
// 1-based integer keys become slices; other tables become string-keyed
// maps. Functions and userdata convert to nil.
func (b *Bridge) ToGo(lv lua.LValue) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		return b.tableToGo(v)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

// tableToGo converts a Lua table to a slice or map.
func (b *Bridge) tableToGo(t *lua.LTable) any {
	maxN := t.Len()
	isArray := maxN > 0
	count := 0
	t.ForEach(func(k, _ lua.LValue) {
		count++
		kn, ok := k.(lua.LNumber)
		if !ok || float64(kn) != float64(int(kn)) || int(kn) < 1 || int(kn) > maxN {
			isArray = false
		}
	})

	if isArray && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = b.ToGo(t.RawGetInt(i))
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = fmt.Sprintf("%v", float64(kv))
		default:
			key = k.String()
		}
		m[key] = b.ToGo(v)
	})
	return m
}
