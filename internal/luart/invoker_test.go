package luart

import (
	"errors"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luabus/internal/bus"
)

func TestInvokePassesArguments(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	iv := NewHandlerInvoker(L)

	err := L.DoString(`
		captured = nil
		function handler(id, msg, user)
			captured = { id = id, member = msg.member, user = user }
		end
	`)
	if err != nil {
		t.Fatalf("DoString: %v", err)
	}

	fn := L.GetGlobal("handler").(*lua.LFunction)
	msg := &bus.Message{Type: bus.TypeSignal, Member: "Changed"}
	if err := iv.Invoke("m-1", fn, msg, "extra"); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	captured, ok := L.GetGlobal("captured").(*lua.LTable)
	if !ok {
		t.Fatal("handler did not run")
	}
	if captured.RawGetString("id") != lua.LString("m-1") {
		t.Errorf("id = %v, want m-1", captured.RawGetString("id"))
	}
	if captured.RawGetString("member") != lua.LString("Changed") {
		t.Errorf("member = %v, want Changed", captured.RawGetString("member"))
	}
	if captured.RawGetString("user") != lua.LString("extra") {
		t.Errorf("user = %v, want extra", captured.RawGetString("user"))
	}
}

func TestInvokeNilMessage(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	iv := NewHandlerInvoker(L)

	err := L.DoString(`
		sawNil = false
		function handler(id, msg, user)
			sawNil = (msg == nil)
		end
	`)
	if err != nil {
		t.Fatalf("DoString: %v", err)
	}

	fn := L.GetGlobal("handler").(*lua.LFunction)
	if err := iv.Invoke("t-1", fn, nil, nil); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if L.GetGlobal("sawNil") != lua.LTrue {
		t.Error("handler did not receive nil message")
	}
}

func TestInvokeRestoresStack(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	iv := NewHandlerInvoker(L)

	if err := L.DoString(`function ok() end; function boom() error("nope") end`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	okFn := L.GetGlobal("ok").(*lua.LFunction)
	boomFn := L.GetGlobal("boom").(*lua.LFunction)

	base := L.GetTop()
	for i := 0; i < 50; i++ {
		if err := iv.Invoke("m", okFn, nil, nil); err != nil {
			t.Fatalf("Invoke ok: %v", err)
		}
		if err := iv.Invoke("m", boomFn, nil, nil); err == nil {
			t.Fatal("Invoke boom returned nil error")
		}
	}
	if got := L.GetTop(); got != base {
		t.Errorf("stack top = %d after dispatches, want %d", got, base)
	}
}

func TestInvokeHandlerError(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	iv := NewHandlerInvoker(L)

	if err := L.DoString(`function boom() error("handler failed") end`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	fn := L.GetGlobal("boom").(*lua.LFunction)

	err := iv.Invoke("m-err", fn, nil, nil)
	if err == nil {
		t.Fatal("Invoke returned nil for an erroring handler")
	}
}

func TestInvokeNotAFunction(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	iv := NewHandlerInvoker(L)

	if err := iv.Invoke("m", "not a function", nil, nil); !errors.Is(err, ErrNotAFunction) {
		t.Errorf("got %v, want ErrNotAFunction", err)
	}
}

func TestWrapMessage(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	msg := &bus.Message{
		Type:      bus.TypeSignal,
		Serial:    "s1",
		Sender:    ":1.7",
		Path:      "/org/example",
		Interface: "org.example.Widget",
		Member:    "Changed",
		Args: []bus.Arg{
			{Value: "alpha"},
			{Value: "/a/b", IsPath: true},
		},
	}

	tbl := WrapMessage(L, msg)
	if tbl.RawGetString("type") != lua.LString("signal") {
		t.Errorf("type = %v", tbl.RawGetString("type"))
	}
	if tbl.RawGetString("member") != lua.LString("Changed") {
		t.Errorf("member = %v", tbl.RawGetString("member"))
	}
	if tbl.RawGetString("destination") != lua.LNil {
		t.Errorf("empty destination should be absent, got %v", tbl.RawGetString("destination"))
	}

	args, ok := tbl.RawGetString("args").(*lua.LTable)
	if !ok || args.Len() != 2 {
		t.Fatalf("args table wrong: %v", tbl.RawGetString("args"))
	}
	first := args.RawGetInt(1).(*lua.LTable)
	if first.RawGetString("value") != lua.LString("alpha") || first.RawGetString("path") != lua.LFalse {
		t.Errorf("args[1] = %v/%v", first.RawGetString("value"), first.RawGetString("path"))
	}
	second := args.RawGetInt(2).(*lua.LTable)
	if second.RawGetString("value") != lua.LString("/a/b") || second.RawGetString("path") != lua.LTrue {
		t.Errorf("args[2] = %v/%v", second.RawGetString("value"), second.RawGetString("path"))
	}
}
