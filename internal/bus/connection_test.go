package bus

import (
	"errors"
	"testing"
)

func TestRegisterMatchValidation(t *testing.T) {
	c := NewConnection()
	fn := func(Handle, *Message, any) {}

	if _, err := c.RegisterMatch(nil, fn, nil); !errors.Is(err, ErrNilRule) {
		t.Errorf("nil rule: got %v, want ErrNilRule", err)
	}
	if _, err := c.RegisterMatch(&Rule{}, nil, nil); !errors.Is(err, ErrNilDispatch) {
		t.Errorf("nil dispatch: got %v, want ErrNilDispatch", err)
	}
}

func TestRegisterMatchCopiesRule(t *testing.T) {
	c := NewConnection()
	rule := &Rule{Member: "Changed", Args: []FilterArg{{Index: 0, Value: "x"}}}
	if _, err := c.RegisterMatch(rule, func(Handle, *Message, any) {}, nil); err != nil {
		t.Fatalf("RegisterMatch: %v", err)
	}

	// Mutating the caller's rule must not affect the registration.
	rule.Member = "Removed"
	rule.Args[0].Value = "y"

	got := c.Dispatch(&Message{Type: TypeSignal, Member: "Changed", Args: []Arg{{Value: "x"}}})
	if got != 1 {
		t.Errorf("Dispatch delivered %d, want 1", got)
	}
}

func TestUnregisterMatch(t *testing.T) {
	c := NewConnection()
	h, err := c.RegisterMatch(&Rule{}, func(Handle, *Message, any) {}, nil)
	if err != nil {
		t.Fatalf("RegisterMatch: %v", err)
	}
	if c.MatchCount() != 1 {
		t.Fatalf("MatchCount = %d, want 1", c.MatchCount())
	}

	if err := c.UnregisterMatch(h); err != nil {
		t.Fatalf("UnregisterMatch: %v", err)
	}
	if c.MatchCount() != 0 {
		t.Errorf("MatchCount = %d, want 0", c.MatchCount())
	}

	if err := c.UnregisterMatch(h); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("second unregister: got %v, want ErrUnknownHandle", err)
	}
}

func TestDispatchDelivery(t *testing.T) {
	c := NewConnection()

	var gotOrder []string
	register := func(name string, rule *Rule) {
		t.Helper()
		_, err := c.RegisterMatch(rule, func(_ Handle, _ *Message, user any) {
			gotOrder = append(gotOrder, user.(string))
		}, name)
		if err != nil {
			t.Fatalf("RegisterMatch %s: %v", name, err)
		}
	}

	register("bar", &Rule{Member: "Bar"})
	register("baz", &Rule{Member: "Baz"})
	register("all", &Rule{})

	n := c.Dispatch(&Message{Type: TypeSignal, Member: "Bar"})
	if n != 2 {
		t.Errorf("Dispatch delivered %d, want 2", n)
	}
	if len(gotOrder) != 2 || gotOrder[0] != "bar" || gotOrder[1] != "all" {
		t.Errorf("delivery order = %v, want [bar all]", gotOrder)
	}
}

func TestDispatchSelfUnregister(t *testing.T) {
	c := NewConnection()

	calls := 0
	if _, err := c.RegisterMatch(&Rule{}, func(got Handle, _ *Message, _ any) {
		calls++
		if err := c.UnregisterMatch(got); err != nil {
			t.Errorf("self-unregister: %v", err)
		}
	}, nil); err != nil {
		t.Fatalf("RegisterMatch: %v", err)
	}

	other := 0
	if _, err := c.RegisterMatch(&Rule{}, func(Handle, *Message, any) {
		other++
	}, nil); err != nil {
		t.Fatalf("RegisterMatch: %v", err)
	}

	msg := &Message{Type: TypeSignal}
	if n := c.Dispatch(msg); n != 2 {
		t.Errorf("first dispatch delivered %d, want 2", n)
	}
	if n := c.Dispatch(msg); n != 1 {
		t.Errorf("second dispatch delivered %d, want 1", n)
	}
	if calls != 1 {
		t.Errorf("self-unregistering handler ran %d times, want 1", calls)
	}
	if other != 2 {
		t.Errorf("surviving handler ran %d times, want 2", other)
	}
}

func TestDispatchUnregisterPeerMidDispatch(t *testing.T) {
	c := NewConnection()

	var hSecond Handle
	firstRan := 0
	secondRan := 0

	if _, err := c.RegisterMatch(&Rule{}, func(Handle, *Message, any) {
		firstRan++
		if err := c.UnregisterMatch(hSecond); err != nil {
			t.Errorf("unregister peer: %v", err)
		}
	}, nil); err != nil {
		t.Fatalf("RegisterMatch: %v", err)
	}

	var err error
	hSecond, err = c.RegisterMatch(&Rule{}, func(Handle, *Message, any) {
		secondRan++
	}, nil)
	if err != nil {
		t.Fatalf("RegisterMatch: %v", err)
	}

	if n := c.Dispatch(&Message{Type: TypeSignal}); n != 1 {
		t.Errorf("Dispatch delivered %d, want 1", n)
	}
	if firstRan != 1 || secondRan != 0 {
		t.Errorf("firstRan=%d secondRan=%d, want 1 and 0", firstRan, secondRan)
	}
}

func TestLocalNameDelivery(t *testing.T) {
	c := NewConnection(WithLocalName(":1.5"))

	var got []string
	register := func(name string, rule *Rule) {
		t.Helper()
		_, err := c.RegisterMatch(rule, func(Handle, *Message, any) {
			got = append(got, name)
		}, nil)
		if err != nil {
			t.Fatalf("RegisterMatch %s: %v", name, err)
		}
	}
	register("plain", &Rule{Member: "Changed"})
	register("eaves", &Rule{Member: "Changed", Eavesdrop: true})

	// Addressed to this connection: ordinary delivery, both rules match.
	n := c.Dispatch(&Message{Type: TypeSignal, Member: "Changed", Destination: ":1.5"})
	if n != 2 {
		t.Errorf("self-addressed delivered %d, want 2", n)
	}

	// Addressed elsewhere: only the eavesdrop rule sees it.
	got = nil
	n = c.Dispatch(&Message{Type: TypeSignal, Member: "Changed", Destination: ":1.99"})
	if n != 1 {
		t.Errorf("foreign-addressed delivered %d, want 1", n)
	}
	if len(got) != 1 || got[0] != "eaves" {
		t.Errorf("foreign-addressed reached %v, want only the eavesdrop rule", got)
	}
}

func TestMatchLimit(t *testing.T) {
	c := NewConnection(WithMatchLimit(2))
	fn := func(Handle, *Message, any) {}

	for i := 0; i < 2; i++ {
		if _, err := c.RegisterMatch(&Rule{}, fn, nil); err != nil {
			t.Fatalf("RegisterMatch %d: %v", i, err)
		}
	}
	if _, err := c.RegisterMatch(&Rule{}, fn, nil); !errors.Is(err, ErrMatchLimit) {
		t.Errorf("over limit: got %v, want ErrMatchLimit", err)
	}
}

func TestClosedConnection(t *testing.T) {
	c := NewConnection()
	h, err := c.RegisterMatch(&Rule{}, func(Handle, *Message, any) {
		t.Error("handler ran on closed connection")
	}, nil)
	if err != nil {
		t.Fatalf("RegisterMatch: %v", err)
	}

	c.Close()

	if _, err := c.RegisterMatch(&Rule{}, func(Handle, *Message, any) {}, nil); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("register after close: got %v, want ErrConnectionClosed", err)
	}
	if err := c.UnregisterMatch(h); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("unregister after close: got %v, want ErrConnectionClosed", err)
	}
	if n := c.Dispatch(&Message{Type: TypeSignal}); n != 0 {
		t.Errorf("dispatch after close delivered %d, want 0", n)
	}
}

func TestDispatchNilMessage(t *testing.T) {
	c := NewConnection()
	if _, err := c.RegisterMatch(&Rule{}, func(Handle, *Message, any) {
		t.Error("handler ran for nil message")
	}, nil); err != nil {
		t.Fatalf("RegisterMatch: %v", err)
	}
	if n := c.Dispatch(nil); n != 0 {
		t.Errorf("Dispatch(nil) = %d, want 0", n)
	}
}
