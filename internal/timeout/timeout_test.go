package timeout

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dshills/luabus/internal/bus"
	"github.com/dshills/luabus/internal/reflist"
)

// memStore is an in-memory RefStore for tests.
type memStore struct {
	next     reflist.Token
	vals     map[reflist.Token]any
	holds    int
	releases int
}

func newMemStore() *memStore {
	return &memStore{vals: make(map[reflist.Token]any)}
}

func (s *memStore) Hold(value any) (reflist.Token, error) {
	s.next++
	s.holds++
	s.vals[s.next] = value
	return s.next, nil
}

func (s *memStore) Resolve(token reflist.Token) any {
	return s.vals[token]
}

func (s *memStore) Release(token reflist.Token) {
	if _, ok := s.vals[token]; ok {
		delete(s.vals, token)
		s.releases++
	}
}

// syncRunner runs submissions inline, matching the single-goroutine test
// setup where the mock clock fires on the test goroutine.
type syncRunner struct{}

func (syncRunner) Submit(fn func()) error {
	fn()
	return nil
}

// countingInvoker records invocations.
type countingInvoker struct {
	calls []string
	fail  error
}

func (c *countingInvoker) Invoke(id string, handler any, msg *bus.Message, user any) error {
	c.calls = append(c.calls, id)
	return c.fail
}

func newTimerFixture() (*Engine, *clock.Mock, *memStore, *countingInvoker) {
	mock := clock.NewMock()
	store := newMemStore()
	inv := &countingInvoker{}
	return NewEngine(mock, store, inv, syncRunner{}, nil), mock, store, inv
}

func TestAfterFiresOnce(t *testing.T) {
	eng, mock, store, inv := newTimerFixture()

	timer, err := eng.After(100*time.Millisecond, "handler", "user")
	if err != nil {
		t.Fatalf("After: %v", err)
	}
	if timer.ID() == "" {
		t.Error("timer has empty id")
	}

	mock.Add(99 * time.Millisecond)
	if len(inv.calls) != 0 {
		t.Fatalf("fired early: %v", inv.calls)
	}

	mock.Add(1 * time.Millisecond)
	if len(inv.calls) != 1 || inv.calls[0] != timer.ID() {
		t.Fatalf("calls = %v, want one call with the timer id", inv.calls)
	}
	if !timer.Stopped() {
		t.Error("one-shot timer not stopped after firing")
	}
	if store.holds != store.releases {
		t.Errorf("refs leaked: %d held, %d released", store.holds, store.releases)
	}

	mock.Add(time.Second)
	if len(inv.calls) != 1 {
		t.Errorf("one-shot fired again: %v", inv.calls)
	}
}

func TestEveryRepeats(t *testing.T) {
	eng, mock, _, inv := newTimerFixture()

	timer, err := eng.Every(50*time.Millisecond, "handler", nil)
	if err != nil {
		t.Fatalf("Every: %v", err)
	}

	mock.Add(50 * time.Millisecond)
	mock.Add(50 * time.Millisecond)
	mock.Add(50 * time.Millisecond)
	if len(inv.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(inv.calls))
	}

	timer.Stop()
	mock.Add(200 * time.Millisecond)
	if len(inv.calls) != 3 {
		t.Errorf("stopped timer still fired: %d calls", len(inv.calls))
	}
}

func TestStopIdempotent(t *testing.T) {
	eng, _, store, _ := newTimerFixture()

	timer, err := eng.After(time.Second, "handler", "user")
	if err != nil {
		t.Fatalf("After: %v", err)
	}

	timer.Stop()
	timer.Stop()

	if !timer.Stopped() {
		t.Error("Stopped() = false after Stop")
	}
	if store.releases != 2 {
		t.Errorf("releases = %d after double Stop, want 2 (handler, user)", store.releases)
	}
}

func TestStopBeforeFire(t *testing.T) {
	eng, mock, _, inv := newTimerFixture()

	timer, err := eng.After(100*time.Millisecond, "handler", nil)
	if err != nil {
		t.Fatalf("After: %v", err)
	}
	timer.Stop()

	mock.Add(time.Second)
	if len(inv.calls) != 0 {
		t.Errorf("stopped timer fired: %v", inv.calls)
	}
}

func TestTimerValidation(t *testing.T) {
	eng, _, store, _ := newTimerFixture()

	if _, err := eng.After(time.Second, nil, nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("nil handler: got %v, want ErrNilHandler", err)
	}
	if _, err := eng.After(0, "handler", nil); !errors.Is(err, ErrBadInterval) {
		t.Errorf("zero interval: got %v, want ErrBadInterval", err)
	}
	if _, err := eng.After(-time.Second, "handler", nil); !errors.Is(err, ErrBadInterval) {
		t.Errorf("negative interval: got %v, want ErrBadInterval", err)
	}
	if store.holds != 0 {
		t.Errorf("holds = %d after rejected timers, want 0", store.holds)
	}
}

func TestOnCompleteFiresForOneShot(t *testing.T) {
	eng, mock, _, _ := newTimerFixture()

	var completed []string
	eng.OnComplete(func(tm *Timer) {
		completed = append(completed, tm.ID())
	})

	timer, err := eng.After(100*time.Millisecond, "handler", nil)
	if err != nil {
		t.Fatalf("After: %v", err)
	}

	mock.Add(100 * time.Millisecond)
	if len(completed) != 1 || completed[0] != timer.ID() {
		t.Fatalf("completed = %v, want one entry with the timer id", completed)
	}
}

func TestOnCompleteNotFiredForRepeating(t *testing.T) {
	eng, mock, _, _ := newTimerFixture()

	completions := 0
	eng.OnComplete(func(*Timer) { completions++ })

	timer, err := eng.Every(50*time.Millisecond, "handler", nil)
	if err != nil {
		t.Fatalf("Every: %v", err)
	}

	mock.Add(50 * time.Millisecond)
	mock.Add(50 * time.Millisecond)
	timer.Stop()
	if completions != 0 {
		t.Errorf("completions = %d for a repeating timer, want 0", completions)
	}
}

func TestOnCompleteNotFiredWhenStoppedEarly(t *testing.T) {
	eng, mock, _, _ := newTimerFixture()

	completions := 0
	eng.OnComplete(func(*Timer) { completions++ })

	timer, err := eng.After(100*time.Millisecond, "handler", nil)
	if err != nil {
		t.Fatalf("After: %v", err)
	}
	timer.Stop()

	mock.Add(time.Second)
	if completions != 0 {
		t.Errorf("completions = %d for a cancelled timer, want 0", completions)
	}
}

func TestHandlerErrorDoesNotStopRepeats(t *testing.T) {
	eng, mock, _, inv := newTimerFixture()
	inv.fail = errors.New("handler failed")

	if _, err := eng.Every(50*time.Millisecond, "handler", nil); err != nil {
		t.Fatalf("Every: %v", err)
	}

	mock.Add(50 * time.Millisecond)
	mock.Add(50 * time.Millisecond)
	if len(inv.calls) != 2 {
		t.Errorf("calls = %d, want 2 (errors are logged, not fatal)", len(inv.calls))
	}
}
