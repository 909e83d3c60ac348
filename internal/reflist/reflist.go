// Package reflist tracks managed-runtime values that native subsystems
// must keep alive. A Registry holds one reference per inserted value via a
// RefStore and supports lookup, safe iteration with in-loop erase, and
// bulk teardown. It is generic bookkeeping: the same Registry tracks
// matches, watches, and timers without knowing anything about them.
//
// A Registry is not goroutine-safe. All mutation and iteration are
// expected to happen on the single goroutine that owns the connection.
package reflist

// Token names one held reference inside a RefStore.
type Token int

// NoToken is the sentinel for "no reference held".
const NoToken Token = -1

// RefStore is the managed runtime's reference primitive. Hold pins a
// value so the runtime cannot collect it, Resolve maps a token back to
// the pinned value, and Release drops the pin. A released token must not
// be resolved again.
type RefStore interface {
	Hold(value any) (Token, error)
	Resolve(token Token) any
	Release(token Token)
}

// end marks a nonexistent slot index.
const end = -1

// slot is one arena cell. Linked slots form a doubly-linked list through
// prev/next indices; unlinked slots sit on the free list.
type slot struct {
	token Token
	prev  int
	next  int
	used  bool
}

// Registry is an index-stable arena of held references.
type Registry struct {
	store RefStore
	slots []slot
	free  []int
	head  int
	count int

	// Active iterators, fixed up when a slot they reference is unlinked.
	iters []*Iterator
}

// New creates an empty registry backed by the given store.
func New(store RefStore) *Registry {
	return &Registry{
		store: store,
		head:  end,
	}
}

// Len returns the number of tracked references.
func (r *Registry) Len() int {
	return r.count
}

// Insert holds a reference to value and links it into the registry,
// returning the token naming the reference. On failure no reference is
// taken.
func (r *Registry) Insert(value any) (Token, error) {
	token, err := r.store.Hold(value)
	if err != nil {
		return NoToken, err
	}

	idx := r.alloc()
	r.slots[idx] = slot{
		token: token,
		prev:  end,
		next:  r.head,
		used:  true,
	}
	if r.head != end {
		r.slots[r.head].prev = idx
	}
	r.head = idx
	r.count++
	return token, nil
}

// Erase unlinks the item holding the given token and releases its
// reference. It returns true when the token was found and removed.
func (r *Registry) Erase(token Token) bool {
	for idx := r.head; idx != end; idx = r.slots[idx].next {
		if r.slots[idx].token == token {
			r.unlink(idx)
			r.store.Release(token)
			return true
		}
	}
	return false
}

// Find scans for the item whose resolved value is identical to value and
// returns an iterator positioned at it. Useful when the caller holds the
// subscription object but not its token.
func (r *Registry) Find(value any) (*Iterator, bool) {
	for idx := r.head; idx != end; idx = r.slots[idx].next {
		if r.store.Resolve(r.slots[idx].token) == value {
			it := &Iterator{r: r, cur: idx, next: r.slots[idx].next}
			r.iters = append(r.iters, it)
			return it, true
		}
	}
	return nil, false
}

// Iter returns an iterator positioned at the first item. Callers must
// Close the iterator when done with it.
func (r *Registry) Iter() *Iterator {
	it := &Iterator{r: r, cur: r.head, next: end}
	if r.head != end {
		it.next = r.slots[r.head].next
	}
	r.iters = append(r.iters, it)
	return it
}

// FreeAll drains every item. When fn is non-nil it is invoked once per
// item with the resolved value and userdata before that item's reference
// is released, so the caller can run item-specific teardown. The item is
// already unlinked when fn runs; a callback that tries to Erase it again
// simply gets false back.
func (r *Registry) FreeAll(fn func(value any, userdata any), userdata any) {
	for r.head != end {
		idx := r.head
		token := r.slots[idx].token
		value := r.store.Resolve(token)
		r.unlink(idx)
		if fn != nil {
			fn(value, userdata)
		}
		r.store.Release(token)
	}
}

// alloc returns a free slot index, growing the arena when needed.
func (r *Registry) alloc() int {
	if n := len(r.free); n > 0 {
		idx := r.free[n-1]
		r.free = r.free[:n-1]
		return idx
	}
	r.slots = append(r.slots, slot{})
	return len(r.slots) - 1
}

// unlink removes the slot from the list and returns it to the free list,
// adjusting any active iterator that references it. The token is left for
// the caller to release.
func (r *Registry) unlink(idx int) {
	s := r.slots[idx]

	for _, it := range r.iters {
		if it.next == idx {
			it.next = s.next
		}
		if it.cur == idx {
			it.curDead = true
		}
	}

	if s.prev != end {
		r.slots[s.prev].next = s.next
	} else {
		r.head = s.next
	}
	if s.next != end {
		r.slots[s.next].prev = s.prev
	}

	r.slots[idx] = slot{prev: end, next: end}
	r.free = append(r.free, idx)
	r.count--
}

// detach removes the iterator from the registry's fix-up list.
func (r *Registry) detach(it *Iterator) {
	for i, other := range r.iters {
		if other == it {
			r.iters = append(r.iters[:i], r.iters[i+1:]...)
			return
		}
	}
}

// Iterator is a cursor over a Registry. The next position is pre-fetched
// before the current item can be unlinked, so erasing the current item
// (through Erase on the iterator or Registry.Erase from a callback) never
// breaks forward progress.
type Iterator struct {
	r       *Registry
	cur     int
	next    int
	curDead bool
}

// Valid reports whether the iterator is positioned at a live item.
func (it *Iterator) Valid() bool {
	return it.cur != end && !it.curDead
}

// Token returns the current item's token, or NoToken past the end.
func (it *Iterator) Token() Token {
	if !it.Valid() {
		return NoToken
	}
	return it.r.slots[it.cur].token
}

// Value resolves and returns the current item's value, or nil past the
// end.
func (it *Iterator) Value() any {
	if !it.Valid() {
		return nil
	}
	return it.r.store.Resolve(it.r.slots[it.cur].token)
}

// Next advances to the pre-fetched next item and reports whether a
// further item exists.
func (it *Iterator) Next() bool {
	it.cur = it.next
	it.curDead = false
	if it.cur == end {
		return false
	}
	it.next = it.r.slots[it.cur].next
	return true
}

// Erase unlinks and releases the current item, then advances the cursor
// using the already pre-fetched next position.
func (it *Iterator) Erase() {
	if !it.Valid() {
		return
	}
	token := it.r.slots[it.cur].token
	it.r.unlink(it.cur)
	it.r.store.Release(token)
	it.curDead = false
	it.cur = it.next
	if it.cur != end {
		it.next = it.r.slots[it.cur].next
	} else {
		it.next = end
	}
}

// Close detaches the iterator from the registry. Using an iterator after
// Close yields undefined positions; Close is idempotent.
func (it *Iterator) Close() {
	if it.r != nil {
		it.r.detach(it)
		it.r = nil
		it.cur = end
		it.next = end
	}
}
