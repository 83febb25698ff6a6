package objects

import (
	"errors"
	"sync"
)

// Handle is the caller-facing 64-bit opaque identifier. Handle 0 is
// never allocated (it is the "always invalid" sentinel); InvalidHandle
// (all-ones) is both "invalid" and the seed value for NextHandle.
type Handle uint64

// InvalidHandle is the all-ones sentinel: returned on failure, and used
// to seed NextHandle's "begin iteration" cursor.
const InvalidHandle Handle = ^Handle(0)

var (
	ErrInvalidHandle     = errors.New("objects: invalid handle")
	ErrInvalidObjectType = errors.New("objects: handle refers to an object of a different kind")
)

type slot struct {
	object *Object
	live   bool
}

// Table is a per-caller-context handle table: an append-with-free-list
// vector mapping Handle -> *Object, holding one strong reference per
// live handle.
type Table struct {
	mu    sync.Mutex
	slots []slot // index i holds the object for Handle(i+1)
	free  []int  // indices of closed slots available for reuse
}

// NewTable creates an empty handle table.
func NewTable() *Table {
	return &Table{}
}

// Allocate binds a fresh handle to obj, taking ownership of the
// reference the caller already holds (the one objects.New hands back,
// or one explicitly acquired beforehand) rather than acquiring a new
// one. The caller must not release that reference itself.
func (t *Table) Allocate(obj *Object) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[idx] = slot{object: obj, live: true}
		return Handle(idx + 1)
	}

	t.slots = append(t.slots, slot{object: obj, live: true})
	return Handle(len(t.slots))
}

// Resolve returns the object bound to handle, valid for the duration of
// the current call. If expectedKind is non-nil, the object's kind must
// match or ErrInvalidObjectType is returned.
func (t *Table) Resolve(h Handle, expectedKind *Kind) (*Object, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.lookupLocked(h)
	if !ok {
		return nil, ErrInvalidHandle
	}
	if expectedKind != nil && s.object.Kind() != *expectedKind {
		return nil, ErrInvalidObjectType
	}
	return s.object, nil
}

func (t *Table) lookupLocked(h Handle) (slot, bool) {
	if h == 0 || h == InvalidHandle {
		return slot{}, false
	}
	idx := int(h) - 1
	if idx < 0 || idx >= len(t.slots) || !t.slots[idx].live {
		return slot{}, false
	}
	return t.slots[idx], true
}

// Close invalidates the slot and releases the table's reference to the
// object. Closing an already-closed or unknown handle is
// ErrInvalidHandle.
func (t *Table) Close(h Handle) error {
	t.mu.Lock()
	s, ok := t.lookupLocked(h)
	if !ok {
		t.mu.Unlock()
		return ErrInvalidHandle
	}
	idx := int(h) - 1
	t.slots[idx] = slot{}
	t.free = append(t.free, idx)
	t.mu.Unlock()

	s.object.ReleaseReference()
	return nil
}

// Next returns the next live handle strictly greater than prev matching
// kindFilter (or any kind, if nil), or InvalidHandle once exhausted.
// Seed prev with InvalidHandle to start iteration from the beginning.
func (t *Table) Next(prev Handle, kindFilter *Kind) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := 0
	if prev != InvalidHandle {
		start = int(prev)
	}

	for idx := start; idx < len(t.slots); idx++ {
		s := t.slots[idx]
		if !s.live {
			continue
		}
		if kindFilter != nil && s.object.Kind() != *kindFilter {
			continue
		}
		return Handle(idx + 1)
	}
	return InvalidHandle
}

// Len reports the number of currently live handles, for tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.slots {
		if s.live {
			n++
		}
	}
	return n
}
