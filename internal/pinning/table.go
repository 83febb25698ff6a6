// Package pinning implements the name -> object namespace that lets one
// caller hand an object to another by giving it a byte-string name.
package pinning

import (
	"errors"
	"sync"

	"github.com/darylpeterson1178/ebpf-for-windows/internal/objects"
)

var (
	ErrAlreadyExists = errors.New("pinning: name already pinned")
	ErrNotFound       = errors.New("pinning: name not found")
)

// MaxNameLength is the practical size of pinning names (spec §6.3: length
// is formally bounded by 2^32-1 bytes, practically <= 1024). Table does
// not check names against it.
const MaxNameLength = 1024

// Table maps UTF-8 byte-string names to objects, holding one strong
// reference per entry. Names are compared byte-verbatim, never
// normalised or case-folded.
type Table struct {
	mu      sync.Mutex
	entries map[string]*objects.Object
}

// NewTable creates an empty pinning table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*objects.Object)}
}

// Insert pins obj under name, taking a reference. Fails ErrAlreadyExists
// if the name is already in use.
func (t *Table) Insert(name []byte, obj *objects.Object) error {
	key := string(name)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[key]; exists {
		return ErrAlreadyExists
	}

	obj.AcquireReference()
	t.entries[key] = obj
	return nil
}

// Find returns a reference-bumped pointer to the object pinned under
// name, or ErrNotFound.
func (t *Table) Find(name []byte) (*objects.Object, error) {
	key := string(name)

	t.mu.Lock()
	defer t.mu.Unlock()

	obj, ok := t.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	obj.AcquireReference()
	return obj, nil
}

// Delete unpins name, releasing the table's reference. Fails
// ErrNotFound if no such entry exists.
func (t *Table) Delete(name []byte) error {
	key := string(name)

	t.mu.Lock()
	defer t.mu.Unlock()

	obj, ok := t.entries[key]
	if !ok {
		return ErrNotFound
	}
	delete(t.entries, key)
	obj.ReleaseReference()
	return nil
}

// Close releases every remaining reference, for table teardown.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for name, obj := range t.entries {
		delete(t.entries, name)
		obj.ReleaseReference()
	}
}

// Len reports how many names are currently pinned, for tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
