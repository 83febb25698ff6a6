package mapengine

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/darylpeterson1178/ebpf-for-windows/internal/epoch"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/status"
)

// arrayMap is a fixed-length vector of slots indexed by a little-endian
// uint32 key. Slots hold an atomic pointer so readers never block on a
// writer: Update/Delete swap the pointer and retire the old value.
type arrayMap struct {
	def   Definition
	mgr   *epoch.Manager
	mu    sync.Mutex // serializes writers only; readers never take it
	slots []atomic.Pointer[[]byte]
}

// newArrayMap pre-populates every slot with a zero-value entry: array
// maps have no notion of "absent," only "zero" (spec §4.E) -- every
// index in [0, MaxEntries) is always a valid key.
func newArrayMap(def Definition, mgr *epoch.Manager) *arrayMap {
	m := &arrayMap{def: def, mgr: mgr, slots: make([]atomic.Pointer[[]byte], def.MaxEntries)}
	for i := range m.slots {
		zero := make([]byte, def.ValueSize)
		m.slots[i].Store(&zero)
	}
	return m
}

func (m *arrayMap) Definition() Definition { return m.def }

func (m *arrayMap) index(key []byte) (uint32, error) {
	if uint32(len(key)) != m.def.KeySize {
		return 0, status.New("MAP_OP", status.InvalidParameter, "key size mismatch")
	}
	idx := binary.LittleEndian.Uint32(key)
	if idx >= m.def.MaxEntries {
		return 0, status.New("MAP_OP", status.InvalidParameter, "index out of range")
	}
	return idx, nil
}

func (m *arrayMap) Lookup(key []byte) ([]byte, error) {
	idx, err := m.index(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, m.def.ValueSize)
	copy(out, *m.slots[idx].Load())
	return out, nil
}

func (m *arrayMap) LookupForProgram(ts *epoch.ThreadState, key []byte) ([]byte, error) {
	if _, in := ts.Entered(); !in {
		return nil, status.New("MAP_LOOKUP_ELEMENT", status.InvalidState, "thread not inside an epoch section")
	}
	idx, err := m.index(key)
	if err != nil {
		return nil, err
	}
	return *m.slots[idx].Load(), nil
}

func (m *arrayMap) Update(key, value []byte) error {
	idx, err := m.index(key)
	if err != nil {
		return err
	}
	if uint32(len(value)) != m.def.ValueSize {
		return status.New("MAP_UPDATE_ELEMENT", status.InvalidParameter, "value size mismatch")
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.slots[idx].Swap(&stored)
	if old != nil && m.mgr != nil {
		captured := old
		m.mgr.Retire(func() { _ = captured })
	}
	return nil
}

// Delete resets the slot to its zero value; the index itself remains a
// valid key (spec §4.E -- array maps never shrink).
func (m *arrayMap) Delete(key []byte) error {
	idx, err := m.index(key)
	if err != nil {
		return err
	}

	zero := make([]byte, m.def.ValueSize)

	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.slots[idx].Swap(&zero)
	if m.mgr != nil {
		captured := old
		m.mgr.Retire(func() { _ = captured })
	}
	return nil
}

// NextKey enumerates every index densely: an array map has no concept
// of an unpopulated slot to skip, so the next key is simply prev+1 (or
// 0, to start) until MaxEntries is exhausted.
func (m *arrayMap) NextKey(prev []byte) ([]byte, error) {
	next := uint32(0)
	if prev != nil {
		idx, err := m.index(prev)
		if err != nil {
			return nil, err
		}
		next = idx + 1
	}
	if next >= m.def.MaxEntries {
		return nil, status.New("MAP_NEXT_KEY", status.NoMoreKeys, "iteration exhausted")
	}
	key := make([]byte, 4)
	binary.LittleEndian.PutUint32(key, next)
	return key, nil
}
