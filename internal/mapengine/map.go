// Package mapengine implements the typed key/value containers programs
// read and write: fixed key/value size, epoch-protected storage, safe
// to touch from an executing program without blocking on writers.
package mapengine

import (
	"github.com/darylpeterson1178/ebpf-for-windows/internal/epoch"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/status"
)

// Type identifies which storage strategy a map uses.
type Type uint32

const (
	TypeArray Type = iota
	TypeHash
)

// Definition is a map's immutable shape, fixed for its whole lifetime.
type Definition struct {
	Type       Type
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
}

// Map is the common interface array and hash maps both satisfy.
type Map interface {
	Definition() Definition

	// Lookup returns a copy of the value for key, for callers outside
	// program context (the dispatcher, test harnesses). Returns
	// status.NotFound if the key is absent.
	Lookup(key []byte) ([]byte, error)

	// LookupForProgram returns a pointer into map storage for use by an
	// already-running program. ts must already be inside an Enter/Exit
	// critical section; the returned slice is only valid until that
	// Exit. Returns status.NotFound if the key is absent.
	LookupForProgram(ts *epoch.ThreadState, key []byte) ([]byte, error)

	// Update inserts or replaces the value for key. Returns
	// status.OutOfResources if the map is full and key is not already
	// present (no eviction).
	Update(key, value []byte) error

	// Delete removes key, freeing its storage under epoch protection.
	// Array maps instead reset the slot to zero; the index stays a
	// valid key.
	Delete(key []byte) error

	// NextKey returns some key following prev in a stable-per-snapshot
	// order, or status.NoMoreKeys at the end. prev == nil starts
	// iteration at an arbitrary first key.
	NextKey(prev []byte) ([]byte, error)
}

func checkKeyValueSize(def Definition, key, value []byte) error {
	if uint32(len(key)) != def.KeySize {
		return status.New("MAP_OP", status.InvalidParameter, "key size mismatch")
	}
	if value != nil && uint32(len(value)) != def.ValueSize {
		return status.New("MAP_OP", status.InvalidParameter, "value size mismatch")
	}
	return nil
}

// New constructs a Map of the shape described by def, backed by mgr for
// epoch-protected reclamation of retired storage.
func New(def Definition, mgr *epoch.Manager) (Map, error) {
	if def.KeySize == 0 || def.ValueSize == 0 || def.MaxEntries == 0 {
		return nil, status.New("CREATE_MAP", status.InvalidParameter, "zero-sized definition")
	}

	switch def.Type {
	case TypeArray:
		if def.KeySize != 4 {
			return nil, status.New("CREATE_MAP", status.InvalidParameter, "array map keys must be a 4-byte index")
		}
		return newArrayMap(def, mgr), nil
	case TypeHash:
		return newHashMap(def, mgr), nil
	default:
		return nil, status.New("CREATE_MAP", status.InvalidParameter, "unknown map type")
	}
}
