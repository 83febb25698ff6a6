package mapengine

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darylpeterson1178/ebpf-for-windows/internal/epoch"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/status"
)

func key32(i uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, i)
	return b
}

func TestNew_RejectsZeroSizedDefinition(t *testing.T) {
	_, err := New(Definition{Type: TypeHash, KeySize: 0, ValueSize: 4, MaxEntries: 4}, epoch.New())
	assert.Equal(t, status.InvalidParameter, status.CodeOf(err))
}

func TestArrayMap_RoundTrip(t *testing.T) {
	m, err := New(Definition{Type: TypeArray, KeySize: 4, ValueSize: 8, MaxEntries: 4}, epoch.New())
	require.NoError(t, err)

	k := key32(1)
	v := make([]byte, 8)
	v[0] = 0xAB

	require.NoError(t, m.Update(k, v))

	got, err := m.Lookup(k)
	require.NoError(t, err)
	assert.Equal(t, v, got)

	require.NoError(t, m.Delete(k))
	got, err = m.Lookup(k)
	require.NoError(t, err, "array map delete zeroes the slot, it does not remove the key")
	assert.Equal(t, make([]byte, 8), got)
}

func TestArrayMap_RejectsOutOfRangeIndex(t *testing.T) {
	m, err := New(Definition{Type: TypeArray, KeySize: 4, ValueSize: 4, MaxEntries: 2}, epoch.New())
	require.NoError(t, err)

	_, err = m.Lookup(key32(5))
	assert.Equal(t, status.InvalidParameter, status.CodeOf(err))
}

func TestArrayMap_NextKeyIteratesEveryIndexDensely(t *testing.T) {
	m, err := New(Definition{Type: TypeArray, KeySize: 4, ValueSize: 4, MaxEntries: 3}, epoch.New())
	require.NoError(t, err)

	require.NoError(t, m.Update(key32(0), make([]byte, 4)))
	// Index 1 is never written; it is still a valid key since array
	// maps have no concept of an absent slot.

	first, err := m.NextKey(nil)
	require.NoError(t, err)
	assert.Equal(t, key32(0), first)

	second, err := m.NextKey(first)
	require.NoError(t, err)
	assert.Equal(t, key32(1), second)

	third, err := m.NextKey(second)
	require.NoError(t, err)
	assert.Equal(t, key32(2), third)

	_, err = m.NextKey(third)
	assert.Equal(t, status.NoMoreKeys, status.CodeOf(err))
}

func TestArrayMap_LookupForProgramRequiresEnteredThread(t *testing.T) {
	mgr := epoch.New()
	m, err := New(Definition{Type: TypeArray, KeySize: 4, ValueSize: 4, MaxEntries: 2}, mgr)
	require.NoError(t, err)
	require.NoError(t, m.Update(key32(0), []byte{1, 2, 3, 4}))

	ts := mgr.NewThreadState()
	_, err = m.LookupForProgram(ts, key32(0))
	assert.Equal(t, status.InvalidState, status.CodeOf(err))

	ts.Enter()
	defer ts.Exit()
	got, err := m.LookupForProgram(ts, key32(0))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestHashMap_RoundTrip(t *testing.T) {
	m, err := New(Definition{Type: TypeHash, KeySize: 3, ValueSize: 2, MaxEntries: 8}, epoch.New())
	require.NoError(t, err)

	require.NoError(t, m.Update([]byte("foo"), []byte{1, 2}))

	got, err := m.Lookup([]byte("foo"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, got)

	require.NoError(t, m.Update([]byte("foo"), []byte{3, 4}))
	got, err = m.Lookup([]byte("foo"))
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 4}, got)

	require.NoError(t, m.Delete([]byte("foo")))
	_, err = m.Lookup([]byte("foo"))
	assert.Equal(t, status.NotFound, status.CodeOf(err))
}

func TestHashMap_EnforcesMaxEntriesWithoutEviction(t *testing.T) {
	m, err := New(Definition{Type: TypeHash, KeySize: 1, ValueSize: 1, MaxEntries: 2}, epoch.New())
	require.NoError(t, err)

	require.NoError(t, m.Update([]byte("a"), []byte{1}))
	require.NoError(t, m.Update([]byte("b"), []byte{2}))

	err = m.Update([]byte("c"), []byte{3})
	assert.Equal(t, status.OutOfResources, status.CodeOf(err))

	// Existing keys are still present (no eviction happened).
	got, err := m.Lookup([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, got)
}

func TestHashMap_NextKeyStableIteration(t *testing.T) {
	m, err := New(Definition{Type: TypeHash, KeySize: 1, ValueSize: 1, MaxEntries: 8}, epoch.New())
	require.NoError(t, err)

	require.NoError(t, m.Update([]byte("a"), []byte{1}))
	require.NoError(t, m.Update([]byte("b"), []byte{2}))
	require.NoError(t, m.Update([]byte("c"), []byte{3}))

	seen := map[string]bool{}
	key, err := m.NextKey(nil)
	require.NoError(t, err)
	for {
		seen[string(key)] = true
		key, err = m.NextKey(key)
		if status.CodeOf(err) == status.NoMoreKeys {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, seen)
}

func TestHashMap_WrongKeySizeRejected(t *testing.T) {
	m, err := New(Definition{Type: TypeHash, KeySize: 3, ValueSize: 2, MaxEntries: 4}, epoch.New())
	require.NoError(t, err)

	err = m.Update([]byte("x"), []byte{1, 2})
	assert.Equal(t, status.InvalidParameter, status.CodeOf(err))
}
