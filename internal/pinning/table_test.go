package pinning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darylpeterson1178/ebpf-for-windows/internal/objects"
)

// TestPinningRoundTrip exercises the spec's round-trip law:
// insert(n, o); find(n) == o; delete(n); find(n) == NOT_FOUND.
func TestPinningRoundTrip(t *testing.T) {
	table := NewTable()
	obj := objects.New(objects.KindMap, func() {})

	require.NoError(t, table.Insert([]byte("foo"), obj))

	found, err := table.Find([]byte("foo"))
	require.NoError(t, err)
	assert.Same(t, obj, found)
	found.ReleaseReference()

	require.NoError(t, table.Delete([]byte("foo")))

	_, err = table.Find([]byte("foo"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPinning_DuplicateInsertFails(t *testing.T) {
	table := NewTable()
	obj := objects.New(objects.KindMap, func() {})
	require.NoError(t, table.Insert([]byte("foo"), obj))

	assert.ErrorIs(t, table.Insert([]byte("foo"), obj), ErrAlreadyExists)
}

// TestPinningRefCounts exercises S3: create map (refcount==1), pin
// ("foo", map) -> 2, find("foo") -> 3, release find result -> 2,
// unpin("foo") -> 1.
func TestPinningRefCounts(t *testing.T) {
	table := NewTable()
	obj := objects.New(objects.KindMap, func() {})
	assert.EqualValues(t, 1, obj.RefCount())

	require.NoError(t, table.Insert([]byte("foo"), obj))
	assert.EqualValues(t, 2, obj.RefCount())

	found, err := table.Find([]byte("foo"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, obj.RefCount())

	found.ReleaseReference()
	assert.EqualValues(t, 2, obj.RefCount())

	require.NoError(t, table.Delete([]byte("foo")))
	assert.EqualValues(t, 1, obj.RefCount())
}

func TestPinning_NamesAreByteVerbatim(t *testing.T) {
	table := NewTable()
	obj := objects.New(objects.KindMap, func() {})
	require.NoError(t, table.Insert([]byte("Foo"), obj))

	_, err := table.Find([]byte("foo"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPinning_CloseReleasesAllReferences(t *testing.T) {
	table := NewTable()
	released := 0
	obj1 := objects.New(objects.KindMap, func() { released++ })
	obj2 := objects.New(objects.KindMap, func() { released++ })
	require.NoError(t, table.Insert([]byte("a"), obj1))
	require.NoError(t, table.Insert([]byte("b"), obj2))

	table.Close()
	assert.Equal(t, 2, released)
	assert.Equal(t, 0, table.Len())
}
