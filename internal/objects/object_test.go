package objects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObject_DestructorRunsExactlyOnce(t *testing.T) {
	runs := 0
	o := New(KindMap, func() { runs++ })

	o.AcquireReference()
	o.AcquireReference()
	assert.EqualValues(t, 3, o.RefCount())

	o.ReleaseReference()
	o.ReleaseReference()
	assert.Equal(t, 0, runs, "destructor must not run while references remain")

	o.ReleaseReference()
	assert.Equal(t, 1, runs)
}

func TestObject_ReleaseUnderflowPanics(t *testing.T) {
	o := New(KindProgram, func() {})
	o.ReleaseReference()

	assert.Panics(t, func() { o.ReleaseReference() })
}

func TestObject_AcquireAfterDestructionPanics(t *testing.T) {
	o := New(KindLink, func() {})
	o.ReleaseReference()

	require.Equal(t, int64(0), o.RefCount())
	assert.Panics(t, func() { o.AcquireReference() })
}
