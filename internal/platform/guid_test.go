package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewGUID_IsUniqueAndNotNil(t *testing.T) {
	a := NewGUID()
	b := NewGUID()

	assert.NotEqual(t, NilGUID, a)
	assert.NotEqual(t, a, b)
}

func TestParseGUID_RoundTrip(t *testing.T) {
	want := NewGUID()
	got, err := ParseGUID(want.String())
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCompareUTF8_IsByteVerbatim(t *testing.T) {
	assert.True(t, CompareUTF8([]byte("foo"), []byte("foo")))
	assert.False(t, CompareUTF8([]byte("foo"), []byte("FOO")))
	assert.False(t, CompareUTF8([]byte("foo"), []byte("foo ")))
}
