package enc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vouch/pkg/domerr"
)

func TestShowReadRoundTrip(t *testing.T) {
	in := []byte{0x00, 0x01, 0xfe, 0xff, 0x7f}
	out, err := Read(Show(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReadRejectsGarbage(t *testing.T) {
	_, err := Read("not base64 at all!!")
	require.Error(t, err)
	assert.Equal(t, domerr.CodeDecode, domerr.CodeOf(err))
}

func TestShowIsURLSafe(t *testing.T) {
	// Bytes chosen to force '+' and '/' under standard base64.
	s := Show([]byte{0xfb, 0xef, 0xbe})
	assert.NotContains(t, s, "+")
	assert.NotContains(t, s, "/")
	assert.NotContains(t, s, "=")
}

func TestMustReadPanicsOnInvalidInput(t *testing.T) {
	assert.Panics(t, func() { MustRead("!!!") })
	assert.Equal(t, []byte("ok"), MustRead(Show([]byte("ok"))))
}

func TestSaltedHash(t *testing.T) {
	h1, err := NewHasher([]byte("salt-one"))
	require.NoError(t, err)
	h2, err := NewHasher([]byte("salt-two"))
	require.NoError(t, err)

	msg := []byte("the same message")
	first := h1.SaltedHash(msg)
	assert.Equal(t, first, h1.SaltedHash(msg), "keyed hash must be deterministic")
	assert.NotEqual(t, first, h2.SaltedHash(msg), "different salts must not collide")
	assert.NotEqual(t, first, BlandHash(msg), "keyed and unkeyed variants must differ")

	raw, err := Read(first)
	require.NoError(t, err)
	assert.Len(t, raw, HashSize)
}

func TestNewHasherRejectsEmptySalt(t *testing.T) {
	_, err := NewHasher(nil)
	require.Error(t, err)
	assert.Equal(t, domerr.CodeInvalidInput, domerr.CodeOf(err))
}

func TestBlandHashSize(t *testing.T) {
	raw, err := Read(BlandHash([]byte("x")))
	require.NoError(t, err)
	assert.Len(t, raw, HashSize)
}
