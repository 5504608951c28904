package aead

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := DeriveKey([]byte("shared secret"), "test")
	require.NoError(t, err)

	sealed, err := Seal(key, []byte("payload"))
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "payload")

	opened, err := Open(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(opened))
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key, err := DeriveKey([]byte("shared secret"), "test")
	require.NoError(t, err)
	other, err := DeriveKey([]byte("shared secret"), "other-purpose")
	require.NoError(t, err)

	sealed, err := Seal(key, []byte("payload"))
	require.NoError(t, err)

	_, err = Open(other, sealed)
	assert.Error(t, err)
}

func TestDeriveKeySeparatesPurposes(t *testing.T) {
	a, err := DeriveKey([]byte("secret"), "purpose-a")
	require.NoError(t, err)
	b, err := DeriveKey([]byte("secret"), "purpose-b")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = DeriveKey(nil, "purpose")
	assert.Error(t, err)
}

func TestOpenRejectsTruncatedCiphertext(t *testing.T) {
	key, err := DeriveKey([]byte("secret"), "test")
	require.NoError(t, err)

	_, err = Open(key, []byte("short"))
	assert.Error(t, err)
}
