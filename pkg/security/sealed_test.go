package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	blob, err := Seal("passphrase", []byte("hello"))
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "hello")

	plain, err := Open("passphrase", blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plain)
}

func TestSealProducesUniqueBlobs(t *testing.T) {
	a, err := Seal("passphrase", []byte("same input"))
	require.NoError(t, err)
	b, err := Seal("passphrase", []byte("same input"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh salt and nonce per seal")
}

func TestOpenWrongSecret(t *testing.T) {
	blob, err := Seal("right", []byte("secret data"))
	require.NoError(t, err)

	_, err = Open("wrong", blob)
	assert.ErrorIs(t, err, ErrWrongSecret)
}

func TestOpenCorruptBlob(t *testing.T) {
	_, err := Open("passphrase", []byte("short"))
	assert.ErrorIs(t, err, ErrCorruptBlob)

	blob, err := Seal("passphrase", []byte("data"))
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xff
	_, err = Open("passphrase", blob)
	assert.ErrorIs(t, err, ErrWrongSecret)
}
