package crypto_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsarma/sentinel/internal/crypto"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var binding = []byte("google:1234567890")

func TestNewEncryptor_RejectsBadKeys(t *testing.T) {
	_, err := crypto.NewEncryptor("not-hex")
	assert.Error(t, err)

	_, err = crypto.NewEncryptor("abcd")
	assert.Error(t, err)

	_, err = crypto.NewEncryptor(testKey)
	assert.NoError(t, err)
}

func TestSealOpen(t *testing.T) {
	enc, err := crypto.NewEncryptor(testKey)
	require.NoError(t, err)

	sealed, err := enc.Seal([]byte("ya29.access-token"), binding)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "access-token")

	opened, err := enc.Open(sealed, binding)
	require.NoError(t, err)
	assert.Equal(t, "ya29.access-token", string(opened))
}

func TestSeal_UsesFreshNonce(t *testing.T) {
	enc, err := crypto.NewEncryptor(testKey)
	require.NoError(t, err)

	a, err := enc.Seal([]byte("same"), binding)
	require.NoError(t, err)
	b, err := enc.Seal([]byte("same"), binding)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpen_RejectsTamperedCiphertext(t *testing.T) {
	enc, err := crypto.NewEncryptor(testKey)
	require.NoError(t, err)

	sealed, err := enc.Seal([]byte("refresh"), binding)
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = enc.Open(sealed, binding)
	assert.Error(t, err)

	_, err = enc.Open([]byte("short"), binding)
	assert.ErrorIs(t, err, crypto.ErrCiphertextTooShort)
}

func TestOpen_WrongBinding(t *testing.T) {
	enc, err := crypto.NewEncryptor(testKey)
	require.NoError(t, err)

	// A token copied onto another identity's row must not decrypt there.
	sealed, err := enc.Seal([]byte("secret"), binding)
	require.NoError(t, err)
	_, err = enc.Open(sealed, []byte("google:other-subject"))
	assert.Error(t, err)
}

func TestOpen_WrongKey(t *testing.T) {
	a, err := crypto.NewEncryptor(testKey)
	require.NoError(t, err)
	b, err := crypto.NewEncryptor(strings.Repeat("ff", 32))
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("secret"), binding)
	require.NoError(t, err)
	_, err = b.Open(sealed, binding)
	assert.Error(t, err)
}
