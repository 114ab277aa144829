package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	keyA = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	keyB = "fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210"
)

func TestEncryptor_RoundTrip(t *testing.T) {
	enc, err := NewEncryptor(keyA)
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt("my email is a@b.com")
	require.NoError(t, err)
	assert.NotEqual(t, "my email is a@b.com", ciphertext)

	plaintext, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "my email is a@b.com", plaintext)
}

func TestEncryptor_KeyRotation(t *testing.T) {
	oldEnc, err := NewEncryptor(keyB)
	require.NoError(t, err)
	ciphertext, err := oldEnc.Encrypt("sealed under the old key")
	require.NoError(t, err)

	// New ring: keyA is newest, keyB retained for old ciphertexts
	enc, err := NewEncryptor(keyA + "," + keyB)
	require.NoError(t, err)

	plaintext, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "sealed under the old key", plaintext)
}

func TestEncryptor_NoValidKey(t *testing.T) {
	encA, err := NewEncryptor(keyA)
	require.NoError(t, err)
	encB, err := NewEncryptor(keyB)
	require.NoError(t, err)

	ciphertext, err := encA.Encrypt("secret")
	require.NoError(t, err)

	_, err = encB.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrNoValidKey)
}

func TestEncryptor_InvalidKey(t *testing.T) {
	_, err := NewEncryptor("nothex")
	assert.Error(t, err)

	_, err = NewEncryptor("abcd")
	assert.Error(t, err)
}

func TestDetectPII(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"my email is jane@example.com", "email"},
		{"call me at +1 5551234567", "phone"},
		{"I prefer dark roast coffee", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectPII(tt.text), tt.text)
	}
}
