package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoValidKey is returned when no key in the ring can decrypt a ciphertext.
var ErrNoValidKey = errors.New("no key in ring decrypts ciphertext")

// Encryptor seals fact content with AES-GCM. It holds a key ring: the first
// key encrypts, every key is tried on decrypt so old ciphertexts survive a
// key rotation.
type Encryptor struct {
	ring []cipher.AEAD
}

// NewEncryptor builds an Encryptor from a comma-separated list of 64-hex-char
// keys, newest first.
func NewEncryptor(hexKeys string) (*Encryptor, error) {
	parts := strings.Split(hexKeys, ",")
	ring := make([]cipher.AEAD, 0, len(parts))
	for i, part := range parts {
		key, err := hex.DecodeString(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("decoding encryption key %d: %w", i, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("encryption key %d must be 32 bytes (64 hex chars), got %d bytes", i, len(key))
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("creating AES cipher for key %d: %w", i, err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("creating GCM for key %d: %w", i, err)
		}
		ring = append(ring, gcm)
	}
	if len(ring) == 0 {
		return nil, errors.New("encryption key ring is empty")
	}
	return &Encryptor{ring: ring}, nil
}

// Encrypt seals plaintext with the newest key.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	gcm := e.ring[0]
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), nil
}

// Decrypt tries every key in the ring, newest first.
func (e *Encryptor) Decrypt(ciphertextHex string) (string, error) {
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}

	for _, gcm := range e.ring {
		nonceSize := gcm.NonceSize()
		if len(ciphertext) < nonceSize {
			continue
		}
		nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
		plaintext, err := gcm.Open(nil, nonce, sealed, nil)
		if err == nil {
			return string(plaintext), nil
		}
	}
	return "", ErrNoValidKey
}
