// Package crypto seals provider tokens before they reach the database.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
)

// ErrCiphertextTooShort is returned by Open for values shorter than a nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Encryptor seals provider tokens at rest using AES-256-GCM. The AEAD is
// built once; cipher.AEAD is safe for concurrent use.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates an Encryptor from a 32-byte hex-encoded key.
func NewEncryptor(keyHex string) (*Encryptor, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, errors.New("TOKEN_ENCRYPTION_KEY must be hex-encoded")
	}
	if len(key) != 32 {
		return nil, errors.New("TOKEN_ENCRYPTION_KEY must be 32 bytes (64 hex chars)")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryptor{aead: aead}, nil
}

// Seal encrypts plaintext and binds it to binding, usually the identity key
// the token belongs to. Output format: [nonce(12) | ciphertext+tag].
func (e *Encryptor) Seal(plaintext, binding []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.aead.Seal(nonce, nonce, plaintext, binding), nil
}

// Open decrypts a value produced by Seal with the same binding.
func (e *Encryptor) Open(data, binding []byte) ([]byte, error) {
	n := e.aead.NonceSize()
	if len(data) < n {
		return nil, ErrCiphertextTooShort
	}
	return e.aead.Open(nil, data[:n], data[n:], binding)
}
