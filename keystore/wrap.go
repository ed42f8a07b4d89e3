package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// ErrUnwrapFailed is returned when a wrapped key fails authentication,
// meaning the record was tampered with or wrapped under a different
// master key.
var ErrUnwrapFailed = errors.New("keystore: key unwrap failed")

// DeriveMasterKey stretches the custodian seed into a 32-byte master
// key with Argon2id. The salt domain-separates deployments sharing a
// seed source.
func DeriveMasterKey(seed, salt []byte) []byte {
	return argon2.IDKey(seed, salt, 1, 64*1024, 4, 32)
}

// Wrapper encrypts key material under the custodian master key with
// AES-256-GCM. Wrapped layout: nonce (12 bytes) || ciphertext || tag.
type Wrapper struct {
	aead cipher.AEAD
}

// NewWrapper builds a wrapper from a 32-byte master key.
func NewWrapper(masterKey []byte) (*Wrapper, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(masterKey))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Wrapper{aead: aead}, nil
}

// Wrap encrypts key material for storage.
func (w *Wrapper) Wrap(key []byte) ([]byte, error) {
	nonce := make([]byte, w.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating wrap nonce: %w", err)
	}
	return w.aead.Seal(nonce, nonce, key, nil), nil
}

// Unwrap recovers key material from a wrapped record.
func (w *Wrapper) Unwrap(wrapped []byte) ([]byte, error) {
	if len(wrapped) < w.aead.NonceSize()+w.aead.Overhead() {
		return nil, ErrUnwrapFailed
	}
	nonce, ciphertext := wrapped[:w.aead.NonceSize()], wrapped[w.aead.NonceSize():]
	key, err := w.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrUnwrapFailed
	}
	return key, nil
}
