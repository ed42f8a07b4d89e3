package construction

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// aesGCM implements Primitive with AES-GCM. Payload layout:
// nonce (12 bytes) || ciphertext || tag (16 bytes).
type aesGCM struct {
	keySize int
}

func (p aesGCM) Keygen() ([]byte, error) {
	key := make([]byte, p.keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating AES key: %w", err)
	}
	return key, nil
}

func (p aesGCM) aead(key []byte) (cipher.AEAD, error) {
	if len(key) != p.keySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(key), p.keySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (p aesGCM) Seal(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := p.aead(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func (p aesGCM) Unseal(key, payload, aad []byte) ([]byte, error) {
	gcm, err := p.aead(key)
	if err != nil {
		return nil, err
	}
	if len(payload) < gcm.NonceSize()+gcm.Overhead() {
		return nil, ErrVerificationFailed
	}
	nonce, ciphertext := payload[:gcm.NonceSize()], payload[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrVerificationFailed
	}
	return plaintext, nil
}

// chaChaPoly implements Primitive with ChaCha20-Poly1305. Same payload
// layout as aesGCM.
type chaChaPoly struct{}

func (chaChaPoly) Keygen() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating ChaCha20 key: %w", err)
	}
	return key, nil
}

func (chaChaPoly) Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

func (chaChaPoly) Unseal(key, payload, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(payload) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrVerificationFailed
	}
	nonce, ciphertext := payload[:aead.NonceSize()], payload[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrVerificationFailed
	}
	return plaintext, nil
}
