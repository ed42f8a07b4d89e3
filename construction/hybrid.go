package construction

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo domain-separates the KEM shared secret from other uses.
var hybridHKDFInfo = []byte("sigaldry mlkem768 chacha20poly1305 v1")

// mlkemHybrid implements Primitive as an ML-KEM-768 + ChaCha20-Poly1305
// hybrid. Each seal encapsulates a fresh shared secret against the
// keypair's public key and derives a one-time AEAD key from it, so the
// construction is quantum resistant and has no practical message limit.
//
// Key material is the packed ML-KEM-768 private key; the public key is
// recovered from it for sealing. Payload layout:
// kemCiphertext || nonce (12 bytes) || ciphertext || tag (16 bytes).
type mlkemHybrid struct{}

func (mlkemHybrid) Keygen() ([]byte, error) {
	scheme := mlkem768.Scheme()
	_, priv, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating ML-KEM-768 keypair: %w", err)
	}
	return priv.MarshalBinary()
}

func (mlkemHybrid) deriveAEADKey(sharedSecret []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, sharedSecret, nil, hybridHKDFInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving AEAD key: %w", err)
	}
	return key, nil
}

func (p mlkemHybrid) Seal(key, plaintext, aad []byte) ([]byte, error) {
	scheme := mlkem768.Scheme()
	priv, err := scheme.UnmarshalBinaryPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unpacking ML-KEM-768 private key: %w", err)
	}

	kemCiphertext, sharedSecret, err := scheme.Encapsulate(priv.Public())
	if err != nil {
		return nil, fmt.Errorf("encapsulating: %w", err)
	}

	aeadKey, err := p.deriveAEADKey(sharedSecret)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(aeadKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	payload := make([]byte, 0, len(kemCiphertext)+len(nonce)+len(plaintext)+aead.Overhead())
	payload = append(payload, kemCiphertext...)
	payload = append(payload, nonce...)
	return aead.Seal(payload, nonce, plaintext, aad), nil
}

func (p mlkemHybrid) Unseal(key, payload, aad []byte) ([]byte, error) {
	scheme := mlkem768.Scheme()
	priv, err := scheme.UnmarshalBinaryPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unpacking ML-KEM-768 private key: %w", err)
	}

	ctSize := scheme.CiphertextSize()
	if len(payload) < ctSize+chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, ErrVerificationFailed
	}
	kemCiphertext := payload[:ctSize]
	nonce := payload[ctSize : ctSize+chacha20poly1305.NonceSize]
	ciphertext := payload[ctSize+chacha20poly1305.NonceSize:]

	sharedSecret, err := scheme.Decapsulate(priv, kemCiphertext)
	if err != nil {
		return nil, ErrVerificationFailed
	}

	aeadKey, err := p.deriveAEADKey(sharedSecret)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(aeadKey)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrVerificationFailed
	}
	return plaintext, nil
}
