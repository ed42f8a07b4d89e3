package construction

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// ed25519Sig implements Primitive as a detached-signature scheme: Seal
// signs, Unseal verifies. Sealed data stays readable; the construction
// provides integrity and source authentication but no confidentiality.
//
// Key material is the 64-byte Ed25519 private key (seed || public key).
// Payload layout: signature (64 bytes) || plaintext. The signature
// covers len(plaintext) || plaintext || aad; the length prefix fixes
// the plaintext/aad boundary so two different splits of the same byte
// stream never share a signature.
type ed25519Sig struct{}

func (ed25519Sig) Keygen() ([]byte, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating Ed25519 key: %w", err)
	}
	return priv, nil
}

// signedMessage is the byte stream the signature covers: an 8-byte
// big-endian plaintext length, the plaintext, then the aad.
func signedMessage(plaintext, aad []byte) []byte {
	msg := make([]byte, 8, 8+len(plaintext)+len(aad))
	binary.BigEndian.PutUint64(msg, uint64(len(plaintext)))
	msg = append(msg, plaintext...)
	return append(msg, aad...)
}

func (ed25519Sig) Seal(key, plaintext, aad []byte) ([]byte, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid Ed25519 key size: got %d, want %d", len(key), ed25519.PrivateKeySize)
	}
	sig := ed25519.Sign(ed25519.PrivateKey(key), signedMessage(plaintext, aad))

	payload := make([]byte, 0, len(sig)+len(plaintext))
	payload = append(payload, sig...)
	return append(payload, plaintext...), nil
}

func (ed25519Sig) Unseal(key, payload, aad []byte) ([]byte, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid Ed25519 key size: got %d, want %d", len(key), ed25519.PrivateKeySize)
	}
	if len(payload) < ed25519.SignatureSize {
		return nil, ErrVerificationFailed
	}
	sig, plaintext := payload[:ed25519.SignatureSize], payload[ed25519.SignatureSize:]

	pub := ed25519.PrivateKey(key).Public().(ed25519.PublicKey)
	if !ed25519.Verify(pub, signedMessage(plaintext, aad), sig) {
		return nil, ErrVerificationFailed
	}
	out := make([]byte, len(plaintext))
	copy(out, plaintext)
	return out, nil
}
