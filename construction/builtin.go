package construction

import (
	"crypto/ed25519"

	"github.com/sigaldry/sigaldry/runes"
	"golang.org/x/crypto/chacha20poly1305"
)

// Built-in construction identifiers.
const (
	AEAD128       ID = "AEAD-128"
	AEAD256       ID = "AEAD-256"
	ChaCha20      ID = "CHACHA20-POLY1305"
	MLKEMHybrid   ID = "MLKEM768-CHACHA20"
	Ed25519Signer ID = "ED25519-SIG"
)

// Message limits reported by the built-in capability sets. AES-GCM and
// ChaCha20-Poly1305 use random 96-bit nonces, so the collision bound of
// 2^32 messages applies per NIST SP 800-38D. The hybrid construction
// encapsulates a fresh AEAD key per message and carries no such bound.
//
// Total data is reported unbounded for every built-in: the message
// count and per-message size bounds jointly cap cumulative data at
// 2^68 bytes for the AEADs, past what a uint64 byte count can express.
// The enforced total comes from the requested (or default) rune.
const (
	gcmMessageLimit     uint64 = 1 << 32
	gcmMessageSizeLimit uint64 = 1 << 36 // CTR 32-bit block counter
	chachaSizeLimit     uint64 = 1 << 38
)

// DefaultRegistry returns a frozen registry holding the built-in
// constructions, in the order they are listed here. Registration order
// is the resolver's tie-break: AES-256-GCM leads so that open
// resolution lands on the strongest symmetric scheme, with AEAD-128
// available to callers who pin it.
func DefaultRegistry() (*Registry, error) {
	reg := NewRegistry()
	for _, build := range []func() (*Construction, error){
		NewAEAD256,
		NewAEAD128,
		NewChaCha20Poly1305,
		NewMLKEMHybrid,
		NewEd25519Signer,
	} {
		c, err := build()
		if err != nil {
			return nil, err
		}
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	reg.Freeze()
	return reg, nil
}

// NewAEAD128 is AES-128-GCM with a random nonce.
func NewAEAD128() (*Construction, error) {
	return New(AEAD128,
		runes.Schema{
			runes.Confidentiality{},
			runes.Integrity{},
			runes.MessageLimit{Count: gcmMessageLimit},
			runes.MessageSizeLimit{Bytes: gcmMessageSizeLimit},
			runes.UnboundedTotalDataLimit(),
			runes.SecurityBits{Bits: 128},
		},
		Params{Algorithm: "AES-128-GCM", KeySize: 16},
		aesGCM{keySize: 16},
	)
}

// NewAEAD256 is AES-256-GCM with a random nonce.
func NewAEAD256() (*Construction, error) {
	return New(AEAD256,
		runes.Schema{
			runes.Confidentiality{},
			runes.Integrity{},
			runes.MessageLimit{Count: gcmMessageLimit},
			runes.MessageSizeLimit{Bytes: gcmMessageSizeLimit},
			runes.UnboundedTotalDataLimit(),
			runes.SecurityBits{Bits: 256},
		},
		Params{Algorithm: "AES-256-GCM", KeySize: 32},
		aesGCM{keySize: 32},
	)
}

// NewChaCha20Poly1305 is RFC 8439 ChaCha20-Poly1305 with a random nonce.
func NewChaCha20Poly1305() (*Construction, error) {
	return New(ChaCha20,
		runes.Schema{
			runes.Confidentiality{},
			runes.Integrity{},
			runes.MessageLimit{Count: gcmMessageLimit},
			runes.MessageSizeLimit{Bytes: chachaSizeLimit},
			runes.UnboundedTotalDataLimit(),
			runes.SecurityBits{Bits: 256},
		},
		Params{Algorithm: "ChaCha20-Poly1305", KeySize: chacha20poly1305.KeySize},
		chaChaPoly{},
	)
}

// NewMLKEMHybrid is the ML-KEM-768 + ChaCha20-Poly1305 hybrid. Security
// bits follow the ML-KEM-768 claimed classical level (NIST category 3).
func NewMLKEMHybrid() (*Construction, error) {
	return New(MLKEMHybrid,
		runes.Schema{
			runes.Confidentiality{},
			runes.Integrity{},
			runes.QuantumResistance{},
			runes.UnboundedMessageLimit(),
			runes.MessageSizeLimit{Bytes: chachaSizeLimit},
			runes.UnboundedTotalDataLimit(),
			runes.SecurityBits{Bits: 192},
		},
		Params{Algorithm: "ML-KEM-768+ChaCha20-Poly1305", KeySize: 2400},
		mlkemHybrid{},
	)
}

// NewEd25519Signer is detached Ed25519 signing: integrity and source
// authentication without confidentiality.
func NewEd25519Signer() (*Construction, error) {
	return New(Ed25519Signer,
		runes.Schema{
			runes.Integrity{},
			runes.Authentication{},
			runes.UnboundedMessageLimit(),
			runes.UnboundedMessageSizeLimit(),
			runes.UnboundedTotalDataLimit(),
			runes.SecurityBits{Bits: 128},
		},
		Params{Algorithm: "Ed25519", KeySize: ed25519.PrivateKeySize},
		ed25519Sig{},
	)
}
