// Package codec renders seal output into a self-describing interchange
// envelope and parses it back. The envelope carries the protected
// payload plus the metadata needed to attempt unsealing; it never
// carries key material. Decode processes attacker-controlled bytes and
// must fail cleanly, never panic, on malformed input.
package codec

import (
	"fmt"
	"time"
)

// EnvelopeVersion is the current envelope format version. Decode rejects
// envelopes from other versions.
const EnvelopeVersion = 1

// maxEnvelopeSize bounds accepted envelopes to keep adversarial input
// from forcing large allocations before structural validation.
const maxEnvelopeSize = 1 << 30

// Envelope is the decoded form of a sealed message.
type Envelope struct {
	// Version is the envelope format version.
	Version uint8 `cbor:"version"`

	// ConstructionID names the construction that produced Payload. Unseal
	// verifies it against the BindRune's bound construction before any
	// cryptographic work.
	ConstructionID string `cbor:"construction_id"`

	// Payload is the raw sealed payload as produced by the construction's
	// primitive: ciphertext and tag, or signature and data, including any
	// nonce the primitive prepends.
	Payload []byte `cbor:"payload"`

	// Origin is the sender identity claim, present when the bound schema
	// carries an Authentication rune with an origin.
	Origin string `cbor:"origin,omitempty"`

	// SealedAt records when the message was sealed, in UTC.
	SealedAt time.Time `cbor:"sealed_at,omitempty"`
}

// MalformedMessageError reports structurally invalid sealed-message
// bytes.
type MalformedMessageError struct {
	Reason string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec: malformed message: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("codec: malformed message: %s", e.Reason)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// Codec converts envelopes to and from an interchange byte format.
// Implementations must uphold the round-trip law
// Decode(Encode(env)) == env for all valid envelopes.
type Codec interface {
	Encode(env *Envelope) ([]byte, error)
	Decode(data []byte) (*Envelope, error)
}
