package construction

import (
	"errors"
	"fmt"

	"github.com/sigaldry/sigaldry/runes"
)

// ID uniquely identifies a registered construction.
type ID string

func (id ID) String() string { return string(id) }

// Params describes a construction's parameterization.
type Params struct {
	// Algorithm names the underlying scheme, e.g. "AES-256-GCM".
	Algorithm string

	// KeySize is the size of generated key material in bytes. For
	// asymmetric schemes this is the private key encoding size.
	KeySize int
}

// Primitive is the interface a construction's underlying cryptographic
// scheme must expose. Implementations are treated as opaque, trusted,
// constant-time-as-needed collaborators.
type Primitive interface {
	// Keygen generates fresh key material.
	Keygen() ([]byte, error)

	// Seal protects plaintext under key, binding aad. The returned
	// payload is self-contained up to the key: it carries nonce and tag
	// (or signature) alongside the protected data.
	Seal(key, plaintext, aad []byte) ([]byte, error)

	// Unseal reverses Seal. It returns ErrVerificationFailed if the
	// payload fails integrity or authenticity verification.
	Unseal(key, payload, aad []byte) ([]byte, error)
}

// ErrVerificationFailed is returned by Primitive.Unseal when a payload's
// tag or signature does not verify. It is always fatal to the operation:
// retrying a forged or corrupted message cannot succeed.
var ErrVerificationFailed = errors.New("construction: verification failed")

// Construction describes a concrete cryptographic scheme. All fields are
// set at construction time and never mutated.
type Construction struct {
	id           ID
	capabilities runes.Schema
	params       Params
	primitive    Primitive
}

// New validates and assembles a construction. The capability set must
// itself be a valid schema.
func New(id ID, capabilities runes.Schema, params Params, primitive Primitive) (*Construction, error) {
	if id == "" {
		return nil, errors.New("construction: empty identifier")
	}
	if primitive == nil {
		return nil, fmt.Errorf("construction %s: nil primitive", id)
	}
	if err := capabilities.Validate(); err != nil {
		return nil, fmt.Errorf("construction %s: invalid capability set: %w", id, err)
	}
	return &Construction{
		id:           id,
		capabilities: capabilities.Clone(),
		params:       params,
		primitive:    primitive,
	}, nil
}

// Identifier returns the construction's registry identifier.
func (c *Construction) Identifier() ID { return c.id }

// Capabilities returns a copy of the construction's capability set.
func (c *Construction) Capabilities() runes.Schema { return c.capabilities.Clone() }

// Params returns the construction's parameter set.
func (c *Construction) Params() Params { return c.params }

// Primitive returns the underlying cryptographic operations.
func (c *Construction) Primitive() Primitive { return c.primitive }

// Satisfies reports whether the capability set covers every rune of the
// requested schema.
func (c *Construction) Satisfies(requested runes.Schema) bool {
	return c.capabilities.Satisfies(requested)
}

// Unmet returns the requested runes the capability set does not cover.
func (c *Construction) Unmet(requested runes.Schema) []runes.Rune {
	return c.capabilities.Unmet(requested)
}
