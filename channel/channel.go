// Package channel abstracts where key generation and cryptographic
// operations execute: in the caller's process, a separate process, a
// virtual machine, or a discrete CPU.
//
// Key material is addressed through opaque handles. For the local
// channel the material lives in an in-process arena; for remote channels
// it never crosses back into the caller's address space. Channel
// failures are reported, never retried internally: retry policy belongs
// to the caller, which knows whether an operation is idempotent (key
// generation is not; seal and unseal of the same input are).
package channel

import (
	"context"
	"errors"

	"github.com/sigaldry/sigaldry/construction"
	"github.com/sigaldry/sigaldry/runes"
)

// KeyHandle is an opaque reference to key material owned by a channel.
// It never carries secret bytes.
type KeyHandle string

func (h KeyHandle) String() string { return string(h) }

var (
	// ErrTimeout is returned when a channel call does not complete within
	// the caller's deadline. The operation outcome at the remote end is
	// then unknown.
	ErrTimeout = errors.New("channel: operation timed out")

	// ErrConnectivityLost is returned when the transport to a remote
	// isolation environment fails.
	ErrConnectivityLost = errors.New("channel: connectivity lost")

	// ErrRemoteAttestationFailed is returned when a remote environment's
	// identity quote does not verify.
	ErrRemoteAttestationFailed = errors.New("channel: remote attestation failed")

	// ErrUnknownHandle is returned when a handle does not reference live
	// key material, typically after destruction.
	ErrUnknownHandle = errors.New("channel: unknown key handle")

	// ErrRequestRejected is returned when a remote environment rejects
	// the request as invalid. Caller-correctable; retrying the same
	// request cannot succeed.
	ErrRequestRejected = errors.New("channel: request rejected")
)

// IsolationChannel dispatches key generation and sealed-data operations
// to wherever the key lives. All blocking operations honor the context
// deadline.
type IsolationChannel interface {
	// Level reports the isolation level this channel provides.
	Level() runes.IsolationLevel

	// Environment returns the runes contributed by the execution
	// environment itself, such as its Isolation level and any
	// Certifications that apply to keys held there. These combine with a
	// construction's capability set during resolution.
	Environment() runes.Schema

	// GenerateKey creates key material for the construction inside the
	// channel's environment and returns a handle to it. The schema is
	// recorded alongside the key for audit.
	GenerateKey(ctx context.Context, c *construction.Construction, schema runes.Schema) (KeyHandle, error)

	// Seal protects plaintext under the handle's key.
	Seal(ctx context.Context, handle KeyHandle, plaintext, aad []byte) ([]byte, error)

	// Unseal recovers plaintext from a raw sealed payload.
	Unseal(ctx context.Context, handle KeyHandle, payload, aad []byte) ([]byte, error)

	// DestroyKey destroys the handle's key material. Best-effort: the
	// caller's lifecycle manager retries on transient failure, and
	// non-completion is surfaced, never swallowed.
	DestroyKey(ctx context.Context, handle KeyHandle) error
}
