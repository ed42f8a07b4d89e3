// Package bindrune manages the lifecycle of bound keys. A BindRune is
// forged from a schema, binds one construction and one key for its whole
// life, seals and unseals messages within its budget, and is revoked
// exactly once. There is no rebind and no re-activation: a new schema
// means a new forge.
package bindrune

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/sigaldry/sigaldry/channel"
	"github.com/sigaldry/sigaldry/codec"
	"github.com/sigaldry/sigaldry/construction"
	"github.com/sigaldry/sigaldry/runes"
)

var (
	// ErrRevoked is returned by every operation on a revoked BindRune.
	ErrRevoked = errors.New("bindrune: revoked")

	// ErrMessageLimitExceeded is returned by Seal once the message budget
	// is exhausted. The key is not usable for further sealing.
	ErrMessageLimitExceeded = errors.New("bindrune: message limit exceeded")

	// ErrMessageTooLong is returned by Seal when the plaintext exceeds
	// the bound per-message size limit.
	ErrMessageTooLong = errors.New("bindrune: message exceeds size limit")

	// ErrTotalDataLimitExceeded is returned by Seal once the cumulative
	// data budget cannot cover the plaintext. The key is not usable for
	// further sealing of messages that size.
	ErrTotalDataLimitExceeded = errors.New("bindrune: total data limit exceeded")

	// ErrConstructionMismatch is returned by Unseal when the message
	// envelope names a construction other than the bound one. No
	// cryptographic work is attempted.
	ErrConstructionMismatch = errors.New("bindrune: construction mismatch")

	// ErrIntegrityViolation is returned by Unseal when the sealed payload
	// fails verification under a confidentiality or integrity
	// construction. Always fatal; the message cannot be recovered.
	ErrIntegrityViolation = errors.New("bindrune: integrity violation")

	// ErrAuthenticationFailure is returned by Unseal when a signature
	// does not verify under an authentication construction.
	ErrAuthenticationFailure = errors.New("bindrune: authentication failure")
)

// DestroyUnconfirmedError reports that revocation took effect locally
// but the channel could not confirm key destruction. Calling Revoke
// again retries the destruction; the BindRune stays revoked either way.
type DestroyUnconfirmedError struct {
	Handle channel.KeyHandle
	Err    error
}

func (e *DestroyUnconfirmedError) Error() string {
	return fmt.Sprintf("bindrune: revoked but key destruction unconfirmed for handle %s: %v", e.Handle, e.Err)
}

func (e *DestroyUnconfirmedError) Unwrap() error { return e.Err }

// BindRune is a live binding between a schema, a construction, and key
// material held by an isolation channel.
//
// Seal and Unseal are safe for concurrent use. Revoke linearizes with
// in-flight operations: it waits for them to drain, so no seal or
// unseal ever runs against destroyed key material.
type BindRune struct {
	// mu is held shared by Seal and Unseal for their full duration and
	// exclusively by Revoke.
	mu      sync.RWMutex
	revoked atomic.Bool

	con    *construction.Construction
	schema runes.Schema
	ch     channel.IsolationChannel
	cdc    codec.Codec
	handle channel.KeyHandle
	origin string

	// budget is nil for an unbounded binding. It is decremented before
	// the channel call, so a failed seal still consumes a message slot.
	budget *atomic.Uint64

	// dataBudget counts the cumulative plaintext bytes still sealable.
	// Nil for an unbounded binding; consumed before the channel call,
	// like budget.
	dataBudget *atomic.Uint64

	// sizeLimit is zero for an unbounded binding.
	sizeLimit uint64

	// verifyErr is the lifecycle error a failed payload verification maps
	// to, fixed at forge time from the construction's capability set.
	verifyErr error

	// destroyed tracks whether the channel confirmed key destruction.
	destroyed bool
}

// Construction returns the bound construction.
func (b *BindRune) Construction() *construction.Construction { return b.con }

// Schema returns a copy of the schema the BindRune was forged from.
func (b *BindRune) Schema() runes.Schema { return b.schema.Clone() }

// Handle returns the channel handle of the bound key.
func (b *BindRune) Handle() channel.KeyHandle { return b.handle }

// Remaining reports the number of messages left in the budget. The
// second return is false for an unbounded binding.
func (b *BindRune) Remaining() (uint64, bool) {
	if b.budget == nil {
		return 0, false
	}
	return b.budget.Load(), true
}

// RemainingData reports the cumulative plaintext bytes left in the data
// budget. The second return is false for an unbounded binding.
func (b *BindRune) RemainingData() (uint64, bool) {
	if b.dataBudget == nil {
		return 0, false
	}
	return b.dataBudget.Load(), true
}

// Revoked reports whether the BindRune has been revoked.
func (b *BindRune) Revoked() bool { return b.revoked.Load() }

// Seal protects plaintext under the bound key and returns an encoded
// envelope. The message and data budgets are consumed before the
// channel call: under concurrent sealing, exactly budget-many calls
// reach the key and every later call fails with
// ErrMessageLimitExceeded, and the cumulative plaintext reaching the
// key never exceeds the data budget.
func (b *BindRune) Seal(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.revoked.Load() {
		return nil, ErrRevoked
	}
	if b.sizeLimit > 0 && uint64(len(plaintext)) > b.sizeLimit {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLong, len(plaintext), b.sizeLimit)
	}

	if b.budget != nil {
		for {
			n := b.budget.Load()
			if n == 0 {
				return nil, ErrMessageLimitExceeded
			}
			if b.budget.CompareAndSwap(n, n-1) {
				break
			}
		}
	}
	if b.dataBudget != nil {
		need := uint64(len(plaintext))
		for {
			n := b.dataBudget.Load()
			if n < need {
				return nil, ErrTotalDataLimitExceeded
			}
			if b.dataBudget.CompareAndSwap(n, n-need) {
				break
			}
		}
	}

	payload, err := b.ch.Seal(ctx, b.handle, plaintext, aad)
	if err != nil {
		return nil, err
	}

	return b.cdc.Encode(&codec.Envelope{
		Version:        codec.EnvelopeVersion,
		ConstructionID: b.con.Identifier().String(),
		Payload:        payload,
		Origin:         b.origin,
		SealedAt:       time.Now().UTC(),
	})
}

// Unseal decodes a sealed message and recovers the plaintext. The
// envelope's construction is checked against the bound one before any
// cryptographic work; verification failures map to ErrIntegrityViolation
// or ErrAuthenticationFailure depending on what the bound construction
// provides. Unsealing does not consume the message budget.
func (b *BindRune) Unseal(ctx context.Context, sealed, aad []byte) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.revoked.Load() {
		return nil, ErrRevoked
	}

	env, err := b.cdc.Decode(sealed)
	if err != nil {
		return nil, err
	}
	if env.ConstructionID != b.con.Identifier().String() {
		return nil, fmt.Errorf("%w: message sealed with %q, bound to %q",
			ErrConstructionMismatch, env.ConstructionID, b.con.Identifier())
	}

	plaintext, err := b.ch.Unseal(ctx, b.handle, env.Payload, aad)
	if errors.Is(err, construction.ErrVerificationFailed) {
		return nil, b.verifyErr
	}
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// Revoke invalidates the BindRune and destroys the bound key material.
// Revocation is irrevocable and takes effect even when destruction
// cannot be confirmed: in that case Revoke returns a
// DestroyUnconfirmedError and a later Revoke retries only the
// destruction. Revoking an already fully revoked BindRune is a no-op.
func (b *BindRune) Revoke(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.revoked.Load() && b.destroyed {
		return nil
	}
	b.revoked.Store(true)

	err := b.ch.DestroyKey(ctx, b.handle)
	if errors.Is(err, channel.ErrUnknownHandle) {
		// A previous destroy went through but its confirmation was lost.
		err = nil
	}
	if err != nil {
		return &DestroyUnconfirmedError{Handle: b.handle, Err: err}
	}
	b.destroyed = true
	return nil
}

// verificationError picks the lifecycle error for failed payload
// verification. A construction that authenticates without encrypting
// fails verification on a bad signature; everything else fails on a bad
// tag.
func verificationError(caps runes.Schema) error {
	_, auth := caps.Get(runes.KindAuthentication)
	_, conf := caps.Get(runes.KindConfidentiality)
	if auth && !conf {
		return ErrAuthenticationFailure
	}
	return ErrIntegrityViolation
}
