package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sigaldry/sigaldry/construction"
	"github.com/sigaldry/sigaldry/runes"
)

// localKey is an arena entry. The construction reference lets Seal and
// Unseal dispatch without the caller resupplying it.
type localKey struct {
	construction *construction.Construction
	material     []byte
	schema       runes.Schema
}

// Local is the SameProcess channel: key material lives in an in-process
// arena keyed by handle, never inside the handle itself.
type Local struct {
	mu   sync.RWMutex
	keys map[KeyHandle]*localKey
}

// NewLocal returns an empty same-process channel.
func NewLocal() *Local {
	return &Local{keys: make(map[KeyHandle]*localKey)}
}

func (l *Local) Level() runes.IsolationLevel { return runes.SameProcess }

func (l *Local) Environment() runes.Schema {
	return runes.Schema{runes.Isolation{Level: runes.SameProcess}}
}

func (l *Local) GenerateKey(ctx context.Context, c *construction.Construction, schema runes.Schema) (KeyHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	material, err := c.Primitive().Keygen()
	if err != nil {
		return "", fmt.Errorf("generating key for %s: %w", c.Identifier(), err)
	}

	handle := KeyHandle(uuid.NewString())
	l.mu.Lock()
	l.keys[handle] = &localKey{construction: c, material: material, schema: schema.Clone()}
	l.mu.Unlock()
	return handle, nil
}

func (l *Local) lookup(handle KeyHandle) (*localKey, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	k, ok := l.keys[handle]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return k, nil
}

func (l *Local) Seal(ctx context.Context, handle KeyHandle, plaintext, aad []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, err := l.lookup(handle)
	if err != nil {
		return nil, err
	}
	return k.construction.Primitive().Seal(k.material, plaintext, aad)
}

func (l *Local) Unseal(ctx context.Context, handle KeyHandle, payload, aad []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, err := l.lookup(handle)
	if err != nil {
		return nil, err
	}
	return k.construction.Primitive().Unseal(k.material, payload, aad)
}

// DestroyKey zeroes the key material and removes the arena entry.
// Destroying an unknown handle reports ErrUnknownHandle so the caller
// can distinguish "already destroyed" from success.
func (l *Local) DestroyKey(ctx context.Context, handle KeyHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k, ok := l.keys[handle]
	if !ok {
		return ErrUnknownHandle
	}
	for i := range k.material {
		k.material[i] = 0
	}
	delete(l.keys, handle)
	return nil
}
