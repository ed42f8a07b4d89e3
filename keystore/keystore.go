// Package keystore persists the custodian's key records. Key material is
// never stored in the clear: records carry the key wrapped under the
// custodian's master key (see Wrapper), so a compromised backend yields
// only ciphertext.
//
// Backends are created from location URIs (memory://, file://, vault://)
// through ForURI, mirroring the storage-factory pattern used for
// provisioning backends.
package keystore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists under the requested id.
var ErrNotFound = errors.New("keystore: record not found")

// Record is one held key. WrappedKey is the construction's key material
// encrypted under the custodian master key; Schema is the forge-time
// schema in wire form, kept for audit.
type Record struct {
	ConstructionID string    `cbor:"construction_id"`
	WrappedKey     []byte    `cbor:"wrapped_key"`
	Schema         []byte    `cbor:"schema,omitempty"`
	CreatedAt      time.Time `cbor:"created_at"`
}

// Store is the custodian's record persistence. Implementations must be
// safe for concurrent use.
type Store interface {
	Put(ctx context.Context, id string, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
}
