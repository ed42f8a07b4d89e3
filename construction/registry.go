package construction

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"
)

var (
	// ErrDuplicateIdentifier is returned by Register when a construction
	// with the same identifier is already registered.
	ErrDuplicateIdentifier = errors.New("construction: duplicate identifier")

	// ErrRegistryFrozen is returned by Register after Freeze. Registration
	// is a setup-phase operation; there is no runtime mutation.
	ErrRegistryFrozen = errors.New("construction: registry is frozen")
)

// Registry is the process-wide catalog of available constructions. It
// has a two-phase lifecycle: a register-only setup phase, then a
// read-only serving phase entered by Freeze. Registration happens-before
// any resolution; the read path takes no locks once frozen.
type Registry struct {
	mu     sync.Mutex
	frozen atomic.Bool
	byID   map[ID]*Construction
	order  []*Construction
}

// NewRegistry returns an empty registry in its setup phase.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[ID]*Construction)}
}

// Register adds a construction. It fails with ErrDuplicateIdentifier if
// the identifier exists and with ErrRegistryFrozen after Freeze.
func (r *Registry) Register(c *Construction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Checked under mu so a Register racing Freeze cannot observe an
	// unfrozen registry and then insert after Freeze completes.
	if r.frozen.Load() {
		return ErrRegistryFrozen
	}
	if _, exists := r.byID[c.Identifier()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentifier, c.Identifier())
	}
	r.byID[c.Identifier()] = c
	r.order = append(r.order, c)
	return nil
}

// Freeze ends the setup phase. After Freeze the registry is immutable
// and safe for unsynchronized concurrent readers.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

// Lookup returns the construction registered under id.
func (r *Registry) Lookup(id ID) (*Construction, bool) {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	c, ok := r.byID[id]
	return c, ok
}

// All returns the registered constructions in registration order. The
// returned slice is a copy; the constructions themselves are shared and
// immutable.
func (r *Registry) All() []*Construction {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	out := make([]*Construction, len(r.order))
	copy(out, r.order)
	return out
}
