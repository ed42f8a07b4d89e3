package construction

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sigaldry/sigaldry/runes"
)

// ErrNotFound is returned by ResolvePinned when the named construction
// is not registered.
var ErrNotFound = errors.New("construction: not found")

// UnsatisfiableError reports that no registered construction covers the
// requested schema. It names the unmet runes per candidate so a security
// review can see exactly why each was rejected.
type UnsatisfiableError struct {
	Schema runes.Schema
	// Unmet maps each candidate construction to the requested runes its
	// capability set does not satisfy, in registration order.
	Unmet map[ID][]runes.Rune
}

func (e *UnsatisfiableError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "construction: no registered construction satisfies %s", e.Schema)
	for id, unmet := range e.Unmet {
		fmt.Fprintf(&b, "; %s misses %s", id, runes.Schema(unmet))
	}
	return b.String()
}

// SchemaNotSatisfiedError reports that a pinned construction's
// capability set does not cover the requested schema, listing exactly
// the unmet runes.
type SchemaNotSatisfiedError struct {
	ID    ID
	Unmet []runes.Rune
}

func (e *SchemaNotSatisfiedError) Error() string {
	return fmt.Sprintf("construction %s does not satisfy schema: unmet %s", e.ID, runes.Schema(e.Unmet))
}

// Resolve searches the registry for the first construction, in
// registration order, whose capability set satisfies every rune of the
// schema. Registration order is the deterministic tie-break: repeated
// resolution against an unchanged registry always returns the same
// construction. The schema must already be validated.
func Resolve(reg *Registry, schema runes.Schema) (*Construction, error) {
	unmet := make(map[ID][]runes.Rune)
	for _, c := range reg.All() {
		missing := c.Unmet(schema)
		if len(missing) == 0 {
			return c, nil
		}
		unmet[c.Identifier()] = missing
	}
	return nil, &UnsatisfiableError{Schema: schema.Clone(), Unmet: unmet}
}

// ResolvePinned validates the caller-named construction against the
// schema. It fails with ErrNotFound if id is unregistered, or with a
// SchemaNotSatisfiedError naming the unmet runes. Resolution never
// silently downgrades to a weaker construction.
func ResolvePinned(reg *Registry, id ID, schema runes.Schema) (*Construction, error) {
	c, ok := reg.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if missing := c.Unmet(schema); len(missing) > 0 {
		return nil, &SchemaNotSatisfiedError{ID: id, Unmet: missing}
	}
	return c, nil
}
