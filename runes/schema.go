package runes

import (
	"fmt"
	"strings"
)

// SchemaErrorReason classifies why a schema is invalid.
type SchemaErrorReason string

const (
	// DuplicateKind means two runes in the schema share a kind.
	DuplicateKind SchemaErrorReason = "duplicate kind"

	// InvalidAssociatedData means a rune's data is outside its legal
	// domain.
	InvalidAssociatedData SchemaErrorReason = "invalid associated data"
)

// SchemaError reports an invalid schema. Schema errors are
// caller-correctable and are never retried.
type SchemaError struct {
	Reason SchemaErrorReason
	Kind   Kind
	Detail string
}

func (e *SchemaError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("schema: %s: %s", e.Reason, e.Kind)
	}
	return fmt.Sprintf("schema: %s: %s: %s", e.Reason, e.Kind, e.Detail)
}

// Schema is an ordered sequence of rune requests, or a construction's
// capability set. A schema is immutable once handed to the resolver; the
// provider copies it at forge time so later caller mutation cannot affect
// a bound key.
type Schema []Rune

// Validate fails with DuplicateKind if two runes share a kind, or with
// InvalidAssociatedData if any rune's data is out of its legal domain.
func (s Schema) Validate() error {
	seen := make(map[Kind]struct{}, len(s))
	for _, r := range s {
		if _, dup := seen[r.Kind()]; dup {
			return &SchemaError{Reason: DuplicateKind, Kind: r.Kind()}
		}
		seen[r.Kind()] = struct{}{}
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the rune of the given kind, if present.
func (s Schema) Get(k Kind) (Rune, bool) {
	for _, r := range s {
		if r.Kind() == k {
			return r, true
		}
	}
	return nil, false
}

// Clone returns a copy sharing the (immutable) rune values but not the
// backing array.
func (s Schema) Clone() Schema {
	if s == nil {
		return nil
	}
	out := make(Schema, len(s))
	copy(out, s)
	return out
}

// Satisfies reports whether this schema, used as a capability set, covers
// every rune in the requested schema.
func (s Schema) Satisfies(requested Schema) bool {
	return len(s.Unmet(requested)) == 0
}

// Unmet returns the requested runes this capability set does not satisfy,
// in request order. An empty result means the request is fully covered.
func (s Schema) Unmet(requested Schema) []Rune {
	var unmet []Rune
	for _, want := range requested {
		offered, ok := s.Get(want.Kind())
		if !ok || !offered.Satisfies(want) {
			unmet = append(unmet, want)
		}
	}
	return unmet
}

func (s Schema) String() string {
	parts := make([]string, len(s))
	for i, r := range s {
		parts[i] = r.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
