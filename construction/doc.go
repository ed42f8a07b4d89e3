// Package construction catalogs concrete cryptographic schemes and
// selects among them.
//
// A Construction pairs an identifier with a fixed capability set (the
// runes it unconditionally provides), a parameter set, and the primitive
// operations it delegates to. Constructions are registered into a
// Registry during a setup phase; after Freeze the registry is read-only
// and safe for unsynchronized concurrent readers.
//
// Resolution has two modes. Resolve searches registered constructions in
// registration order and returns the first whose capability set satisfies
// every rune of the requested schema; registration order is the
// deterministic tie-break, so resolution against an unchanged registry is
// reproducible. ResolvePinned validates a caller-chosen construction
// against the schema instead of searching.
package construction
