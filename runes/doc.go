// Package runes defines the security-property model used to request and
// report cryptographic guarantees.
//
// A Rune is a single security property, possibly parameterized. Runes have
// two uses:
//
//   - Requirement specification: a Schema of runes passed to
//     bindrune.Provider.Forge states the minimum requirements for the
//     construction to be selected. The forged BindRune satisfies all of
//     them, and will often exceed them.
//   - Capability reporting: constructions expose the runes they
//     unconditionally provide, and a forged BindRune reports the schema it
//     was bound to.
//
// Satisfaction is defined per kind: numeric runes (MessageLimit,
// MessageSizeLimit, TotalDataLimit, SecurityBits) satisfy by meeting or exceeding the
// requested value, Certification satisfies by covering the requested
// standard at an equal or higher level, Isolation by an equal or stronger
// isolation level, and boolean-like runes (Confidentiality, Integrity,
// Authentication, QuantumResistance) by identity of kind.
//
// New kinds are added by defining a new type that implements Rune. The
// resolver only ever calls Kind and Satisfies, so no central enumeration
// needs updating.
package runes
