package runes

import (
	"fmt"
)

// Kind identifies a rune variant. At most one rune per kind is meaningful
// within a schema.
type Kind string

const (
	KindMessageLimit      Kind = "message-limit"
	KindMessageSizeLimit  Kind = "message-size-limit"
	KindTotalDataLimit    Kind = "total-data-limit"
	KindConfidentiality   Kind = "confidentiality"
	KindIntegrity         Kind = "integrity"
	KindAuthentication    Kind = "authentication"
	KindQuantumResistance Kind = "quantum-resistance"
	KindSecurityBits      Kind = "security-bits"
	KindCertification     Kind = "certification"
	KindIsolation         Kind = "isolation"
)

// Rune is a single security property. Values are immutable once
// constructed.
type Rune interface {
	// Kind returns the rune's variant identifier.
	Kind() Kind

	// Satisfies reports whether this rune, offered by a construction's
	// capability set, meets or exceeds the requested rune. Satisfies
	// returns false when the kinds differ.
	Satisfies(requested Rune) bool

	// Validate checks that the rune's associated data is within its legal
	// domain.
	Validate() error

	String() string
}

// MessageLimit bounds how many messages a key may seal before it is
// invalidated. An unbounded limit is only legal in capability sets; a
// forge request with an unbounded limit is rejected.
type MessageLimit struct {
	Count     uint64
	Unbounded bool
}

// UnboundedMessageLimit is the capability-set value for constructions
// whose message count is not a limiting factor.
func UnboundedMessageLimit() MessageLimit {
	return MessageLimit{Unbounded: true}
}

func (MessageLimit) Kind() Kind { return KindMessageLimit }

func (m MessageLimit) Satisfies(requested Rune) bool {
	req, ok := requested.(MessageLimit)
	if !ok {
		return false
	}
	if m.Unbounded {
		return true
	}
	if req.Unbounded {
		return false
	}
	return m.Count >= req.Count
}

func (m MessageLimit) Validate() error {
	if !m.Unbounded && m.Count == 0 {
		return &SchemaError{Reason: InvalidAssociatedData, Kind: KindMessageLimit, Detail: "count must be positive"}
	}
	return nil
}

func (m MessageLimit) String() string {
	if m.Unbounded {
		return "message-limit(unbounded)"
	}
	return fmt.Sprintf("message-limit(%d)", m.Count)
}

// MessageSizeLimit bounds the size, in bytes, of a single sealed message.
type MessageSizeLimit struct {
	Bytes     uint64
	Unbounded bool
}

// UnboundedMessageSizeLimit is the capability-set value for constructions
// without a practical per-message size bound.
func UnboundedMessageSizeLimit() MessageSizeLimit {
	return MessageSizeLimit{Unbounded: true}
}

func (MessageSizeLimit) Kind() Kind { return KindMessageSizeLimit }

func (m MessageSizeLimit) Satisfies(requested Rune) bool {
	req, ok := requested.(MessageSizeLimit)
	if !ok {
		return false
	}
	if m.Unbounded {
		return true
	}
	if req.Unbounded {
		return false
	}
	return m.Bytes >= req.Bytes
}

func (m MessageSizeLimit) Validate() error {
	if !m.Unbounded && m.Bytes == 0 {
		return &SchemaError{Reason: InvalidAssociatedData, Kind: KindMessageSizeLimit, Detail: "byte limit must be positive"}
	}
	return nil
}

func (m MessageSizeLimit) String() string {
	if m.Unbounded {
		return "message-size-limit(unbounded)"
	}
	return fmt.Sprintf("message-size-limit(%d)", m.Bytes)
}

// TotalDataLimit bounds the cumulative plaintext bytes a key may seal
// across all messages before it is invalidated.
type TotalDataLimit struct {
	Bytes     uint64
	Unbounded bool
}

// UnboundedTotalDataLimit is the capability-set value for constructions
// whose cumulative data bound is not a limiting factor.
func UnboundedTotalDataLimit() TotalDataLimit {
	return TotalDataLimit{Unbounded: true}
}

func (TotalDataLimit) Kind() Kind { return KindTotalDataLimit }

func (m TotalDataLimit) Satisfies(requested Rune) bool {
	req, ok := requested.(TotalDataLimit)
	if !ok {
		return false
	}
	if m.Unbounded {
		return true
	}
	if req.Unbounded {
		return false
	}
	return m.Bytes >= req.Bytes
}

func (m TotalDataLimit) Validate() error {
	if !m.Unbounded && m.Bytes == 0 {
		return &SchemaError{Reason: InvalidAssociatedData, Kind: KindTotalDataLimit, Detail: "byte limit must be positive"}
	}
	return nil
}

func (m TotalDataLimit) String() string {
	if m.Unbounded {
		return "total-data-limit(unbounded)"
	}
	return fmt.Sprintf("total-data-limit(%d)", m.Bytes)
}

// Confidentiality indicates the sealed data cannot be read without the
// key.
type Confidentiality struct{}

func (Confidentiality) Kind() Kind { return KindConfidentiality }

func (Confidentiality) Satisfies(requested Rune) bool {
	_, ok := requested.(Confidentiality)
	return ok
}

func (Confidentiality) Validate() error { return nil }

func (Confidentiality) String() string { return "confidentiality" }

// Integrity indicates any modification of sealed data is detected on
// unseal.
type Integrity struct{}

func (Integrity) Kind() Kind { return KindIntegrity }

func (Integrity) Satisfies(requested Rune) bool {
	_, ok := requested.(Integrity)
	return ok
}

func (Integrity) Validate() error { return nil }

func (Integrity) String() string { return "integrity" }

// Authentication indicates the origin of sealed data is authenticated.
// Origin is an identity claim carried into sealed messages; it does not
// participate in satisfaction matching.
type Authentication struct {
	Origin string
}

func (Authentication) Kind() Kind { return KindAuthentication }

func (Authentication) Satisfies(requested Rune) bool {
	_, ok := requested.(Authentication)
	return ok
}

func (Authentication) Validate() error { return nil }

func (a Authentication) String() string {
	if a.Origin == "" {
		return "authentication"
	}
	return fmt.Sprintf("authentication(%s)", a.Origin)
}

// QuantumResistance indicates resistance to quantum computing attacks.
type QuantumResistance struct{}

func (QuantumResistance) Kind() Kind { return KindQuantumResistance }

func (QuantumResistance) Satisfies(requested Rune) bool {
	_, ok := requested.(QuantumResistance)
	return ok
}

func (QuantumResistance) Validate() error { return nil }

func (QuantumResistance) String() string { return "quantum-resistance" }

// SecurityBits is the estimated classical security level of the
// construction, assuming uncompromised key material. For symmetric
// algorithms with no known weaknesses this is the key length in bits; for
// asymmetric algorithms it is an estimated equivalent per NIST SP 800-57.
type SecurityBits struct {
	Bits uint16
}

func (SecurityBits) Kind() Kind { return KindSecurityBits }

func (s SecurityBits) Satisfies(requested Rune) bool {
	req, ok := requested.(SecurityBits)
	if !ok {
		return false
	}
	return s.Bits >= req.Bits
}

func (s SecurityBits) Validate() error {
	if s.Bits == 0 {
		return &SchemaError{Reason: InvalidAssociatedData, Kind: KindSecurityBits, Detail: "bits must be positive"}
	}
	return nil
}

func (s SecurityBits) String() string { return fmt.Sprintf("security-bits(%d)", s.Bits) }

// Certification records a third-party evaluation of the environment
// protecting the key, such as a FIPS 140-3 or Common Criteria level. An
// offered certification satisfies a request for the same standard at an
// equal or lower level.
type Certification struct {
	Standard string
	Level    uint8
}

func (Certification) Kind() Kind { return KindCertification }

func (c Certification) Satisfies(requested Rune) bool {
	req, ok := requested.(Certification)
	if !ok {
		return false
	}
	return c.Standard == req.Standard && c.Level >= req.Level
}

func (c Certification) Validate() error {
	if c.Standard == "" {
		return &SchemaError{Reason: InvalidAssociatedData, Kind: KindCertification, Detail: "standard must not be empty"}
	}
	return nil
}

func (c Certification) String() string {
	return fmt.Sprintf("certification(%s:%d)", c.Standard, c.Level)
}

// Isolation indicates the key and its operations execute in an isolated
// environment. A stronger isolation level satisfies a request for a
// weaker one.
type Isolation struct {
	Level IsolationLevel
}

func (Isolation) Kind() Kind { return KindIsolation }

func (i Isolation) Satisfies(requested Rune) bool {
	req, ok := requested.(Isolation)
	if !ok {
		return false
	}
	return i.Level >= req.Level
}

func (i Isolation) Validate() error {
	return i.Level.Validate()
}

func (i Isolation) String() string { return fmt.Sprintf("isolation(%s)", i.Level) }
