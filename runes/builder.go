package runes

// Default limits applied by NewSchemaBuilder when the caller does not
// specify them. Callers should endeavor to request the smallest limits
// they can tolerate.
const (
	DefaultMessageLimit     uint64 = 1 << 16
	DefaultMessageSizeLimit uint64 = 1 << 16
	DefaultTotalDataLimit   uint64 = 1 << 32
)

// SchemaBuilder assembles a schema one rune per kind. Setting a kind
// twice replaces the earlier value. Errors are deferred and reported by
// Build.
type SchemaBuilder struct {
	order []Kind
	runes map[Kind]Rune
	err   error
}

// NewSchemaBuilder returns a builder pre-populated with the default
// message, message-size and total-data limits.
func NewSchemaBuilder() *SchemaBuilder {
	b := &SchemaBuilder{runes: make(map[Kind]Rune)}
	b.set(MessageLimit{Count: DefaultMessageLimit})
	b.set(MessageSizeLimit{Bytes: DefaultMessageSizeLimit})
	b.set(TotalDataLimit{Bytes: DefaultTotalDataLimit})
	return b
}

func (b *SchemaBuilder) set(r Rune) {
	if _, ok := b.runes[r.Kind()]; !ok {
		b.order = append(b.order, r.Kind())
	}
	b.runes[r.Kind()] = r
}

// MessageLimit requires support for at least count messages; count is
// also the limit that will be enforced on the forged BindRune. An
// unbounded request is not expressible: limits requested through the
// builder are always finite.
func (b *SchemaBuilder) MessageLimit(count uint64) *SchemaBuilder {
	if count == 0 {
		b.fail(&SchemaError{Reason: InvalidAssociatedData, Kind: KindMessageLimit, Detail: "count must be positive"})
		return b
	}
	b.set(MessageLimit{Count: count})
	return b
}

// MessageSizeLimit requires support for messages of at least size bytes,
// and caps accepted messages at that size.
func (b *SchemaBuilder) MessageSizeLimit(size uint64) *SchemaBuilder {
	if size == 0 {
		b.fail(&SchemaError{Reason: InvalidAssociatedData, Kind: KindMessageSizeLimit, Detail: "byte limit must be positive"})
		return b
	}
	b.set(MessageSizeLimit{Bytes: size})
	return b
}

// TotalDataLimit requires support for at least bytes of cumulative
// sealed plaintext, and caps the forged BindRune at that total.
func (b *SchemaBuilder) TotalDataLimit(bytes uint64) *SchemaBuilder {
	if bytes == 0 {
		b.fail(&SchemaError{Reason: InvalidAssociatedData, Kind: KindTotalDataLimit, Detail: "byte limit must be positive"})
		return b
	}
	b.set(TotalDataLimit{Bytes: bytes})
	return b
}

// Confidentiality requires that sealed data is unreadable without the
// key.
func (b *SchemaBuilder) Confidentiality() *SchemaBuilder {
	b.set(Confidentiality{})
	return b
}

// Integrity requires that tampering with sealed data is detected.
func (b *SchemaBuilder) Integrity() *SchemaBuilder {
	b.set(Integrity{})
	return b
}

// Authentication requires source authentication of sealed data. The
// origin claim is embedded in sealed messages.
func (b *SchemaBuilder) Authentication(origin string) *SchemaBuilder {
	b.set(Authentication{Origin: origin})
	return b
}

// QuantumResistance requires resistance to quantum computing attacks.
func (b *SchemaBuilder) QuantumResistance() *SchemaBuilder {
	b.set(QuantumResistance{})
	return b
}

// SecurityBits requires an estimated classical security level of at
// least bits.
func (b *SchemaBuilder) SecurityBits(bits uint16) *SchemaBuilder {
	if bits == 0 {
		b.fail(&SchemaError{Reason: InvalidAssociatedData, Kind: KindSecurityBits, Detail: "bits must be positive"})
		return b
	}
	b.set(SecurityBits{Bits: bits})
	return b
}

// Certification requires a third-party certification of the given
// standard at the given level or higher.
func (b *SchemaBuilder) Certification(standard string, level uint8) *SchemaBuilder {
	if standard == "" {
		b.fail(&SchemaError{Reason: InvalidAssociatedData, Kind: KindCertification, Detail: "standard must not be empty"})
		return b
	}
	b.set(Certification{Standard: standard, Level: level})
	return b
}

// Isolation requires the given isolation level or stronger.
func (b *SchemaBuilder) Isolation(level IsolationLevel) *SchemaBuilder {
	if err := level.Validate(); err != nil {
		b.fail(err)
		return b
	}
	b.set(Isolation{Level: level})
	return b
}

func (b *SchemaBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build returns the assembled schema, validated. The first error
// encountered while building is returned here.
func (b *SchemaBuilder) Build() (Schema, error) {
	if b.err != nil {
		return nil, b.err
	}
	s := make(Schema, 0, len(b.order))
	for _, k := range b.order {
		s = append(s, b.runes[k])
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
