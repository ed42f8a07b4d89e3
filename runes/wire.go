package runes

import (
	"encoding/json"
	"fmt"
)

// wireRune is the flat JSON form of a rune, used when a schema crosses
// the isolation boundary. Only the fields relevant to the kind are set.
type wireRune struct {
	Kind      Kind   `json:"kind"`
	Count     uint64 `json:"count,omitempty"`
	Unbounded bool   `json:"unbounded,omitempty"`
	Origin    string `json:"origin,omitempty"`
	Bits      uint16 `json:"bits,omitempty"`
	Standard  string `json:"standard,omitempty"`
	Level     uint8  `json:"level,omitempty"`
	Isolation string `json:"isolation,omitempty"`
}

// MarshalSchema encodes a schema to its JSON wire form.
func MarshalSchema(s Schema) ([]byte, error) {
	wire := make([]wireRune, 0, len(s))
	for _, r := range s {
		w, err := toWire(r)
		if err != nil {
			return nil, err
		}
		wire = append(wire, w)
	}
	return json.Marshal(wire)
}

// UnmarshalSchema decodes a schema from its JSON wire form. Unknown
// kinds are rejected: the isolation boundary only relays kinds both
// sides understand.
func UnmarshalSchema(data []byte) (Schema, error) {
	var wire []wireRune
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	s := make(Schema, 0, len(wire))
	for _, w := range wire {
		r, err := fromWire(w)
		if err != nil {
			return nil, err
		}
		s = append(s, r)
	}
	return s, nil
}

func toWire(r Rune) (wireRune, error) {
	switch v := r.(type) {
	case MessageLimit:
		return wireRune{Kind: v.Kind(), Count: v.Count, Unbounded: v.Unbounded}, nil
	case MessageSizeLimit:
		return wireRune{Kind: v.Kind(), Count: v.Bytes, Unbounded: v.Unbounded}, nil
	case TotalDataLimit:
		return wireRune{Kind: v.Kind(), Count: v.Bytes, Unbounded: v.Unbounded}, nil
	case Confidentiality:
		return wireRune{Kind: v.Kind()}, nil
	case Integrity:
		return wireRune{Kind: v.Kind()}, nil
	case Authentication:
		return wireRune{Kind: v.Kind(), Origin: v.Origin}, nil
	case QuantumResistance:
		return wireRune{Kind: v.Kind()}, nil
	case SecurityBits:
		return wireRune{Kind: v.Kind(), Bits: v.Bits}, nil
	case Certification:
		return wireRune{Kind: v.Kind(), Standard: v.Standard, Level: v.Level}, nil
	case Isolation:
		return wireRune{Kind: v.Kind(), Isolation: v.Level.String()}, nil
	default:
		return wireRune{}, fmt.Errorf("rune kind %q has no wire form", r.Kind())
	}
}

func fromWire(w wireRune) (Rune, error) {
	switch w.Kind {
	case KindMessageLimit:
		return MessageLimit{Count: w.Count, Unbounded: w.Unbounded}, nil
	case KindMessageSizeLimit:
		return MessageSizeLimit{Bytes: w.Count, Unbounded: w.Unbounded}, nil
	case KindTotalDataLimit:
		return TotalDataLimit{Bytes: w.Count, Unbounded: w.Unbounded}, nil
	case KindConfidentiality:
		return Confidentiality{}, nil
	case KindIntegrity:
		return Integrity{}, nil
	case KindAuthentication:
		return Authentication{Origin: w.Origin}, nil
	case KindQuantumResistance:
		return QuantumResistance{}, nil
	case KindSecurityBits:
		return SecurityBits{Bits: w.Bits}, nil
	case KindCertification:
		return Certification{Standard: w.Standard, Level: w.Level}, nil
	case KindIsolation:
		level, err := ParseIsolationLevel(w.Isolation)
		if err != nil {
			return nil, err
		}
		return Isolation{Level: level}, nil
	default:
		return nil, fmt.Errorf("unknown rune kind %q", w.Kind)
	}
}
