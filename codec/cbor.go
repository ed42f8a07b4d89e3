package codec

import (
	"errors"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer encoding,
// no indefinite-length items. The same envelope always produces
// identical bytes, which keeps sealed messages reproducible for review.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR with
// unknown fields ignored for forward compatibility.
var decMode cbor.DecMode

func init() {
	opts := cbor.CoreDetEncOptions()
	// Timestamps as RFC 3339 text: second resolution and the UTC marker
	// survive the round trip, and the encoding stays deterministic.
	opts.Time = cbor.TimeRFC3339Nano

	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBOR is the default sealed-message codec: a CBOR map envelope encoded
// with Core Deterministic Encoding.
type CBOR struct{}

// NewCBOR returns the default CBOR codec.
func NewCBOR() CBOR { return CBOR{} }

// Encode renders the envelope to deterministic CBOR bytes.
func (CBOR) Encode(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("codec: nil envelope")
	}
	if env.ConstructionID == "" {
		return nil, errors.New("codec: envelope has no construction identifier")
	}
	return encMode.Marshal(env)
}

// Decode parses sealed-message bytes. It fails with a
// MalformedMessageError on structurally invalid input and never panics:
// the input is presumed attacker-controlled.
func (CBOR) Decode(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, &MalformedMessageError{Reason: "empty input"}
	}
	if len(data) > maxEnvelopeSize {
		return nil, &MalformedMessageError{Reason: "input exceeds maximum envelope size"}
	}

	var env Envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, &MalformedMessageError{Reason: "invalid CBOR", Err: err}
	}
	if env.Version != EnvelopeVersion {
		return nil, &MalformedMessageError{Reason: "unsupported envelope version"}
	}
	if env.ConstructionID == "" {
		return nil, &MalformedMessageError{Reason: "missing construction identifier"}
	}
	if len(env.Payload) == 0 {
		return nil, &MalformedMessageError{Reason: "missing payload"}
	}
	return &env, nil
}
