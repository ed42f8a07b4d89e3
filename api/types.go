// Package api defines the request and response types of the custodian
// HTTP API, shared by the custodian handler and the remote isolation
// channel client. Binary fields are base64-encoded by encoding/json.
package api

import "encoding/json"

// GenerateKeyRequest asks the custodian to generate key material for a
// construction. The schema travels in its wire form (runes.MarshalSchema)
// and is recorded with the key for audit.
type GenerateKeyRequest struct {
	ConstructionID string          `json:"construction_id"`
	Schema         json.RawMessage `json:"schema,omitempty"`
}

// GenerateKeyResponse returns the opaque handle of the generated key.
// Key material never appears in any response.
type GenerateKeyResponse struct {
	KeyID string `json:"key_id"`
}

// SealRequest asks the custodian to seal plaintext under a held key.
type SealRequest struct {
	Plaintext []byte `json:"plaintext"`
	AAD       []byte `json:"aad,omitempty"`
}

// SealResponse carries the raw sealed payload produced by the
// construction's primitive.
type SealResponse struct {
	Payload []byte `json:"payload"`
}

// UnsealRequest asks the custodian to recover plaintext from a raw
// sealed payload.
type UnsealRequest struct {
	Payload []byte `json:"payload"`
	AAD     []byte `json:"aad,omitempty"`
}

// UnsealResponse carries the recovered plaintext.
type UnsealResponse struct {
	Plaintext []byte `json:"plaintext"`
}
