// Package custodian implements the HTTP request handler of the key
// custodian: the process that owns key material on behalf of remote
// isolation channels. Key material is generated, stored wrapped under
// the custodian master key, and used in place; it never appears in a
// response.
package custodian

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sigaldry/sigaldry/api"
	"github.com/sigaldry/sigaldry/attestation"
	"github.com/sigaldry/sigaldry/construction"
	"github.com/sigaldry/sigaldry/keystore"
	"github.com/sigaldry/sigaldry/runes"
)

// Handler serves the custodian API. The registry must be frozen before
// the handler starts serving.
type Handler struct {
	registry *construction.Registry
	store    keystore.Store
	wrapper  *keystore.Wrapper
	attest   attestation.Provider
	log      *slog.Logger
}

// NewHandler assembles the custodian handler.
func NewHandler(registry *construction.Registry, store keystore.Store, wrapper *keystore.Wrapper, attest attestation.Provider, log *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		store:    store,
		wrapper:  wrapper,
		attest:   attest,
		log:      log,
	}
}

// RegisterRoutes mounts the custodian API on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/keys", h.HandleGenerateKey)
	r.Post("/api/keys/{key_id}/seal", h.HandleSeal)
	r.Post("/api/keys/{key_id}/unseal", h.HandleUnseal)
	r.Delete("/api/keys/{key_id}", h.HandleDestroyKey)
	r.Get("/api/attest/{report_data}", h.HandleAttest)
}

// HandleGenerateKey generates key material for the requested
// construction, wraps it, and stores the record under a fresh handle.
func (h *Handler) HandleGenerateKey(w http.ResponseWriter, r *http.Request) {
	var req api.GenerateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}

	c, ok := h.registry.Lookup(construction.ID(req.ConstructionID))
	if !ok {
		http.Error(w, fmt.Sprintf("unknown construction %q", req.ConstructionID), http.StatusBadRequest)
		return
	}

	// The schema is validated and recorded for audit; enforcement is the
	// caller's lifecycle manager's job.
	if len(req.Schema) > 0 {
		schema, err := runes.UnmarshalSchema(req.Schema)
		if err != nil {
			http.Error(w, fmt.Errorf("invalid schema: %w", err).Error(), http.StatusBadRequest)
			return
		}
		if err := schema.Validate(); err != nil {
			http.Error(w, fmt.Errorf("invalid schema: %w", err).Error(), http.StatusBadRequest)
			return
		}
	}

	material, err := c.Primitive().Keygen()
	if err != nil {
		h.log.Error("Key generation failed", slog.String("construction", req.ConstructionID), "err", err)
		http.Error(w, "key generation failed", http.StatusInternalServerError)
		return
	}

	wrapped, err := h.wrapper.Wrap(material)
	for i := range material {
		material[i] = 0
	}
	if err != nil {
		h.log.Error("Key wrap failed", "err", err)
		http.Error(w, "key generation failed", http.StatusInternalServerError)
		return
	}

	keyID := uuid.NewString()
	rec := keystore.Record{
		ConstructionID: req.ConstructionID,
		WrappedKey:     wrapped,
		Schema:         req.Schema,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.store.Put(r.Context(), keyID, rec); err != nil {
		h.log.Error("Storing key record failed", slog.String("key_id", keyID), "err", err)
		http.Error(w, "key generation failed", http.StatusInternalServerError)
		return
	}

	h.log.Info("Generated key",
		slog.String("key_id", keyID),
		slog.String("construction", req.ConstructionID))

	writeJSON(w, api.GenerateKeyResponse{KeyID: keyID})
}

// loadKey fetches and unwraps the key for a request, writing the error
// response itself on failure.
func (h *Handler) loadKey(w http.ResponseWriter, r *http.Request) (*construction.Construction, []byte, bool) {
	keyID := chi.URLParam(r, "key_id")

	rec, err := h.store.Get(r.Context(), keyID)
	if errors.Is(err, keystore.ErrNotFound) {
		http.Error(w, fmt.Sprintf("unknown key %q", keyID), http.StatusNotFound)
		return nil, nil, false
	}
	if err != nil {
		h.log.Error("Loading key record failed", slog.String("key_id", keyID), "err", err)
		http.Error(w, "keystore unavailable", http.StatusInternalServerError)
		return nil, nil, false
	}

	c, ok := h.registry.Lookup(construction.ID(rec.ConstructionID))
	if !ok {
		h.log.Error("Key record references unregistered construction",
			slog.String("key_id", keyID),
			slog.String("construction", rec.ConstructionID))
		http.Error(w, "construction no longer available", http.StatusInternalServerError)
		return nil, nil, false
	}

	material, err := h.wrapper.Unwrap(rec.WrappedKey)
	if err != nil {
		h.log.Error("Key unwrap failed", slog.String("key_id", keyID), "err", err)
		http.Error(w, "key record corrupted", http.StatusInternalServerError)
		return nil, nil, false
	}
	return c, material, true
}

// HandleSeal seals plaintext under a held key.
func (h *Handler) HandleSeal(w http.ResponseWriter, r *http.Request) {
	var req api.SealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}

	c, material, ok := h.loadKey(w, r)
	if !ok {
		return
	}
	defer zero(material)

	payload, err := c.Primitive().Seal(material, req.Plaintext, req.AAD)
	if err != nil {
		h.log.Error("Seal failed", slog.String("construction", c.Identifier().String()), "err", err)
		http.Error(w, "seal failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, api.SealResponse{Payload: payload})
}

// HandleUnseal recovers plaintext from a sealed payload. Verification
// failures return 422 so the client can distinguish a corrupt message
// from a custodian fault.
func (h *Handler) HandleUnseal(w http.ResponseWriter, r *http.Request) {
	var req api.UnsealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}

	c, material, ok := h.loadKey(w, r)
	if !ok {
		return
	}
	defer zero(material)

	plaintext, err := c.Primitive().Unseal(material, req.Payload, req.AAD)
	if errors.Is(err, construction.ErrVerificationFailed) {
		http.Error(w, "verification failed", http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		h.log.Error("Unseal failed", slog.String("construction", c.Identifier().String()), "err", err)
		http.Error(w, "unseal failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, api.UnsealResponse{Plaintext: plaintext})
}

// HandleDestroyKey removes a key record. Destroying an unknown key is
// 404 so the caller's lifecycle manager can tell retries apart from
// first-time destruction.
func (h *Handler) HandleDestroyKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "key_id")

	err := h.store.Delete(r.Context(), keyID)
	if errors.Is(err, keystore.ErrNotFound) {
		http.Error(w, fmt.Sprintf("unknown key %q", keyID), http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("Deleting key record failed", slog.String("key_id", keyID), "err", err)
		http.Error(w, "keystore unavailable", http.StatusInternalServerError)
		return
	}

	h.log.Info("Destroyed key", slog.String("key_id", keyID))
	w.WriteHeader(http.StatusNoContent)
}

// HandleAttest produces an identity quote over caller-chosen report
// data, letting remote channels verify which environment they talk to.
func (h *Handler) HandleAttest(w http.ResponseWriter, r *http.Request) {
	reportHex := chi.URLParam(r, "report_data")
	reportBytes, err := hex.DecodeString(reportHex)
	if err != nil || len(reportBytes) != 64 {
		http.Error(w, "report data must be 64 hex-encoded bytes", http.StatusBadRequest)
		return
	}

	var reportData [64]byte
	copy(reportData[:], reportBytes)

	quote, err := h.attest.Attest(reportData)
	if err != nil {
		h.log.Error("Attestation failed", "err", err)
		http.Error(w, "attestation unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(quote)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "could not encode response", http.StatusInternalServerError)
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
