package custodian

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigaldry/sigaldry/api"
	"github.com/sigaldry/sigaldry/attestation"
	"github.com/sigaldry/sigaldry/construction"
	"github.com/sigaldry/sigaldry/keystore"
)

func newTestServer(t *testing.T) (*httptest.Server, keystore.Store) {
	t.Helper()

	registry, err := construction.DefaultRegistry()
	require.NoError(t, err)

	store := keystore.NewMemoryStore()
	wrapper, err := keystore.NewWrapper(keystore.DeriveMasterKey([]byte("test seed"), []byte("test salt")))
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(registry, store, wrapper, attestation.DummyProvider{}, log)

	mux := chi.NewRouter()
	handler.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, url string, body, out any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func generateKey(t *testing.T, baseURL string) string {
	t.Helper()
	var resp api.GenerateKeyResponse
	httpResp := postJSON(t, baseURL+"/api/keys", api.GenerateKeyRequest{ConstructionID: "AEAD-256"}, &resp)
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.NotEmpty(t, resp.KeyID)
	return resp.KeyID
}

func TestHandler_GenerateKey(t *testing.T) {
	srv, store := newTestServer(t)

	keyID := generateKey(t, srv.URL)

	rec, err := store.Get(context.Background(), keyID)
	require.NoError(t, err)
	assert.Equal(t, "AEAD-256", rec.ConstructionID)
	assert.NotEmpty(t, rec.WrappedKey)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestHandler_GenerateKeyRejectsUnknownConstruction(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/keys", api.GenerateKeyRequest{ConstructionID: "NO-SUCH"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_GenerateKeyRejectsInvalidSchema(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/keys", api.GenerateKeyRequest{
		ConstructionID: "AEAD-256",
		Schema:         json.RawMessage(`[{"kind":"telepathy"}]`),
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_SealUnsealRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	keyID := generateKey(t, srv.URL)

	var sealResp api.SealResponse
	resp := postJSON(t, srv.URL+"/api/keys/"+keyID+"/seal",
		api.SealRequest{Plaintext: []byte("custodied"), AAD: []byte("aad")}, &sealResp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var unsealResp api.UnsealResponse
	resp = postJSON(t, srv.URL+"/api/keys/"+keyID+"/unseal",
		api.UnsealRequest{Payload: sealResp.Payload, AAD: []byte("aad")}, &unsealResp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte("custodied"), unsealResp.Plaintext)
}

func TestHandler_UnsealVerificationFailureIs422(t *testing.T) {
	srv, _ := newTestServer(t)
	keyID := generateKey(t, srv.URL)

	var sealResp api.SealResponse
	resp := postJSON(t, srv.URL+"/api/keys/"+keyID+"/seal",
		api.SealRequest{Plaintext: []byte("data")}, &sealResp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sealResp.Payload[len(sealResp.Payload)-1] ^= 0x01
	resp = postJSON(t, srv.URL+"/api/keys/"+keyID+"/unseal",
		api.UnsealRequest{Payload: sealResp.Payload}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestHandler_UnknownKeyIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/keys/no-such-key/seal", api.SealRequest{Plaintext: []byte("x")}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_DestroyKey(t *testing.T) {
	srv, _ := newTestServer(t)
	keyID := generateKey(t, srv.URL)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/keys/"+keyID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Destroying again reports the key unknown.
	resp, err = http.DefaultClient.Do(req.Clone(context.Background()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_Attest(t *testing.T) {
	srv, _ := newTestServer(t)

	var reportData [64]byte
	copy(reportData[:], "client challenge")

	resp, err := http.Get(srv.URL + "/api/attest/" + hex.EncodeToString(reportData[:]))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	quote, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NoError(t, attestation.DummyVerifier{}.Verify(reportData, quote))
}

func TestHandler_AttestRejectsBadReportData(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/api/attest/zz", "/api/attest/0011"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "path %s", path)
	}
}
