package channel

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigaldry/sigaldry/api/custodian"
	"github.com/sigaldry/sigaldry/attestation"
	"github.com/sigaldry/sigaldry/construction"
	"github.com/sigaldry/sigaldry/keystore"
	"github.com/sigaldry/sigaldry/runes"
)

// startCustodian runs a real custodian handler over an in-memory
// keystore and returns its base URL.
func startCustodian(t *testing.T) string {
	t.Helper()

	registry, err := construction.DefaultRegistry()
	require.NoError(t, err)

	seed := make([]byte, 32)
	wrapper, err := keystore.NewWrapper(keystore.DeriveMasterKey(seed, []byte("test-salt")))
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := custodian.NewHandler(registry, keystore.NewMemoryStore(), wrapper, attestation.DummyProvider{}, log)

	mux := chi.NewRouter()
	handler.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func newTestRemote(t *testing.T, baseURL string) *Remote {
	t.Helper()
	r, err := NewRemote(RemoteConfig{
		BaseURL:  baseURL,
		Level:    runes.SeparateProcess,
		Verifier: attestation.DummyVerifier{},
	})
	require.NoError(t, err)
	return r
}

// testConstructionWithID clones a builtin under a different identifier.
func testConstructionWithID(t *testing.T, id construction.ID) *construction.Construction {
	t.Helper()
	base, err := construction.NewAEAD256()
	require.NoError(t, err)
	c, err := construction.New(id, base.Capabilities(), base.Params(), base.Primitive())
	require.NoError(t, err)
	return c
}

func TestNewRemote_Validation(t *testing.T) {
	_, err := NewRemote(RemoteConfig{BaseURL: "", Level: runes.SeparateProcess})
	assert.Error(t, err, "empty base URL should be rejected")

	_, err = NewRemote(RemoteConfig{BaseURL: "http://localhost:1", Level: runes.SameProcess})
	assert.Error(t, err, "a remote channel cannot claim same-process isolation")
}

func TestRemote_EnvironmentCarriesIsolationAndCertifications(t *testing.T) {
	r, err := NewRemote(RemoteConfig{
		BaseURL:        "http://localhost:1",
		Level:          runes.VirtualMachine,
		Certifications: []runes.Certification{{Standard: "FIPS-140-3", Level: 2}},
	})
	require.NoError(t, err)

	env := r.Environment()
	iso, ok := env.Get(runes.KindIsolation)
	require.True(t, ok)
	assert.Equal(t, runes.Isolation{Level: runes.VirtualMachine}, iso)

	cert, ok := env.Get(runes.KindCertification)
	require.True(t, ok)
	assert.Equal(t, runes.Certification{Standard: "FIPS-140-3", Level: 2}, cert)
}

func TestRemote_SealUnsealRoundTrip(t *testing.T) {
	ctx := context.Background()
	remote := newTestRemote(t, startCustodian(t))

	c, err := construction.NewAEAD256()
	require.NoError(t, err)

	handle, err := remote.GenerateKey(ctx, c, runes.Schema{runes.Confidentiality{}, runes.Integrity{}})
	require.NoError(t, err)
	assert.NotEmpty(t, handle)

	payload, err := remote.Seal(ctx, handle, []byte("remote secret"), []byte("aad"))
	require.NoError(t, err)

	plaintext, err := remote.Unseal(ctx, handle, payload, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, []byte("remote secret"), plaintext)
}

func TestRemote_TamperedPayloadFailsVerification(t *testing.T) {
	ctx := context.Background()
	remote := newTestRemote(t, startCustodian(t))

	c, err := construction.NewAEAD256()
	require.NoError(t, err)
	handle, err := remote.GenerateKey(ctx, c, nil)
	require.NoError(t, err)

	payload, err := remote.Seal(ctx, handle, []byte("data"), nil)
	require.NoError(t, err)
	payload[len(payload)-1] ^= 0x01

	_, err = remote.Unseal(ctx, handle, payload, nil)
	assert.ErrorIs(t, err, construction.ErrVerificationFailed)
}

func TestRemote_DestroyedKeyIsUnknown(t *testing.T) {
	ctx := context.Background()
	remote := newTestRemote(t, startCustodian(t))

	c, err := construction.NewAEAD256()
	require.NoError(t, err)
	handle, err := remote.GenerateKey(ctx, c, nil)
	require.NoError(t, err)

	require.NoError(t, remote.DestroyKey(ctx, handle))

	_, err = remote.Seal(ctx, handle, []byte("x"), nil)
	assert.ErrorIs(t, err, ErrUnknownHandle)

	err = remote.DestroyKey(ctx, handle)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestRemote_DeadlineMapsToErrTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer slow.Close()

	remote := newTestRemote(t, slow.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := remote.Seal(ctx, "some-handle", []byte("x"), nil)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRemote_TransportFailureMapsToErrConnectivityLost(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	remote := newTestRemote(t, dead.URL)
	_, err := remote.Seal(context.Background(), "some-handle", []byte("x"), nil)
	assert.ErrorIs(t, err, ErrConnectivityLost)
}

func TestRemote_RejectionMapsToErrRequestRejected(t *testing.T) {
	ctx := context.Background()
	remote := newTestRemote(t, startCustodian(t))

	// The custodian refuses an unregistered construction with a 400. That
	// is a permanent, caller-correctable rejection, not a transport
	// failure, so it must not look retryable.
	c := testConstructionWithID(t, "NOT-ON-THE-CUSTODIAN")
	_, err := remote.GenerateKey(ctx, c, nil)
	assert.ErrorIs(t, err, ErrRequestRejected)
	assert.NotErrorIs(t, err, ErrConnectivityLost)
}

func TestRemote_ServerErrorMapsToErrConnectivityLost(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	remote := newTestRemote(t, failing.URL)
	_, err := remote.Seal(context.Background(), "some-handle", []byte("x"), nil)
	assert.ErrorIs(t, err, ErrConnectivityLost)
	assert.NotErrorIs(t, err, ErrRequestRejected)
}

func TestRemote_VerifyIdentity(t *testing.T) {
	ctx := context.Background()
	baseURL := startCustodian(t)

	remote := newTestRemote(t, baseURL)
	assert.NoError(t, remote.VerifyIdentity(ctx), "dummy quote should verify against the dummy verifier")

	noVerifier, err := NewRemote(RemoteConfig{BaseURL: baseURL, Level: runes.SeparateProcess})
	require.NoError(t, err)
	assert.ErrorIs(t, noVerifier.VerifyIdentity(ctx), ErrRemoteAttestationFailed)
}

func TestRemote_VerifyIdentityRejectsForgedQuote(t *testing.T) {
	forged := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("dummy attestation over 00"))
	}))
	defer forged.Close()

	remote := newTestRemote(t, forged.URL)
	err := remote.VerifyIdentity(context.Background())
	assert.ErrorIs(t, err, ErrRemoteAttestationFailed, "a quote over the wrong report data must not verify")
}
