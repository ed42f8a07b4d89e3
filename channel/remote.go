package channel

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sigaldry/sigaldry/api"
	"github.com/sigaldry/sigaldry/attestation"
	"github.com/sigaldry/sigaldry/construction"
	"github.com/sigaldry/sigaldry/runes"
)

// RemoteConfig configures a channel to a custodian running outside the
// caller's process.
type RemoteConfig struct {
	// BaseURL is the custodian's API root, e.g. "http://127.0.0.1:8080".
	BaseURL string

	// Level is the isolation level the custodian's deployment provides.
	// The API contract is identical for SeparateProcess, VirtualMachine
	// and DiscreteCpu; only the transport underneath differs.
	Level runes.IsolationLevel

	// Certifications are the environment's certification runes, trusted
	// only after VerifyIdentity succeeds.
	Certifications []runes.Certification

	// Verifier checks the custodian's identity quote. Required for
	// VerifyIdentity; a nil verifier makes VerifyIdentity fail.
	Verifier attestation.Verifier

	// HTTPClient overrides the default transport. Per-call deadlines come
	// from the context, so the client itself carries no timeout.
	HTTPClient *http.Client
}

// Remote dispatches channel operations to a custodian over HTTP.
// Timeouts are enforced per call through the context; the channel
// performs no retries of its own.
type Remote struct {
	baseURL  string
	level    runes.IsolationLevel
	env      runes.Schema
	verifier attestation.Verifier
	client   *http.Client
}

// NewRemote validates the configuration and returns the channel. No
// connection is made until the first call.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("invalid custodian base URL %q", cfg.BaseURL)
	}
	if cfg.Level == runes.SameProcess {
		return nil, errors.New("remote channel cannot provide same-process isolation")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	env := runes.Schema{runes.Isolation{Level: cfg.Level}}
	for _, c := range cfg.Certifications {
		env = append(env, c)
	}
	return &Remote{
		baseURL:  cfg.BaseURL,
		level:    cfg.Level,
		env:      env,
		verifier: cfg.Verifier,
		client:   client,
	}, nil
}

func (r *Remote) Level() runes.IsolationLevel { return r.level }

func (r *Remote) Environment() runes.Schema { return r.env.Clone() }

// VerifyIdentity challenges the custodian with fresh report data and
// verifies the returned quote. Callers should verify identity before
// forging keys whose schema relies on the environment's Certification or
// Isolation runes.
func (r *Remote) VerifyIdentity(ctx context.Context) error {
	if r.verifier == nil {
		return fmt.Errorf("%w: no verifier configured", ErrRemoteAttestationFailed)
	}

	var reportData [64]byte
	if _, err := io.ReadFull(rand.Reader, reportData[:]); err != nil {
		return fmt.Errorf("generating attestation challenge: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/attest/%x", r.baseURL, reportData[:]), nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return r.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: custodian returned status %d: %s", ErrRemoteAttestationFailed, resp.StatusCode, bytes.TrimSpace(body))
	}

	quote, err := io.ReadAll(resp.Body)
	if err != nil {
		return r.transportError(err)
	}
	if err := r.verifier.Verify(reportData, quote); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteAttestationFailed, err)
	}
	return nil
}

func (r *Remote) GenerateKey(ctx context.Context, c *construction.Construction, schema runes.Schema) (KeyHandle, error) {
	schemaWire, err := runes.MarshalSchema(schema)
	if err != nil {
		return "", fmt.Errorf("encoding schema: %w", err)
	}

	var resp api.GenerateKeyResponse
	err = r.call(ctx, http.MethodPost, "/api/keys", api.GenerateKeyRequest{
		ConstructionID: c.Identifier().String(),
		Schema:         schemaWire,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.KeyID == "" {
		return "", fmt.Errorf("%w: custodian returned empty key id", ErrConnectivityLost)
	}
	return KeyHandle(resp.KeyID), nil
}

func (r *Remote) Seal(ctx context.Context, handle KeyHandle, plaintext, aad []byte) ([]byte, error) {
	var resp api.SealResponse
	err := r.call(ctx, http.MethodPost, "/api/keys/"+url.PathEscape(handle.String())+"/seal",
		api.SealRequest{Plaintext: plaintext, AAD: aad}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

func (r *Remote) Unseal(ctx context.Context, handle KeyHandle, payload, aad []byte) ([]byte, error) {
	var resp api.UnsealResponse
	err := r.call(ctx, http.MethodPost, "/api/keys/"+url.PathEscape(handle.String())+"/unseal",
		api.UnsealRequest{Payload: payload, AAD: aad}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Plaintext, nil
}

func (r *Remote) DestroyKey(ctx context.Context, handle KeyHandle) error {
	return r.call(ctx, http.MethodDelete, "/api/keys/"+url.PathEscape(handle.String()), nil, nil)
}

// call performs one request/response exchange, mapping transport and
// status errors to the channel error taxonomy.
func (r *Remote) call(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return r.transportError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
	case http.StatusNotFound:
		return ErrUnknownHandle
	case http.StatusUnprocessableEntity:
		return construction.ErrVerificationFailed
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		// A 4xx is the custodian refusing the request, not the transport
		// failing; retrying it cannot succeed.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("%w: custodian returned status %d: %s", ErrRequestRejected, resp.StatusCode, bytes.TrimSpace(msg))
		}
		return fmt.Errorf("%w: custodian returned status %d: %s", ErrConnectivityLost, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrConnectivityLost, err)
	}
	return nil
}

// transportError distinguishes the caller's deadline expiring from the
// transport failing underneath.
func (r *Remote) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrConnectivityLost, err)
}
