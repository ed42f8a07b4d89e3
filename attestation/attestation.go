// Package attestation produces and verifies identity quotes for
// isolation environments. The core only consumes the boolean outcome: a
// remote channel asks a Verifier to confirm the custodian's identity
// claim before trusting its Certification and Isolation runes.
package attestation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	tdxabi "github.com/google/go-tdx-guest/abi"
	tdxclient "github.com/google/go-tdx-guest/client"
	tdxpb "github.com/google/go-tdx-guest/proto/tdx"
	tdxverify "github.com/google/go-tdx-guest/verify"
)

// Type identifies an attestation scheme.
type Type string

const (
	// TypeDCAP is Intel TDX DCAP quote attestation.
	TypeDCAP Type = "dcap-tdx"

	// TypeDummy is an unauthenticated placeholder for development and
	// tests.
	TypeDummy Type = "dummy"
)

// ParseType converts the string form used on the command line.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeDCAP, TypeDummy:
		return Type(s), nil
	default:
		return "", fmt.Errorf("unsupported attestation type %q", s)
	}
}

// Provider produces quotes over caller-chosen report data, binding the
// 64 bytes into the environment's signed identity evidence.
type Provider interface {
	Type() Type
	Attest(reportData [64]byte) ([]byte, error)
}

// Verifier checks a quote against expected report data. A nil error
// means the environment's identity claim holds.
type Verifier interface {
	Type() Type
	Verify(reportData [64]byte, quote []byte) error
}

// ErrQuoteInvalid is returned when a quote fails verification or does
// not bind the expected report data.
var ErrQuoteInvalid = errors.New("attestation: quote verification failed")

// DCAPProvider obtains TDX quotes from the local guest device.
type DCAPProvider struct{}

func (DCAPProvider) Type() Type { return TypeDCAP }

func (DCAPProvider) Attest(reportData [64]byte) ([]byte, error) {
	qp := &tdxclient.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return qp.GetRawQuote(reportData)
	}

	qd, err := tdxclient.OpenDevice()
	if err != nil {
		return nil, err
	}
	defer qd.Close()

	return tdxclient.GetRawQuote(qd, reportData)
}

// DCAPVerifier verifies TDX quotes, including the embedded report data.
type DCAPVerifier struct{}

func (DCAPVerifier) Type() Type { return TypeDCAP }

func (DCAPVerifier) Verify(reportData [64]byte, quote []byte) error {
	protoQuote, err := tdxabi.QuoteToProto(quote)
	if err != nil {
		return fmt.Errorf("%w: parsing quote: %v", ErrQuoteInvalid, err)
	}

	v4Quote, ok := protoQuote.(*tdxpb.QuoteV4)
	if !ok {
		return fmt.Errorf("%w: unsupported quote type %T", ErrQuoteInvalid, protoQuote)
	}

	if err := tdxverify.TdxQuote(protoQuote, tdxverify.DefaultOptions()); err != nil {
		return fmt.Errorf("%w: %v", ErrQuoteInvalid, err)
	}

	if !bytes.Equal(v4Quote.TdQuoteBody.ReportData, reportData[:]) {
		return fmt.Errorf("%w: report data mismatch", ErrQuoteInvalid)
	}
	return nil
}

// RemoteProvider fetches quotes from a quote-provider HTTP endpoint,
// for environments where the guest device is mediated by a host agent.
type RemoteProvider struct {
	Address string
}

func (*RemoteProvider) Type() Type { return TypeDCAP }

func (p *RemoteProvider) Attest(reportData [64]byte) ([]byte, error) {
	url := fmt.Sprintf("%s/attest/%x", p.Address, reportData[:])
	resp, err := http.DefaultClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("calling remote quote provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote quote provider returned status %d: %s", resp.StatusCode, string(body))
	}

	quote, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading quote from response: %w", err)
	}
	return quote, nil
}

// DummyProvider emits transparent, unauthenticated quotes. Development
// and tests only.
type DummyProvider struct{}

func (DummyProvider) Type() Type { return TypeDummy }

func (DummyProvider) Attest(reportData [64]byte) ([]byte, error) {
	return []byte(fmt.Sprintf("dummy attestation over %x", reportData)), nil
}

// DummyVerifier accepts exactly the quotes DummyProvider produces.
type DummyVerifier struct{}

func (DummyVerifier) Type() Type { return TypeDummy }

func (DummyVerifier) Verify(reportData [64]byte, quote []byte) error {
	expected := fmt.Sprintf("dummy attestation over %x", reportData)
	if string(quote) != expected {
		return ErrQuoteInvalid
	}
	return nil
}

// ProviderFor returns the attestation provider for the given type.
func ProviderFor(t Type) (Provider, error) {
	switch t {
	case TypeDCAP:
		return DCAPProvider{}, nil
	case TypeDummy:
		return DummyProvider{}, nil
	default:
		return nil, fmt.Errorf("unsupported attestation type %q", t)
	}
}

// VerifierFor returns the attestation verifier for the given type.
func VerifierFor(t Type) (Verifier, error) {
	switch t {
	case TypeDCAP:
		return DCAPVerifier{}, nil
	case TypeDummy:
		return DummyVerifier{}, nil
	default:
		return nil, fmt.Errorf("unsupported attestation type %q", t)
	}
}
