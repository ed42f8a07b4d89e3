// The sealtool binary is a command-line client for a running custodian:
// it forges a binding, seals and unseals messages under it, and revokes
// it. The binding is persisted as a small JSON file between invocations
// so the tool can be used from shell pipelines.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/sigaldry/sigaldry/attestation"
	"github.com/sigaldry/sigaldry/channel"
	"github.com/sigaldry/sigaldry/cmd/flags"
	"github.com/sigaldry/sigaldry/codec"
	"github.com/sigaldry/sigaldry/construction"
	"github.com/sigaldry/sigaldry/runes"
)

// binding is the persisted state of a forged key. The message budget is
// tracked by the library at runtime, not here: sealtool is a thin
// channel client and leaves budget enforcement to services embedding
// the library.
type binding struct {
	KeyID          string `json:"key_id"`
	ConstructionID string `json:"construction_id"`
	CustodianURL   string `json:"custodian_url"`
	Isolation      string `json:"isolation"`
	Origin         string `json:"origin,omitempty"`
}

var (
	CustodianURLFlag = &cli.StringFlag{
		Name:  "custodian-url",
		Value: "http://127.0.0.1:8080",
		Usage: "base URL of the custodian API",
	}
	IsolationFlag = &cli.StringFlag{
		Name:  "isolation",
		Value: "separate-process",
		Usage: "isolation level the custodian deployment provides: separate-process, virtual-machine or discrete-cpu",
	}
	BindingFlag = &cli.StringFlag{
		Name:  "binding",
		Value: "binding.json",
		Usage: "path of the binding state file",
	}
	AttestationTypeFlag = &cli.StringFlag{
		Name:  "attestation-type",
		Value: string(attestation.TypeDummy),
		Usage: "verifier for the custodian's identity quote: dcap-tdx or dummy",
	}
	SkipAttestationFlag = &cli.BoolFlag{
		Name:  "skip-attestation",
		Value: false,
		Usage: "do not verify the custodian's identity before forging",
	}
	TimeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Value: 30 * time.Second,
		Usage: "per-operation deadline",
	}

	ConstructionFlag = &cli.StringFlag{
		Name:  "construction",
		Usage: "pin a construction instead of resolving one, e.g. AEAD-256",
	}
	ConfidentialityFlag = &cli.BoolFlag{
		Name:  "confidentiality",
		Usage: "require that sealed data is unreadable without the key",
	}
	IntegrityFlag = &cli.BoolFlag{
		Name:  "integrity",
		Usage: "require that tampering with sealed data is detected",
	}
	AuthenticationFlag = &cli.StringFlag{
		Name:  "authentication",
		Usage: "require source authentication; the value is the origin claim",
	}
	QuantumResistantFlag = &cli.BoolFlag{
		Name:  "quantum-resistant",
		Usage: "require resistance to quantum computing attacks",
	}
	MessageLimitFlag = &cli.Uint64Flag{
		Name:  "message-limit",
		Usage: "override the default message budget",
	}
	TotalDataLimitFlag = &cli.Uint64Flag{
		Name:  "total-data-limit",
		Usage: "override the default cumulative data budget, in bytes",
	}
	SecurityBitsFlag = &cli.UintFlag{
		Name:  "security-bits",
		Usage: "require an estimated classical security level, in bits",
	}

	InFlag = &cli.StringFlag{
		Name:  "in",
		Usage: "input file; stdin when omitted",
	}
	OutFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "output file; stdout when omitted",
	}
	AADFlag = &cli.StringFlag{
		Name:  "aad",
		Usage: "associated data bound to, but not included in, the sealed message",
	}
)

func main() {
	app := &cli.App{
		Name:  "sealtool",
		Usage: "Forge, seal, unseal and revoke keys held by a custodian",
		Flags: flags.CommonFlags,
		Commands: []*cli.Command{
			{
				Name:   "constructions",
				Usage:  "List the built-in constructions and their capability sets",
				Action: runConstructions,
			},
			{
				Name:  "forge",
				Usage: "Forge a new binding from the requested security properties",
				Flags: []cli.Flag{
					CustodianURLFlag, IsolationFlag, BindingFlag, AttestationTypeFlag,
					SkipAttestationFlag, TimeoutFlag, ConstructionFlag,
					ConfidentialityFlag, IntegrityFlag, AuthenticationFlag,
					QuantumResistantFlag, MessageLimitFlag, TotalDataLimitFlag, SecurityBitsFlag,
				},
				Action: runForge,
			},
			{
				Name:   "seal",
				Usage:  "Seal input into an envelope under the binding's key",
				Flags:  []cli.Flag{BindingFlag, TimeoutFlag, InFlag, OutFlag, AADFlag},
				Action: runSeal,
			},
			{
				Name:   "unseal",
				Usage:  "Recover the plaintext of a sealed envelope",
				Flags:  []cli.Flag{BindingFlag, TimeoutFlag, InFlag, OutFlag, AADFlag},
				Action: runUnseal,
			},
			{
				Name:   "revoke",
				Usage:  "Destroy the binding's key and delete the binding file",
				Flags:  []cli.Flag{BindingFlag, TimeoutFlag},
				Action: runRevoke,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runConstructions(cCtx *cli.Context) error {
	registry, err := construction.DefaultRegistry()
	if err != nil {
		return err
	}
	for _, c := range registry.All() {
		fmt.Printf("%s\t%s\t%s\n", c.Identifier(), c.Params().Algorithm, c.Capabilities())
	}
	return nil
}

func buildSchema(cCtx *cli.Context) (runes.Schema, error) {
	b := runes.NewSchemaBuilder()
	if cCtx.Bool(ConfidentialityFlag.Name) {
		b.Confidentiality()
	}
	if cCtx.Bool(IntegrityFlag.Name) {
		b.Integrity()
	}
	if origin := cCtx.String(AuthenticationFlag.Name); origin != "" {
		b.Authentication(origin)
	}
	if cCtx.Bool(QuantumResistantFlag.Name) {
		b.QuantumResistance()
	}
	if n := cCtx.Uint64(MessageLimitFlag.Name); n > 0 {
		b.MessageLimit(n)
	}
	if n := cCtx.Uint64(TotalDataLimitFlag.Name); n > 0 {
		b.TotalDataLimit(n)
	}
	if bits := cCtx.Uint(SecurityBitsFlag.Name); bits > 0 {
		b.SecurityBits(uint16(bits))
	}
	return b.Build()
}

func openChannel(custodianURL, isolation string, verifier attestation.Verifier) (*channel.Remote, error) {
	level, err := runes.ParseIsolationLevel(isolation)
	if err != nil {
		return nil, err
	}
	return channel.NewRemote(channel.RemoteConfig{
		BaseURL:  custodianURL,
		Level:    level,
		Verifier: verifier,
	})
}

func runForge(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(TimeoutFlag.Name))
	defer cancel()

	schema, err := buildSchema(cCtx)
	if err != nil {
		return err
	}

	attestType, err := attestation.ParseType(cCtx.String(AttestationTypeFlag.Name))
	if err != nil {
		return err
	}
	verifier, err := attestation.VerifierFor(attestType)
	if err != nil {
		return err
	}

	ch, err := openChannel(cCtx.String(CustodianURLFlag.Name), cCtx.String(IsolationFlag.Name), verifier)
	if err != nil {
		return err
	}
	if !cCtx.Bool(SkipAttestationFlag.Name) {
		if err := ch.VerifyIdentity(ctx); err != nil {
			return err
		}
		logger.Info("Custodian identity verified", "type", string(attestType))
	}

	registry, err := construction.DefaultRegistry()
	if err != nil {
		return err
	}

	remaining := runes.Schema(ch.Environment().Unmet(schema))
	var con *construction.Construction
	if pinned := cCtx.String(ConstructionFlag.Name); pinned != "" {
		con, err = construction.ResolvePinned(registry, construction.ID(pinned), remaining)
	} else {
		con, err = construction.Resolve(registry, remaining)
	}
	if err != nil {
		return err
	}

	handle, err := ch.GenerateKey(ctx, con, schema)
	if err != nil {
		return err
	}

	bnd := binding{
		KeyID:          handle.String(),
		ConstructionID: con.Identifier().String(),
		CustodianURL:   cCtx.String(CustodianURLFlag.Name),
		Isolation:      cCtx.String(IsolationFlag.Name),
		Origin:         cCtx.String(AuthenticationFlag.Name),
	}
	data, err := json.MarshalIndent(bnd, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(cCtx.String(BindingFlag.Name), data, 0o600); err != nil {
		return err
	}

	logger.Info("Forged binding",
		"key_id", bnd.KeyID,
		"construction", bnd.ConstructionID,
		"binding", cCtx.String(BindingFlag.Name))
	return nil
}

func loadBinding(cCtx *cli.Context) (binding, *channel.Remote, error) {
	var bnd binding
	data, err := os.ReadFile(cCtx.String(BindingFlag.Name))
	if err != nil {
		return bnd, nil, fmt.Errorf("reading binding file: %w", err)
	}
	if err := json.Unmarshal(data, &bnd); err != nil {
		return bnd, nil, fmt.Errorf("parsing binding file: %w", err)
	}
	ch, err := openChannel(bnd.CustodianURL, bnd.Isolation, nil)
	if err != nil {
		return bnd, nil, err
	}
	return bnd, ch, nil
}

func readInput(cCtx *cli.Context) ([]byte, error) {
	if path := cCtx.String(InFlag.Name); path != "" {
		return os.ReadFile(path)
	}
	return io.ReadAll(os.Stdin)
}

func writeOutput(cCtx *cli.Context, data []byte) error {
	if path := cCtx.String(OutFlag.Name); path != "" {
		return os.WriteFile(path, data, 0o600)
	}
	_, err := os.Stdout.Write(data)
	return err
}

func runSeal(cCtx *cli.Context) error {
	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(TimeoutFlag.Name))
	defer cancel()

	bnd, ch, err := loadBinding(cCtx)
	if err != nil {
		return err
	}
	plaintext, err := readInput(cCtx)
	if err != nil {
		return err
	}

	payload, err := ch.Seal(ctx, channel.KeyHandle(bnd.KeyID), plaintext, []byte(cCtx.String(AADFlag.Name)))
	if err != nil {
		return err
	}

	sealed, err := codec.NewCBOR().Encode(&codec.Envelope{
		Version:        codec.EnvelopeVersion,
		ConstructionID: bnd.ConstructionID,
		Payload:        payload,
		Origin:         bnd.Origin,
		SealedAt:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return writeOutput(cCtx, sealed)
}

func runUnseal(cCtx *cli.Context) error {
	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(TimeoutFlag.Name))
	defer cancel()

	bnd, ch, err := loadBinding(cCtx)
	if err != nil {
		return err
	}
	sealed, err := readInput(cCtx)
	if err != nil {
		return err
	}

	env, err := codec.NewCBOR().Decode(sealed)
	if err != nil {
		return err
	}
	if env.ConstructionID != bnd.ConstructionID {
		return fmt.Errorf("message sealed with %q, binding uses %q", env.ConstructionID, bnd.ConstructionID)
	}

	plaintext, err := ch.Unseal(ctx, channel.KeyHandle(bnd.KeyID), env.Payload, []byte(cCtx.String(AADFlag.Name)))
	if errors.Is(err, construction.ErrVerificationFailed) {
		return errors.New("verification failed: the message was tampered with or sealed under a different key")
	}
	if err != nil {
		return err
	}
	return writeOutput(cCtx, plaintext)
}

func runRevoke(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(TimeoutFlag.Name))
	defer cancel()

	bnd, ch, err := loadBinding(cCtx)
	if err != nil {
		return err
	}

	err = ch.DestroyKey(ctx, channel.KeyHandle(bnd.KeyID))
	if errors.Is(err, channel.ErrUnknownHandle) {
		logger.Info("Key already destroyed", "key_id", bnd.KeyID)
		err = nil
	}
	if err != nil {
		return err
	}

	if err := os.Remove(cCtx.String(BindingFlag.Name)); err != nil {
		return err
	}
	logger.Info("Revoked binding", "key_id", bnd.KeyID)
	return nil
}
