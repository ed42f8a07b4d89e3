// The custodian binary serves the key custodian API: it generates and
// holds key material for remote isolation channels, wrapped at rest
// under a master key derived from a seed.
package main

import (
	"encoding/hex"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/sigaldry/sigaldry/api/custodian"
	"github.com/sigaldry/sigaldry/attestation"
	"github.com/sigaldry/sigaldry/cmd/flags"
	"github.com/sigaldry/sigaldry/construction"
	"github.com/sigaldry/sigaldry/httpserver"
	"github.com/sigaldry/sigaldry/keystore"
)

// masterKeySalt domain-separates the custodian's key-wrapping key from
// other uses of the same seed. Changing it invalidates every stored
// record.
const masterKeySalt = "sigaldry-custodian-kek-v1"

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}
var SeedFlag = &cli.StringFlag{
	Name:     "master-seed",
	Required: true,
	EnvVars:  []string{"CUSTODIAN_MASTER_SEED"},
	Usage:    "master key seed, 32-byte hex string; the key-wrapping key is derived from it",
}
var KeystoreURIFlag = &cli.StringFlag{
	Name:  "keystore-uri",
	Value: "memory://",
	Usage: "key record storage: memory://, file:///path, or vault://host:port/mount/prefix",
}
var AttestationTypeFlag = &cli.StringFlag{
	Name:  "attestation-type",
	Value: string(attestation.TypeDummy),
	Usage: "identity quote provider: dcap-tdx or dummy",
}

func main() {
	app := &cli.App{
		Name:  "custodian",
		Usage: "Serve the key custodian API",
		Flags: append([]cli.Flag{ListenAddrFlag, SeedFlag, KeystoreURIFlag, AttestationTypeFlag}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String(ListenAddrFlag.Name)
			logger := flags.SetupLogger(cCtx)

			seed, err := hex.DecodeString(cCtx.String(SeedFlag.Name))
			if err != nil || len(seed) != 32 {
				err = errors.New("master-seed must be a 32-byte hex string")
				logger.Error("Invalid master seed", "err", err)
				return err
			}

			attestType, err := attestation.ParseType(cCtx.String(AttestationTypeFlag.Name))
			if err != nil {
				logger.Error("Invalid attestation type", "err", err)
				return err
			}
			attester, err := attestation.ProviderFor(attestType)
			if err != nil {
				logger.Error("Failed to initialize attestation provider", "err", err)
				return err
			}

			store, err := keystore.ForURI(cCtx.String(KeystoreURIFlag.Name), logger)
			if err != nil {
				logger.Error("Failed to open keystore", "err", err)
				return err
			}

			masterKey := keystore.DeriveMasterKey(seed, []byte(masterKeySalt))
			wrapper, err := keystore.NewWrapper(masterKey)
			if err != nil {
				logger.Error("Failed to initialize key wrapper", "err", err)
				return err
			}

			registry, err := construction.DefaultRegistry()
			if err != nil {
				logger.Error("Failed to build construction registry", "err", err)
				return err
			}

			handler := custodian.NewHandler(registry, store, wrapper, attester, logger)
			srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger, listenAddr), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			srv.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Custodian is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			srv.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
