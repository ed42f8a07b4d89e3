// Package common holds process-wide helpers shared by all binaries.
package common

import (
	"log/slog"
	"os"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// PackageName tags logs and diagnostics emitted by this module's
// services.
const PackageName = "sigaldry"

type LoggingOpts struct {
	// Debug enables debug-level logging.
	Debug bool

	// JSON selects JSON log output instead of text.
	JSON bool

	// Service is added as a tag to all log lines, if set.
	Service string

	// Version is added as a tag to all log lines, if set.
	Version string
}

// SetupLogger creates the process logger on stderr.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	} else {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	}

	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}
	return log
}
