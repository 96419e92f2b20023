// Package logging builds the process's structured logger. A single
// *zap.Logger is constructed once at startup and threaded explicitly into
// every component constructor — no package-level global, matching the
// teacher's convention of passing a logger value rather than calling a
// global logger function.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls logger construction.
type Options struct {
	// Development enables human-readable console output and debug level;
	// otherwise JSON output at info level is used.
	Development bool
}

// New builds a *zap.Logger per opts.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	return cfg.Build()
}

// ForReplay returns a child logger scoped to one replay's digest, the
// pattern every component that logs per-replay diagnostics uses.
func ForReplay(base *zap.Logger, digest string) *zap.Logger {
	return base.With(zap.String("digest", digest))
}
