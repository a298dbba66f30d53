// Package logger builds the structured logger threaded through every HN4
// subsystem constructor, matching the *zap.SugaredLogger convention used
// throughout this codebase's Config structs.
package logger

import (
	"go.uber.org/zap"
)

// New builds a production-configured, sugared zap logger tagged with the
// "service" field so log aggregation can separate output from multiple
// mounted volumes in the same process.
func New(service string) *zap.SugaredLogger {
	base, err := zap.NewProduction()
	if err != nil {
		// zap.NewProduction only fails on a broken encoder/sink
		// configuration, which is a programming error, not a runtime
		// condition callers can recover from.
		base = zap.NewNop()
	}
	return base.Sugar().With("service", service)
}

// NewDevelopment builds a human-readable, development-configured logger for
// use in tests and local tooling.
func NewDevelopment(service string) *zap.SugaredLogger {
	base, err := zap.NewDevelopment()
	if err != nil {
		base = zap.NewNop()
	}
	return base.Sugar().With("service", service)
}

// Nop returns a logger that discards everything, used by defaults and tests
// that don't care about log output.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
