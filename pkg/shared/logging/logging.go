// Package logging builds the process-wide logr.Logger backed by zap, the
// pairing the teacher ships (go.uber.org/zap + go-logr/logr + go-logr/zapr).
// Every component takes a logr.Logger at construction rather than reaching
// for a package-level global.
package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logr.Logger for the given level ("debug", "info", "warn",
// "error") and format ("json" or "console").
func New(level, format string) (logr.Logger, error) {
	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return logr.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	zl, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return logr.Logger{}, fmt.Errorf("build zap logger: %w", err)
	}
	return zapr.NewLogger(zl), nil
}

// NewNop returns a logger that discards everything, used as a safe default
// and in tests that don't care about log output.
func NewNop() logr.Logger {
	return logr.Discard()
}

// WithComponent returns a child logger tagged with the owning component
// name, the convention every package here uses for its constructor's
// logr.Logger parameter.
func WithComponent(base logr.Logger, component string) logr.Logger {
	return base.WithName(component)
}
