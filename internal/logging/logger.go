// Package logging provides zap logger helpers shared by the gateway and the agent.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger configured for development or production. Every
// entry carries the service name so gateway and agent logs can share a sink.
func New(service string, development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	kind := "prod"
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		kind = "dev"
	}
	cfg.EncoderConfig.TimeKey = "ts"
	if service != "" {
		cfg.InitialFields = map[string]any{"service": service}
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", kind, err)
	}
	return logger, nil
}

// Sync flushes the logger, ignoring the error stderr/stdout sinks return on some platforms.
func Sync(logger *zap.Logger) {
	if logger == nil {
		return
	}
	_ = logger.Sync() //nolint:errcheck // best-effort flush
}
