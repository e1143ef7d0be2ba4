package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Verbosity 0 logs warnings, 1 adds
// info and 2 or more debug.
func NewLogger(verbosity int, format string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	switch {
	case verbosity <= 0:
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case verbosity == 1:
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	switch format {
	case "", "console":
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	case "json":
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	config.Sampling = nil

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
