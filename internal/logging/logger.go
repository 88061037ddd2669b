// Package logging builds the crawler's zap loggers.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoder and minimum level.
type Config struct {
	// Development switches to colored console output with caller info.
	Development bool
	// Level is a zap level name ("debug", "info", ...). Empty keeps the preset's default.
	Level string
}

// New builds a zap.Logger. Development loggers write console lines; production
// loggers write JSON. Both use "ts" as the time key.
func New(cfg Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.DisableStacktrace = false
	}
	zc.EncoderConfig.TimeKey = "ts"

	if lvl := strings.TrimSpace(cfg.Level); lvl != "" {
		level, err := zap.ParseAtomicLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zc.Level = level
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
