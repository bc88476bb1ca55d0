package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// InitLogger builds the process-wide logger: JSON in production, colored
// console output everywhere else.
func InitLogger(env string) error {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if env == "production" {
		cfg = zap.NewProductionConfig()
	}

	built, err := cfg.Build()
	if err != nil {
		return err
	}

	logger = built
	zap.ReplaceGlobals(logger)
	return nil
}

// GetLogger returns the shared logger. Before InitLogger runs, mostly in
// tests, it falls back to a development logger.
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// SyncLogger flushes buffered entries, for use on shutdown.
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
