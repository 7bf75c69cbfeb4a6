package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"livraison/internal/config"
)

// New builds the production JSON logger tagged with the configured service
// name. An unknown level falls back to info.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	return build(cfg, zap.NewProductionConfig())
}

func build(cfg config.LogConfig, zc zap.Config) (*zap.Logger, error) {
	zc.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Service != "" {
		zc.InitialFields = map[string]interface{}{"service": cfg.Service}
	}
	return zc.Build()
}

func parseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
