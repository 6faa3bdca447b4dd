package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a zap logger. When debug is true, uses development config
// (human-readable, debug level); otherwise uses production config (JSON, info level).
func NewLogger(debug bool) (*zap.Logger, error) {
	return NewLoggerWithFormat(debug, "")
}

// NewLoggerWithFormat is NewLogger with an explicit encoding ("json" or "console").
// An empty format keeps the encoding implied by debug. Logs go to stderr so that
// stage output written to stdout stays parseable.
func NewLoggerWithFormat(debug bool, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	switch format {
	case "json", "console":
		cfg.Encoding = format
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
