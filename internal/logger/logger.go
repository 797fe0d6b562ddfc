// Package logger builds the process logger.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options control the logger. Zero values give JSON output at info level.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Console switches to the human-readable development encoder. Debug
	// level implies it.
	Console bool
}

// New returns a production (JSON) logger, or a development logger for debug
// level. Unknown levels are rejected so a typo does not silently hide logs.
func New(opts Options) (*zap.Logger, error) {
	lvl := strings.ToLower(strings.TrimSpace(opts.Level))
	if lvl == "" {
		lvl = "info"
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(lvl)); err != nil {
		return nil, fmt.Errorf("logger: invalid level %q", opts.Level)
	}

	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.MessageKey = "message"
	if level == zapcore.DebugLevel || opts.Console {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	// faults are reported with their own stack
	cfg.DisableStacktrace = true

	return cfg.Build()
}

// Sync flushes buffered entries, ignoring the EINVAL some terminals return.
func Sync(l *zap.Logger) {
	if l != nil {
		_ = l.Sync()
	}
}
