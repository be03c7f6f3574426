// Package logging provides structured logging configuration using zap with logfmt encoding.
// It supports configurable log levels and formats and outputs to stdout for container-friendly logging.
package logging

import (
	"fmt"
	"os"
	"strings"

	zaplogfmt "github.com/allir/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration options.
type Config struct {
	// Level specifies the minimum log level (debug, info, warn, error).
	Level string `yaml:"level"`
	// Format selects the encoder: logfmt (default) or json.
	Format string `yaml:"format"`
}

// New initializes a zap logger writing to stdout.
// The logger uses production-grade settings with the specified log level.
func New(cfg Config) (*zap.Logger, error) {
	return NewWithWriter(cfg, zapcore.Lock(os.Stdout))
}

// NewWithWriter is New with a custom sink.
func NewWithWriter(cfg Config, w zapcore.WriteSyncer) (*zap.Logger, error) {
	level := parseLevel(cfg.Level)
	encoder, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder, w, zap.NewAtomicLevelAt(level))

	return zap.New(core), nil
}

// newEncoder builds the encoder for the configured format.
func newEncoder(format string) (zapcore.Encoder, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	switch strings.ToLower(format) {
	case "logfmt", "":
		encoderConfig.TimeKey = ""
		encoderConfig.ConsoleSeparator = " "
		return zaplogfmt.NewEncoder(encoderConfig), nil
	case "json":
		encoderConfig.TimeKey = "ts"
		return zapcore.NewJSONEncoder(encoderConfig), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q, must be one of: logfmt, json", format)
	}
}

// parseLevel converts a string level name to a zapcore.Level constant.
// It defaults to info level for empty or unrecognized values.
func parseLevel(v string) zapcore.Level {
	switch strings.ToLower(v) {
	case "debug":
		return zap.DebugLevel
	case "info", "":
		return zap.InfoLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Validate rejects unknown formats.
func (c Config) Validate() error {
	_, err := newEncoder(c.Format)
	return err
}
