// Package logger builds the zap logger shared by the pds-matcher commands and holds the
// field keys the normalization and ranking engines log with.
//
// Entries go to stderr so that command output on stdout (tables, JSON runs) stays clean.
// The message key is "step": every entry names the step of a normalization or ranking run
// it describes.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// EncodingConsole is the human-readable encoding used by default.
	EncodingConsole = "console"
	// EncodingJSON emits one JSON object per entry.
	EncodingJSON = "json"
)

// Options selects how the process logger writes.
type Options struct {
	JSON  bool
	Debug bool
	// Outputs defaults to stderr.
	Outputs []string
}

func (o Options) encoding() string {
	if o.JSON {
		return EncodingJSON
	}
	return EncodingConsole
}

func (o Options) level() zapcore.Level {
	if o.Debug {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// New builds the process logger.
func New(opts Options) (*zap.Logger, error) {
	outputs := opts.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	cfg := zap.Config{
		Encoding:         opts.encoding(),
		Level:            zap.NewAtomicLevelAt(opts.level()),
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    encoderConfig(),
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", cfg.Encoding, err)
	}
	return l.Named("pds-matcher"), nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:     "step",
		NameKey:        "logger",
		LevelKey:       "level",
		TimeKey:        "time",
		CallerKey:      "caller",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}
