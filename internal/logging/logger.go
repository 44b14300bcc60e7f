package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Option adjusts the logger built by New.
type Option func(*options)

type options struct {
	console zapcore.WriteSyncer
	level   zapcore.Level
}

// WithConsole also writes human-readable lines to w. The terminal UI leaves
// this off since tview owns the screen.
func WithConsole(w zapcore.WriteSyncer) Option {
	return func(o *options) { o.console = w }
}

// WithLevel sets the minimum level of every core.
func WithLevel(l zapcore.Level) Option {
	return func(o *options) { o.level = l }
}

// New creates a zap logger that writes JSON to the given log file path.
// Profile name and PID are included as initial fields.
func New(logPath, profile string, opts ...Option) (*zap.Logger, error) {
	o := options{level: zapcore.InfoLevel}
	for _, opt := range opts {
		opt(&o)
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), o.level),
	}
	if o.console != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), o.console, o.level))
	}

	logger := zap.New(zapcore.NewTee(cores...),
		zap.Fields(
			zap.String("profile", profile),
			zap.Int("pid", os.Getpid()),
		),
	)

	return logger, nil
}
