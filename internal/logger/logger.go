// Package logger wraps zap's sugared logger so components take one injected
// dependency and log with key/value pairs.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.SugaredLogger
}

// New builds a logger for mode "dev" (console, debug level) or "prod" (JSON,
// info level). Any other mode is an error.
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch mode {
	case "", "dev", "development":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown log mode %q", mode)
	}
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{z.Sugar()}, nil
}

// ToFile builds a logger that writes JSON lines to path instead of stderr,
// so the interactive console stays readable.
func ToFile(mode, path string) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	if mode == "" || mode == "dev" || mode == "development" {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{z.Sugar()}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

func (l *Logger) Debug(msg string, kv ...any) { l.SugaredLogger.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.SugaredLogger.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.SugaredLogger.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.SugaredLogger.Errorw(msg, kv...) }

// With returns a child logger carrying kv on every entry.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{l.SugaredLogger.With(kv...)}
}

func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}
