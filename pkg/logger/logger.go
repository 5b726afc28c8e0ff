// Package logger provides structured logging for fedstream
package logger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global      atomic.Pointer[zap.Logger]
	defaultOnce sync.Once
	fallback    *zap.Logger
)

// contextKey is the type for context keys
type contextKey string

const (
	// StreamerKey is the context key for the streamer name
	StreamerKey contextKey = "streamer"
	// SourceKey is the context key for a source name
	SourceKey contextKey = "source"
)

// Config represents logger configuration
type Config struct {
	Level       string
	Development bool
	Encoding    string // json or console
	OutputPaths []string
}

// Init builds a logger from cfg and installs it as the global logger,
// replacing any earlier one.
func Init(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	global.Store(l)
	return nil
}

// New creates a zap logger without touching the global one.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "json"
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if cfg.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         cfg.Encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	if cfg.Development {
		logger = logger.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return logger, nil
}

// Get returns the global logger, installing an info-level JSON logger on
// first use when Init has not run. It is safe for concurrent use.
func Get() *zap.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	defaultOnce.Do(func() {
		l, err := New(Config{})
		if err != nil {
			l = zap.NewNop()
		}
		fallback = l
	})
	global.CompareAndSwap(nil, fallback)
	return global.Load()
}

// Replace installs l as the global logger and returns a function restoring
// the previous one.
func Replace(l *zap.Logger) func() {
	prev := global.Swap(l)
	return func() { global.Store(prev) }
}

// WithStreamer returns a context carrying the streamer name for WithContext.
func WithStreamer(ctx context.Context, streamer string) context.Context {
	return context.WithValue(ctx, StreamerKey, streamer)
}

// WithSource returns a context carrying the source name for WithContext.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, SourceKey, source)
}

// WithContext returns the global logger annotated with the streamer and
// source names found in ctx.
func WithContext(ctx context.Context) *zap.Logger {
	logger := Get()
	if streamer, ok := ctx.Value(StreamerKey).(string); ok {
		logger = logger.With(zap.String("streamer", streamer))
	}
	if source, ok := ctx.Value(SourceKey).(string); ok {
		logger = logger.With(zap.String("source", source))
	}
	return logger
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	Get().Warn(msg, fields...)
}

// With creates a child logger with additional fields
func With(fields ...zap.Field) *zap.Logger {
	return Get().With(fields...)
}

// Sync flushes any buffered log entries of the global logger.
func Sync() error {
	if l := global.Load(); l != nil {
		return l.Sync()
	}
	return nil
}
