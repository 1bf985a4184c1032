// Package logging wraps log/slog with the configuration-driven setup and the
// process-wide logger used across blackhole.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"blackhole/pkg/config"
)

// Logger is a slog.Logger that remembers its configuration and owns the
// file it writes to, if any.
type Logger struct {
	*slog.Logger
	cfg    *config.LoggingConfig
	closer io.Closer
}

// New creates a logger from configuration.
func New(cfg *config.LoggingConfig) (*Logger, error) {
	var (
		out    io.Writer
		closer io.Closer
	)
	switch cfg.Output {
	case "stderr":
		out = os.Stderr
	case "file":
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	default:
		out = os.Stdout
	}

	return &Logger{
		Logger: slog.New(newHandler(out, cfg)),
		cfg:    cfg,
		closer: closer,
	}, nil
}

// NewWithWriter builds a logger writing to w; output settings in cfg are
// ignored.
func NewWithWriter(w io.Writer, cfg *config.LoggingConfig) *Logger {
	return &Logger{Logger: slog.New(newHandler(w, cfg)), cfg: cfg}
}

func newHandler(w io.Writer, cfg *config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// NewDefault creates an info level text logger on stdout.
func NewDefault() *Logger {
	cfg := &config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"}
	return NewWithWriter(os.Stdout, cfg)
}

// WithFields returns a logger that adds fields to every record.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.Logger.With(args...), cfg: l.cfg}
}

// WithField returns a logger that adds one field to every record.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{Logger: l.Logger.With(key, value), cfg: l.cfg}
}

// Close releases the log file when output is "file".
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// ParseLevel converts a configured level name; unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var global = NewDefault()

// SetGlobal replaces the process-wide logger and slog's default.
func SetGlobal(logger *Logger) {
	global = logger
	slog.SetDefault(logger.Logger)
}

// Global returns the process-wide logger.
func Global() *Logger {
	return global
}

// Debug logs at debug level on the global logger.
func Debug(msg string, args ...any) { global.Debug(msg, args...) }

// Info logs at info level on the global logger.
func Info(msg string, args ...any) { global.Info(msg, args...) }

// Warn logs at warn level on the global logger.
func Warn(msg string, args ...any) { global.Warn(msg, args...) }

// Error logs at error level on the global logger.
func Error(msg string, args ...any) { global.Error(msg, args...) }

// ErrorContext logs at error level with ctx on the global logger.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	global.ErrorContext(ctx, msg, args...)
}
