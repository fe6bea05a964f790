package utils

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Logger provides leveled logging throughout the application. Messages are
// printf-style; structured attributes are attached with With.
type Logger struct {
	slog *slog.Logger
}

// NewLogger creates a Logger writing colourised output to stderr.
func NewLogger() *Logger {
	return NewLoggerTo(os.Stderr, false)
}

// NewLoggerTo creates a Logger writing to w. Debug messages are emitted only
// when verbose is set.
func NewLoggerTo(w io.Writer, verbose bool) *Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})
	return &Logger{slog: slog.New(handler)}
}

// NewDiscardLogger returns a Logger that drops everything. Used by tests.
func NewDiscardLogger() *Logger {
	return &Logger{slog: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With returns a child logger that carries the given attribute on every message.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{slog: l.slog.With(key, value)}
}

// Slog exposes the underlying structured logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

func (l *Logger) log(level slog.Level, format string, args ...any) {
	if !l.slog.Enabled(context.Background(), level) {
		return
	}
	l.slog.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...any) {
	l.log(slog.LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(slog.LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(slog.LevelError, format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	l.log(slog.LevelDebug, format, args...)
}
