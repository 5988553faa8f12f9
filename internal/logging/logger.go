// Package logging provides the structured logger shared by the loader and
// the preprocessing commands.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with dataset-specific helpers so every component
// logs with the same field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, uses a text handler to stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// New picks the handler from a format name ("json" or "text") and a
// verbosity flag.
func New(format string, verbose bool) *Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if strings.EqualFold(format, "json") {
		return NewJSONLogger(level)
	}
	return NewTextLogger(level)
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, nil))
}

// OrNoop returns l, or a discarding logger when l is nil.
func OrNoop(l *Logger) *Logger {
	if l == nil {
		return NoopLogger()
	}
	return l
}

// WithCase tags the logger with a manifest row.
func (l *Logger) WithCase(index int) *Logger {
	return &Logger{Logger: l.Logger.With("case", index)}
}

// WithPath tags the logger with a file path.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{Logger: l.Logger.With("path", path)}
}

// LogDecode logs a volume decode.
func (l *Logger) LogDecode(ctx context.Context, path string, dims [3]int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "decode failed",
			"path", path,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "volume decoded",
		"path", path,
		"dims", dims,
	)
}

// LogSample logs a yielded sample. The case is expected from WithCase.
func (l *Logger) LogSample(ctx context.Context, agents int, landmarks bool) {
	l.DebugContext(ctx, "sample yielded",
		"agents", agents,
		"landmarks", landmarks,
	)
}

// LogWrite logs a volume written by an offline step.
func (l *Logger) LogWrite(ctx context.Context, path string, dims [3]int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "write failed",
			"path", path,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "volume written",
		"path", path,
		"dims", dims,
	)
}
