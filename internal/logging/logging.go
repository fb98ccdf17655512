// Package logging is the structured logger used across planetfall. It wraps
// log/slog behind a context-first interface so rooms and handlers can carry a
// pre-scoped logger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Field is one key/value pair attached to a log record.
type Field = slog.Attr

func String(key, value string) Field        { return slog.String(key, value) }
func Int(key string, value int) Field       { return slog.Int(key, value) }
func Uint64(key string, value uint64) Field { return slog.Uint64(key, value) }
func Any(key string, value any) Field       { return slog.Any(key, value) }

// Err records err under the "error" key.
func Err(err error) Field {
	if err == nil {
		return slog.Any("error", nil)
	}
	return slog.String("error", err.Error())
}

// Logger writes leveled records with fields.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Config selects the level and output format. Output defaults to stdout.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or text
	Output io.Writer
}

// New builds a Logger from cfg. Unknown levels fall back to info and unknown
// formats to text.
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return &logger{l: slog.New(slog.NewJSONHandler(out, opts))}
	}
	return &logger{l: slog.New(slog.NewTextHandler(out, opts))}
}

// NewFromEnv reads LOG_LEVEL and LOG_FORMAT. It is used before the config
// has been loaded.
func NewFromEnv() Logger {
	return New(Config{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT")})
}

// Noop returns a logger that discards everything.
func Noop() Logger { return noop }

var noop Logger = &logger{l: slog.New(slog.DiscardHandler)}

type logger struct {
	l *slog.Logger
}

func (g *logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return g
	}
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f
	}
	return &logger{l: g.l.With(args...)}
}

func (g *logger) Debug(ctx context.Context, msg string, fields ...Field) {
	g.l.LogAttrs(ctx, slog.LevelDebug, msg, fields...)
}

func (g *logger) Info(ctx context.Context, msg string, fields ...Field) {
	g.l.LogAttrs(ctx, slog.LevelInfo, msg, fields...)
}

func (g *logger) Warn(ctx context.Context, msg string, fields ...Field) {
	g.l.LogAttrs(ctx, slog.LevelWarn, msg, fields...)
}

func (g *logger) Error(ctx context.Context, msg string, fields ...Field) {
	g.l.LogAttrs(ctx, slog.LevelError, msg, fields...)
}

func parseLevel(level string) slog.Level {
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

type loggerKey struct{}

// ContextWithLogger returns a copy of ctx carrying l.
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	if l == nil {
		l = noop
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored on ctx, or Noop.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return l
	}
	return noop
}
