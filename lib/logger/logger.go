// Package logger provides subsystem-tagged structured loggers and
// context helpers used across the daemon and CLI.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Subsystem identifies the component a logger belongs to.
type Subsystem string

const (
	SubsystemAPI      Subsystem = "api"
	SubsystemBuilds   Subsystem = "builds"
	SubsystemImages   Subsystem = "images"
	SubsystemEngine   Subsystem = "engine"
	SubsystemRegistry Subsystem = "registry"
	SubsystemCLI      Subsystem = "cli"
)

// Config controls logger construction.
type Config struct {
	Level  slog.Level
	Format string // "json" or "text"
}

// NewConfig builds a Config from LOG_LEVEL and LOG_FORMAT. Unset or
// unrecognized values fall back to info/json.
func NewConfig() Config {
	cfg := Config{Level: slog.LevelInfo, Format: "json"}

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.Level = slog.LevelDebug
	case "warn":
		cfg.Level = slog.LevelWarn
	case "error":
		cfg.Level = slog.LevelError
	}

	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "text" {
		cfg.Format = "text"
	}

	return cfg
}

// NewSubsystemLogger returns a logger tagged with the subsystem name.
// When extra is non-nil (the OTLP bridge handler in the daemon),
// records are fanned out to it as well as stdout.
func NewSubsystemLogger(sub Subsystem, cfg Config, extra slog.Handler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	if extra != nil {
		h = fanoutHandler{handlers: []slog.Handler{h, extra}}
	}

	return slog.New(h).With("subsystem", string(sub))
}

type ctxKey struct{}

// AddToContext returns a context carrying log. Handlers use this so
// downstream code logs with request-scoped attributes.
func AddToContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logger stored in ctx, or slog.Default when
// none was added.
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}

// fanoutHandler duplicates records to every wrapped handler.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return fanoutHandler{handlers: next}
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return fanoutHandler{handlers: next}
}
