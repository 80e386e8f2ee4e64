package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"sitealert/internal/config"
)

const ansiReset = "\x1b[0m"

var levelTones = []struct {
	marker string
	tone   string
}{
	{marker: "level=ERROR", tone: "\x1b[31m"},
	{marker: "level=WARN", tone: "\x1b[33m"},
	{marker: "level=INFO", tone: "\x1b[34m"},
	{marker: "level=DEBUG", tone: "\x1b[90m"},
}

// New builds a logger for configured sinks and returns a cleanup function.
// Params: cfg contains console/file sink settings.
// Returns: slog logger, cleanup callback, and setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	return build(cfg, os.Stdout)
}

func build(cfg config.LogConfig, console io.Writer) (*slog.Logger, func(), error) {
	var (
		handlers []slog.Handler
		closers  []io.Closer
	)
	if cfg.Console.Enabled {
		dst := console
		if cfg.Console.Color && cfg.Console.Format == "line" {
			dst = &colorLineWriter{dst: console}
		}
		handler, err := sinkHandler(cfg.Console, dst, true)
		if err != nil {
			return nil, nil, fmt.Errorf("console sink: %w", err)
		}
		handlers = append(handlers, handler)
	}
	if cfg.File.Enabled {
		file, err := openLogFile(cfg.File.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("file sink: %w", err)
		}
		handler, err := sinkHandler(cfg.File, file, false)
		if err != nil {
			_ = file.Close()
			return nil, nil, fmt.Errorf("file sink: %w", err)
		}
		handlers = append(handlers, handler)
		closers = append(closers, file)
	}

	switch len(handlers) {
	case 0:
		return nil, nil, fmt.Errorf("no log sinks enabled")
	case 1:
		return slog.New(handlers[0]), closeAll(closers), nil
	default:
		return slog.New(multiHandler(handlers)), closeAll(closers), nil
	}
}

// ForSite returns logger scoped to one site tenant.
func ForSite(logger *slog.Logger, orgID, siteID string) *slog.Logger {
	return logger.With("org_id", orgID, "site_id", siteID)
}

// ForOrg returns logger scoped to one organization tenant.
func ForOrg(logger *slog.Logger, orgID string) *slog.Logger {
	return logger.With("org_id", orgID)
}

// Discard returns logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

// sinkHandler creates text or JSON handler for one sink.
// Params: sink level/format, destination, and whether to drop timestamps.
// Returns: configured handler or error.
func sinkHandler(sink config.LogSinkConfig, dst io.Writer, dropTime bool) (slog.Handler, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if dropTime {
		opts.ReplaceAttr = func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) == 0 && attr.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return attr
		}
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line":
		return slog.NewTextHandler(dst, opts), nil
	case "json":
		return slog.NewJSONHandler(dst, opts), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", sink.Format)
	}
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir %q: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	return file, nil
}

func closeAll(closers []io.Closer) func() {
	return func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}
}

// parseLevel converts configuration level into slog.Level.
func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	normalized := strings.TrimSpace(strings.ToLower(value))
	if normalized == "" {
		return slog.LevelInfo, nil
	}
	switch normalized {
	case "debug", "info", "warn", "error":
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported level %q", value)
	}
	if err := level.UnmarshalText([]byte(normalized)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

// multiHandler writes every record to each downstream handler that accepts its level.
type multiHandler []slog.Handler

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range m {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle forwards the record to all enabled downstream handlers.
// Returns: first sink error; remaining sinks still receive the record.
func (m multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, handler := range m {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return m.derive(func(handler slog.Handler) slog.Handler { return handler.WithAttrs(attrs) })
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	return m.derive(func(handler slog.Handler) slog.Handler { return handler.WithGroup(name) })
}

func (m multiHandler) derive(fn func(slog.Handler) slog.Handler) multiHandler {
	next := make(multiHandler, len(m))
	for i, handler := range m {
		next[i] = fn(handler)
	}
	return next
}

// colorLineWriter wraps console line logs with level-based color.
type colorLineWriter struct {
	dst io.Writer
}

func (w *colorLineWriter) Write(payload []byte) (int, error) {
	line := string(payload)
	for _, entry := range levelTones {
		if !strings.Contains(line, entry.marker) {
			continue
		}
		n, err := io.WriteString(w.dst, entry.tone+line+ansiReset)
		if n > len(payload) {
			n = len(payload)
		}
		return n, err
	}
	return w.dst.Write(payload)
}
