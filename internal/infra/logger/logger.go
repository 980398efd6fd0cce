package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"pixelchat/internal/infra/config"
)

// redactedKeys are attribute keys whose values never reach the log.
var redactedKeys = map[string]bool{
	"api_key":       true,
	"authorization": true,
	"token":         true,
}

// maxDataURLLen caps how much of an inline "data:" image is logged.
const maxDataURLLen = 48

// New creates a configured *slog.Logger.
// The returned closer function should be deferred to flush/close file handles.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	writer, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}
	return slog.New(newHandler(writer, cfg.Format, parseLevel(cfg.Level))), closer, nil
}

// NewForTerminal is New for the full-screen chat UI. Console outputs would
// corrupt the alternate screen, so they are raised to warn level at minimum.
// File outputs keep the configured level.
func NewForTerminal(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	writer, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}
	level := parseLevel(cfg.Level)
	if isConsole(cfg.Output) && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	return slog.New(newHandler(writer, cfg.Format, level)), closer, nil
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redact}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// redact hides credentials and truncates inline image payloads.
func redact(_ []string, a slog.Attr) slog.Attr {
	if redactedKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[redacted]")
	}
	if a.Value.Kind() == slog.KindString {
		if v := a.Value.String(); strings.HasPrefix(v, "data:") && len(v) > maxDataURLLen {
			return slog.String(a.Key, fmt.Sprintf("%s...(%d bytes)", v[:maxDataURLLen], len(v)))
		}
	}
	return a
}

// parseLevel converts a string level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func isConsole(output string) bool {
	switch strings.ToLower(output) {
	case "stdout", "stderr", "":
		return true
	}
	return false
}

// openOutput returns an io.Writer for the specified output target.
func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr", "":
		return os.Stderr, noop, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
}
