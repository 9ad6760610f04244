// Package logger builds the structured logger used by the IMAP session and
// the CLI.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds logger configuration
type Config struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string
	// Format is the log format (text, json)
	Format string
	// Output is stderr, stdout or a file path
	Output string
}

// DefaultConfig logs warnings and errors as text on stderr, leaving stdout
// to command output.
func DefaultConfig() Config {
	return Config{Level: "warn", Format: "text", Output: "stderr"}
}

// New creates a structured logger. Unknown levels fall back to info and an
// unwritable file falls back to stderr.
func New(cfg Config) *slog.Logger {
	return NewWithWriter(cfg, output(cfg.Output))
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(cfg.Level),
		ReplaceAttr: sanitizeAttributes,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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

func output(dest string) io.Writer {
	switch strings.ToLower(dest) {
	case "", "stderr":
		return os.Stderr
	case "stdout":
		return os.Stdout
	}
	file, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return os.Stderr
	}
	return file
}

var sensitiveKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"credential",
	"authorization",
	"passphrase",
}

// sanitizeAttributes masks attributes whose key names a secret
func sanitizeAttributes(groups []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(key, sensitive) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
