// Package logging builds the slog logger shared by every pscue command.
// Records go to stderr as one JSON object per line so shell integrations
// can keep stdout for completion output.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Config controls where log lines go and which levels survive.
type Config struct {
	// Output receives the JSON lines; nil means os.Stderr.
	Output io.Writer

	// Level is the minimum level emitted.
	Level slog.Level

	// Debug forces LevelDebug regardless of Level.
	Debug bool
}

// DefaultConfig logs at info level to stderr.
func DefaultConfig() *Config {
	return &Config{
		Output: os.Stderr,
		Level:  slog.LevelInfo,
	}
}

// New builds a JSON-lines logger. The timestamp attribute is emitted
// under the key "ts":
//
//	{"ts":"2026-01-15T10:30:00Z","level":"INFO","msg":"state loaded","verbs":42}
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	level := cfg.Level
	if cfg.Debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			return a
		},
	}))
}

// NewFromEnv builds a logger from the process environment. Setting
// PSCUE_DEBUG=1 lowers the level to debug.
func NewFromEnv() *slog.Logger {
	cfg := DefaultConfig()
	if os.Getenv("PSCUE_DEBUG") == "1" {
		cfg.Debug = true
	}
	return New(cfg)
}
