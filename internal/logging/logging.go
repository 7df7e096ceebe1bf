// Package logging builds the process slog.Logger: colourised tint output on a
// terminal, JSON everywhere else.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"llmbench/config"
)

// ParseLevel maps debug, info, warn and error to slog levels. Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// NewHandler returns the handler selected by cfg. The auto format picks text
// when out is a terminal.
func NewHandler(out io.Writer, cfg config.LoggingConfig) slog.Handler {
	level := ParseLevel(cfg.Level)

	text := cfg.Format == "text" || (cfg.Format == "auto" && isTerminal(out))
	if text {
		return tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(out),
		})
	}
	return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
}

// New builds a logger writing to out.
func New(out io.Writer, cfg config.LoggingConfig) *slog.Logger {
	return slog.New(NewHandler(out, cfg))
}
