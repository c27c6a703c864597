// Package logging sets up the process-wide slog handler from config and hands
// out per-component loggers.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options mirrors the log section of the config file.
type Options struct {
	Level   string    // debug | info | warn | error
	Format  string    // text | json
	Verbose bool      // forces debug regardless of Level
	Output  io.Writer // os.Stderr when nil
}

// Init installs the slog default described by opts and returns it.
func Init(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := ParseLevel(opts.Level)
	if opts.Verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}
	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(out, handlerOpts)
	} else {
		h = slog.NewTextHandler(out, handlerOpts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a config string to a slog level. Unknown values are info.
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

// New returns the default logger tagged with component and any extra attrs.
func New(component string, attrs ...any) *slog.Logger {
	return slog.Default().With(append([]any{slog.String("component", component)}, attrs...)...)
}
