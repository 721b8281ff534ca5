// Package logging builds the colored terminal logger used by meshd.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Options tweak the handler built by New.
type Options struct {
	// Minimum log level (Info, Debug, etc.)
	Level slog.Level
	// Add source file:line
	AddSource bool
	// Disable colors, e.g. when stderr is not a terminal.
	NoColor bool
}

// New returns a tint-backed logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	handler := tint.NewHandler(w, &tint.Options{
		Level:      opts.Level,
		TimeFormat: time.RFC3339,
		AddSource:  opts.AddSource,
		NoColor:    opts.NoColor,
	})
	return slog.New(handler)
}

// ForDebug returns the stderr logger at debug or info level.
func ForDebug(debug bool) *slog.Logger {
	opts := Options{Level: slog.LevelInfo}
	if debug {
		opts = Options{Level: slog.LevelDebug, AddSource: true}
	}
	return New(os.Stderr, opts)
}
