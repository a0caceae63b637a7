// Package logging builds the colorized slog handler resembl's components
// use. Unlike the package this was adapted from, there is no package-level
// singleton: every caller receives an explicit *slog.Logger to thread
// through its constructor.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Options configures the logger New builds.
type Options struct {
	// Level is the minimum level logged. Defaults to slog.LevelInfo.
	Level slog.Level
	// Writer is the output destination. Defaults to os.Stderr.
	Writer io.Writer
	// NoColor disables ANSI color codes, e.g. when output is redirected
	// to a file or CI log collector.
	NoColor bool
}

// New builds a logger with resembl's standard colorized, timestamped
// handler. Call it once per entry point (CLI, tests) and pass the result
// down explicitly.
func New(opts Options) *slog.Logger {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	handler := tint.NewHandler(writer, &tint.Options{
		Level:      opts.Level,
		TimeFormat: time.RFC3339,
		AddSource:  true,
		NoColor:    opts.NoColor,
	})
	return slog.New(handler)
}

// Discard returns a logger that drops everything, for tests that don't
// care about log output but still need a non-nil *slog.Logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
