// Package logging builds the charmbracelet/log loggers used across treniren binaries.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Options configures a logger.
type Options struct {
	Writer io.Writer
	Level  string
	Prefix string
}

// New constructs a logger writing to opts.Writer (stderr by default).
func New(opts Options) *log.Logger {
	var w io.Writer = os.Stderr
	if opts.Writer != nil {
		w = opts.Writer
	}

	lvl, err := log.ParseLevel(opts.Level)
	if err != nil {
		lvl = log.InfoLevel
	}

	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          opts.Prefix,
		ReportTimestamp: true,
	})
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}
