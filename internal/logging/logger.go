// Package logging wraps charmbracelet/log with the defaults used by the
// downloader and a buffered variant for tests.
package logging

import (
	"bytes"
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Logger is a wrapper around the log.Logger from the charmbracelet/log package.
type Logger struct {
	*log.Logger
	Buffer *bytes.Buffer
}

// New creates a logger writing to w. Debug enables caller reporting,
// timestamps and the debug level.
func New(w io.Writer, debug bool) *Logger {
	if w == nil {
		w = os.Stderr
	}

	if debug {
		base := log.NewWithOptions(w, log.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			Prefix:          "wapor",
		})
		base.SetLevel(log.DebugLevel)
		return &Logger{Logger: base}
	}

	base := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          "wapor",
	})
	base.SetLevel(log.InfoLevel)
	return &Logger{Logger: base}
}

// NewFromEnv creates a stderr logger, honouring DEBUG=1.
func NewFromEnv() *Logger {
	return New(os.Stderr, os.Getenv("DEBUG") == "1")
}

// NewTestLogger returns a debug-level logger that captures output in memory.
func NewTestLogger() *Logger {
	buf := new(bytes.Buffer)
	base := log.NewWithOptions(buf, log.Options{Level: log.DebugLevel})
	return &Logger{Logger: base, Buffer: buf}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: log.New(io.Discard)}
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(keyvals...), Buffer: l.Buffer}
}

// GetOutput returns everything captured by a test logger.
func (l *Logger) GetOutput() string {
	if l.Buffer == nil {
		return ""
	}
	return l.Buffer.String()
}

// BaseLogger returns the underlying *log.Logger.
func (l *Logger) BaseLogger() *log.Logger {
	return l.Logger
}
