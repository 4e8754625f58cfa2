// Package utils provides the process-wide structured logger.
package utils

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger provides level-prefixed logging over the standard library's log
// package. A Logger with a non-empty scope prefixes every line with it
// (e.g. "CH2"), which is how the Supervisor hands each Simulation Loop a
// logger tagged with its own channel without introducing a second type.
type Logger struct {
	scope string
	info  *log.Logger
	warn  *log.Logger
	error *log.Logger
	debug *log.Logger
}

// NewLogger creates the process-wide logger, writing INFO/WARN/DEBUG to
// stdout and ERROR to stderr.
func NewLogger() *Logger {
	return newLogger("", os.Stdout, os.Stderr)
}

func newLogger(scope string, out, errOut io.Writer) *Logger {
	flags := log.LstdFlags
	return &Logger{
		scope: scope,
		info:  log.New(out, "[INFO] ", flags),
		warn:  log.New(out, "[WARN] ", flags),
		error: log.New(errOut, "[ERROR] ", flags),
		debug: log.New(out, "[DEBUG] ", flags),
	}
}

// WithChannel returns a derived Logger that tags every line with the given
// channel, e.g. "CH2 output forced off: safety cutoff".
func (l *Logger) WithChannel(channel int) *Logger {
	return &Logger{
		scope: fmt.Sprintf("CH%d", channel),
		info:  l.info,
		warn:  l.warn,
		error: l.error,
		debug: l.debug,
	}
}

func (l *Logger) format(format string) string {
	if l.scope == "" {
		return format
	}
	return l.scope + " " + format
}

// Info logs an info message.
func (l *Logger) Info(format string, v ...interface{}) {
	l.info.Printf(l.format(format), v...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, v ...interface{}) {
	l.warn.Printf(l.format(format), v...)
}

// Error logs an error message.
func (l *Logger) Error(format string, v ...interface{}) {
	l.error.Printf(l.format(format), v...)
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.debug.Printf(l.format(format), v...)
}
