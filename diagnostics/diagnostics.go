// Package diagnostics provides the engine's structured logging sink. On
// real hardware the only egress is the console collaborator; in hosted
// tests a buffered logrus instance is substituted instead.
package diagnostics

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/dddimcha/embodiOS-sub002/hal"
)

// Logger wraps a logrus.FieldLogger whose output line is ultimately handed
// to a hal.Console. The engine's model, heap, executor and tokenizer
// failures in Init and step failures in Generate each emit one line through
// here; BadArgument errors are returned without a log line.
type Logger struct {
	entry *logrus.Entry
}

// consoleWriter adapts hal.Console to io.Writer so logrus can format lines
// through its usual formatter before they reach the console.
type consoleWriter struct {
	console hal.Console
}

func (w consoleWriter) Write(p []byte) (int, error) {
	w.console.Print(string(p))
	return len(p), nil
}

// NewConsoleLogger builds a Logger that writes formatted, single-line
// entries to the given console collaborator.
func NewConsoleLogger(console hal.Console) *Logger {
	l := logrus.New()
	l.SetOutput(consoleWriter{console: console})
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return &Logger{entry: logrus.NewEntry(l)}
}

// NewBufferedLogger builds a Logger writing to an arbitrary io.Writer, for
// hosted tests that want to inspect output without a console collaborator.
func NewBufferedLogger(w io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return &Logger{entry: logrus.NewEntry(l)}
}

func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
