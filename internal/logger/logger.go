// Package logger implements the driver's structured, component-scoped
// logging (spec.md's ambient stack), grounded on the teacher's
// internal/logger package: a LogSink seam a caller can swap in (the
// go-logr convention), per-Component verbosity configurable via
// MONGODB_LOG_* environment variables, and command/reply truncation so a
// large document doesn't flood the sink.
package logger

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

const (
	maxDocumentLengthEnvVar = "MONGODB_LOG_MAX_DOCUMENT_LENGTH"

	// DefaultMaxDocumentLength is the default truncation width, in bytes,
	// of a stringified command/reply document.
	DefaultMaxDocumentLength = 1000

	// TruncationSuffix is appended to a truncated document; it does not
	// count toward the max length.
	TruncationSuffix = "..."
)

// LogSink is a subset of go-logr's LogSink interface: a single Info method
// taking a verbosity level and alternating key/value pairs.
type LogSink interface {
	Info(level int, msg string, keysAndValues ...interface{})
}

// Logger prints structured log lines for a set of components, each at its
// own configured Level, to a LogSink.
type Logger struct {
	ComponentLevels   map[Component]Level
	Sink              LogSink
	MaxDocumentLength uint
}

// New constructs a Logger. componentLevels overrides take precedence over
// the environment; maxDocumentLength of 0 falls back to the environment
// then DefaultMaxDocumentLength; a nil sink falls back to stderr.
func New(sink LogSink, maxDocumentLength uint, componentLevels map[Component]Level) *Logger {
	return &Logger{
		ComponentLevels:   selectComponentLevels(componentLevels),
		MaxDocumentLength: selectMaxDocumentLength(maxDocumentLength),
		Sink:              selectLogSink(sink),
	}
}

// Is reports whether level is enabled for component.
func (l *Logger) Is(level Level, component Component) bool {
	return l.ComponentLevels[component] >= level
}

// Print writes msg to the Logger's sink if level is enabled for component,
// truncating any "command"/"reply" keysAndValues pair per MaxDocumentLength.
func (l *Logger) Print(level Level, component Component, msg string, keysAndValues ...interface{}) {
	if l == nil || l.Sink == nil || !l.Is(level, component) {
		return
	}
	formatted, err := formatMessage(keysAndValues, l.MaxDocumentLength)
	if err != nil {
		l.Sink.Info(int(level)-DiffToInfo, "error formatting log message", "error", err)
		return
	}
	l.Sink.Info(int(level)-DiffToInfo, msg, formatted...)
}

func truncate(str string, width uint) string {
	if width == 0 || uint(len(str)) <= width {
		return str
	}
	newStr := str[:width]
	if newStr[len(newStr)-1]&0xC0 == 0xC0 {
		return newStr[:len(newStr)-1] + TruncationSuffix
	}
	if newStr[len(newStr)-1]&0xC0 == 0x80 {
		for i := len(newStr) - 1; i >= 0; i-- {
			if newStr[i]&0xC0 == 0xC0 {
				return newStr[:i] + TruncationSuffix
			}
		}
	}
	return newStr + TruncationSuffix
}

func formatMessage(keysAndValues []interface{}, maxDocLen uint) ([]interface{}, error) {
	out := make([]interface{}, len(keysAndValues))
	copy(out, keysAndValues)
	for i := 0; i+1 < len(out); i += 2 {
		key, ok := out[i].(string)
		if !ok || (key != "command" && key != "reply") {
			continue
		}
		doc, ok := out[i+1].(bsoncore.Document)
		if !ok {
			return nil, fmt.Errorf("expected value for key %q to be a bsoncore.Document, but got %T", key, out[i+1])
		}
		str := doc.String()
		if len(str) == 0 {
			str = bsoncore.Document{0x05, 0x00, 0x00, 0x00, 0x00}.String()
		}
		out[i+1] = truncate(str, maxDocLen)
	}
	return out, nil
}

func selectMaxDocumentLength(arg uint) uint {
	if arg != 0 {
		return arg
	}
	if raw := os.Getenv(maxDocumentLengthEnvVar); raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 32); err == nil {
			return uint(n)
		}
	}
	return DefaultMaxDocumentLength
}

func selectLogSink(arg LogSink) LogSink {
	if arg != nil {
		return arg
	}
	return newOSSink(os.Stderr)
}

func selectComponentLevels(arg map[Component]Level) map[Component]Level {
	globalLevel := ParseLevel(os.Getenv(envVarAll))
	out := make(map[Component]Level, len(componentEnvVars))
	for component, envVar := range componentEnvVars {
		level := globalLevel
		if globalLevel == LevelOff {
			level = ParseLevel(os.Getenv(envVar))
		}
		out[component] = level
	}
	for component, level := range arg {
		out[component] = level
	}
	return out
}

// osSink is the default LogSink, writing plain lines to an *os.File.
type osSink struct {
	w *os.File
}

func newOSSink(w *os.File) *osSink { return &osSink{w: w} }

func (s *osSink) Info(level int, msg string, keysAndValues ...interface{}) {
	line := fmt.Sprintf("[%d] %s", level, msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		line += fmt.Sprintf(" %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	fmt.Fprintln(s.w, strings.TrimSpace(line))
}
