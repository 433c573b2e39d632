// Package debuglog provides the narration sink shared by the mapping engine
// and both launch realisations.
package debuglog

import (
	"fmt"
	"io"
)

// Logger writes structured debug narration. A nil *Logger, or one
// constructed with a nil writer, is always disabled: every method becomes a
// no-op so callers never need to guard calls with an Enabled() check.
type Logger struct {
	output io.Writer
}

// New returns a Logger writing to output. Passing a nil output disables it.
func New(output io.Writer) *Logger {
	return &Logger{output: output}
}

// Enabled reports whether this logger writes anything.
func (l *Logger) Enabled() bool {
	return l != nil && l.output != nil
}

// Section writes a section header.
func (l *Logger) Section(name string) {
	if !l.Enabled() {
		return
	}

	_, _ = fmt.Fprintf(l.output, "\n=== %s ===\n", name)
}

// Logf writes a formatted line.
func (l *Logger) Logf(format string, args ...any) {
	if !l.Enabled() {
		return
	}

	_, _ = fmt.Fprintf(l.output, format+"\n", args...)
}

// Bulletf writes an indented bullet line.
func (l *Logger) Bulletf(format string, args ...any) {
	if !l.Enabled() {
		return
	}

	_, _ = fmt.Fprintf(l.output, "  - "+format+"\n", args...)
}

// Rewrite narrates a single mapping match/rewrite decision.
func (l *Logger) Rewrite(original, rewritten string) {
	if !l.Enabled() {
		return
	}

	if original == rewritten {
		_, _ = fmt.Fprintf(l.output, "  %s (unchanged)\n", original)
	} else {
		_, _ = fmt.Fprintf(l.output, "  %s -> %s\n", original, rewritten)
	}
}
