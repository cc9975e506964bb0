// Package runlog writes the per-run orchestrator log: one line per event,
// prefixed with elapsed time since the run started and indented by nesting
// level.
package runlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger appends timestamped lines to the run log file.
type Logger struct {
	mu    sync.Mutex
	w     io.Writer
	start time.Time
}

// Open creates (or appends to) the log file at path.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Logger{w: f, start: time.Now()}, nil
}

// New wraps an arbitrary writer; used by tests and by the job runner,
// which logs to stdout.
func New(w io.Writer) *Logger {
	return &Logger{w: w, start: time.Now()}
}

// Printf logs a formatted line at the given indentation level.
func (l *Logger) Printf(level int, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	elapsed := time.Since(l.start).Round(time.Millisecond)
	fmt.Fprintf(l.w, "%s\t%s%s\n", elapsed, strings.Repeat("    ", level),
		fmt.Sprintf(format, args...))
}

// Close closes the underlying file if there is one.
func (l *Logger) Close() error {
	if c, ok := l.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
