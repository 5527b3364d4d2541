package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// New builds the process logger. Records go to stdout and, when logFile is
// non-empty, are appended to that file as well. The file is opened lazily on
// the first record and kept open for the process lifetime; if it cannot be
// opened, logging degrades to stdout only after a single warning.
func New(level, format, logFile string) *slog.Logger {
	var out io.Writer = os.Stdout
	if logFile != "" {
		out = io.MultiWriter(os.Stdout, newLazyFile(logFile))
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}

// parseLevel maps the flag value onto a slog level, defaulting to info.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// lazyFile is an append-only file sink opened on first write. Open failure
// is reported once; subsequent writes are silently dropped so a missing log
// directory never breaks the agent itself.
type lazyFile struct {
	path string

	mu     sync.Mutex
	opened bool
	file   *os.File
}

func newLazyFile(path string) *lazyFile {
	return &lazyFile{path: path}
}

// Write appends p to the log file, opening it on first use.
func (l *lazyFile) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.opened {
		l.opened = true
		f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to open log file %s: %v\n", l.path, err)
		} else {
			l.file = f
		}
	}

	if l.file != nil {
		// A failed disk write must not break the stdout stream.
		_, _ = l.file.Write(p)
	}

	return len(p), nil
}
