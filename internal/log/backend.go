// Package log provides the single logging backend shared by every
// package in this module, following the named-logger-per-package
// convention the rest of the stack uses.
package log

import (
	"fmt"
	"io"
	"os"

	logging "gopkg.in/op/go-logging.v1"
)

// Backend owns the process-wide logging configuration and hands out
// named loggers to callers.
type Backend struct {
	level  logging.Level
	writer io.Writer
	backend logging.LeveledBackend
}

var logFormat = logging.MustStringFormatter(
	"%{time:2006-01-02 15:04:05.000} %{level:.4s} %{module}: %{message}",
)

// New constructs a Backend writing at the given level ("DEBUG", "INFO",
// "WARNING", "ERROR", "CRITICAL") to w. An empty level defaults to "INFO".
func New(level string, w io.Writer) (*Backend, error) {
	if level == "" {
		level = "INFO"
	}
	lvl, err := logging.LogLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log: invalid level %q: %w", level, err)
	}
	if w == nil {
		w = os.Stderr
	}
	base := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(base, logFormat)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(lvl, "")
	return &Backend{level: lvl, writer: w, backend: leveled}, nil
}

// GetLogger returns a logger named module, routed through this backend.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b.backend)
	return l
}

// GetLogWriter returns an io.Writer that logs each line it receives at
// the given level under the named module, for proxying a subprocess's
// stderr or similar line-oriented sources into the structured log.
func (b *Backend) GetLogWriter(module string, level string) io.Writer {
	logger := b.GetLogger(module)
	fn := logger.Debugf
	switch level {
	case "INFO":
		fn = logger.Infof
	case "WARNING":
		fn = logger.Warningf
	case "ERROR":
		fn = logger.Errorf
	case "CRITICAL":
		fn = logger.Criticalf
	}
	return &lineWriter{logf: fn}
}

type lineWriter struct {
	logf func(format string, args ...interface{})
	buf  []byte
}

func (lw *lineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		i := indexByte(lw.buf, '\n')
		if i < 0 {
			break
		}
		lw.logf("%s", string(lw.buf[:i]))
		lw.buf = lw.buf[i+1:]
	}
	return len(p), nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
