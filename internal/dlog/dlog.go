// Package dlog is the append-only diagnostic logger shared by db5fuse and
// fsck.db5. It mirrors the level taxonomy and "context.level: message"
// line format of the original implementation's logger, gated by a numeric
// level the way the teacher gates its own log.Printf traces behind debug
// flags.
package dlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/julienblitte/db5fuse/internal/config"
)

// Level mirrors the syslog-derived levels of the original logger.c.
type Level int

const (
	Emerg Level = iota
	Alert
	Critical
	Err
	Warning
	Notice
	Info
	Debug
	Verbose
)

func (l Level) String() string {
	switch l {
	case Emerg:
		return "emerg"
	case Alert:
		return "alert"
	case Critical:
		return "critical"
	case Err:
		return "err"
	case Warning:
		return "warning"
	case Notice:
		return "notice"
	case Info:
		return "info"
	case Debug:
		return "debug"
	case Verbose:
		return "verbose"
	default:
		return "unknown"
	}
}

// Logger writes one line per record: "context.level: message".
type Logger struct {
	mu       sync.Mutex
	out      *log.Logger
	maxLevel Level
	closer   io.Closer
}

// Open appends to path, creating it if needed. maxLevel caps which
// records are written; records above it are silently dropped, the same
// way CONFIG_LOG_LEVEL gates add_log in the original.
func Open(path string, maxLevel Level) (*Logger, error) {
	if maxLevel > config.MaxLogLevel {
		maxLevel = config.MaxLogLevel
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Logger{
		out:      log.New(f, "", log.LstdFlags),
		maxLevel: maxLevel,
		closer:   f,
	}, nil
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Log writes one record if level is within the configured threshold.
func (l *Logger) Log(level Level, context, format string, args ...interface{}) {
	if l == nil || level > l.maxLevel {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Printf("%s.%s: %s", context, level, fmt.Sprintf(format, args...))
}

// Dump logs a single UTF-8 variable at Debug level, mirroring the
// original's log_dump helper used to trace intermediate path values.
func (l *Logger) Dump(context, name, value string) {
	l.Log(Debug, context, "%s=%q", name, value)
}

// DumpLatin1 logs a single Latin-1 variable at Debug level, mirroring
// log_dump_latin1.
func (l *Logger) DumpLatin1(context, name string, value []byte) {
	l.Log(Debug, context, "%s=% x", name, value)
}
