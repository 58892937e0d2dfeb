// Package logging provides the info log of a database.
//
// Lines have the form
//
//	YYYY/MM/DD HH:MM:SS LEVEL [component] message
//
// where the component prefix is one of the NS constants below.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"reflect"
	"strings"
	"sync/atomic"
)

// ErrFatal is wrapped by errors that stem from a Fatalf call.
var ErrFatal = errors.New("fatal error")

// FatalHandler receives the message of a Fatalf call. It must be safe for
// concurrent use and must not log at fatal level itself.
type FatalHandler func(msg string)

// Level is a logging threshold.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(name) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}
	return 0, fmt.Errorf("logging: unknown level %q", name)
}

// Logger is the info log interface. Implementations must be safe for
// concurrent use. Fatalf does not exit the process: it reports a condition
// after which the database stops accepting writes.
type Logger interface {
	Errorf(format string, args ...any)
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
	Debugf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// DefaultLogger writes levelled lines through a standard library logger.
type DefaultLogger struct {
	logger *log.Logger
	level  Level
	fatal  atomic.Pointer[FatalHandler]
}

// NewDefaultLogger returns a logger writing to stderr.
func NewDefaultLogger(level Level) *DefaultLogger {
	return NewLogger(os.Stderr, level)
}

// NewLogger returns a logger writing to w.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	return &DefaultLogger{logger: log.New(w, "", log.LstdFlags), level: level}
}

// SetFatalHandler installs the handler run by Fatalf.
func (l *DefaultLogger) SetFatalHandler(h FatalHandler) { l.fatal.Store(&h) }

// Level returns the threshold.
func (l *DefaultLogger) Level() Level { return l.level }

func (l *DefaultLogger) output(level Level, format string, args []any) {
	if l.level >= level {
		_ = l.logger.Output(3, level.String()+" "+fmt.Sprintf(format, args...))
	}
}

func (l *DefaultLogger) Errorf(format string, args ...any) { l.output(LevelError, format, args) }
func (l *DefaultLogger) Warnf(format string, args ...any)  { l.output(LevelWarn, format, args) }
func (l *DefaultLogger) Infof(format string, args ...any)  { l.output(LevelInfo, format, args) }
func (l *DefaultLogger) Debugf(format string, args ...any) { l.output(LevelDebug, format, args) }

// Fatalf logs regardless of level and then runs the fatal handler.
func (l *DefaultLogger) Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	_ = l.logger.Output(2, "FATAL "+msg)
	if h := l.fatal.Load(); h != nil {
		(*h)(msg)
	}
}

// Component prefixes.
const (
	NSDB       = "[db] "
	NSWAL      = "[wal] "
	NSFlush    = "[flush] "
	NSCompact  = "[compact] "
	NSManifest = "[manifest] "
	NSRecovery = "[recovery] "
	NSRepair   = "[repair] "
)

// IsNil reports whether l is nil or an interface holding a nil pointer.
func IsNil(l Logger) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// OrDefault returns l, or a WARN-level stderr logger when l is nil.
func OrDefault(l Logger) Logger {
	if IsNil(l) {
		return NewDefaultLogger(LevelWarn)
	}
	return l
}
