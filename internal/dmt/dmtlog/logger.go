// Package dmtlog provides the leveled logger used throughout the dmt runtime.
package dmtlog

import (
	"fmt"
	logpkg "log"
	"os"
	"sync/atomic"
)

// Level selects which messages a Logger emits.
type Level int32

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// Logger is a thin leveled wrapper around the standard library logger.
// The level is stored atomically so it may be changed concurrently with
// in-flight log calls from other threads.
type Logger struct {
	level  atomic.Int32
	logger *logpkg.Logger
}

// New creates a Logger writing to os.Stderr with the given prefix, starting at level.
func New(level Level, prefix string) *Logger {
	l := &Logger{logger: logpkg.New(os.Stderr, prefix, logpkg.LstdFlags|logpkg.Lmicroseconds)}
	l.level.Store(int32(level))
	return l
}

// SetLevel adjusts the current logging level.
func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.level.Store(int32(level))
}

func (l *Logger) logf(target Level, format string, args ...any) {
	if l == nil || int32(target) > l.level.Load() {
		return
	}
	_ = l.logger.Output(3, fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

var defaultLogger = New(LevelInfo, "[dmt] ")

// Default returns the process-wide default logger.
func Default() *Logger { return defaultLogger }

// SetDefault replaces the process-wide default logger (tests mainly).
func SetDefault(l *Logger) {
	if l == nil {
		return
	}
	defaultLogger = l
}
