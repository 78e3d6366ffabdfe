// Package logger provides leveled logging for the server process.
package logger

import (
	"log"
	"os"
	"sync"
)

// Level represents a logging level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelNone
)

// String returns the string representation of a log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level, defaulting to LevelInfo.
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug
	case "info", "INFO":
		return LevelInfo
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	case "none", "NONE":
		return LevelNone
	default:
		return LevelInfo
	}
}

// Logger writes leveled messages through a stdlib log.Logger.
type Logger struct {
	mu     sync.RWMutex
	level  Level
	logger *log.Logger
}

var std = New(LevelInfo)

// New creates a logger writing to stderr at the given level.
func New(level Level) *Logger {
	return &Logger{
		level:  level,
		logger: log.New(os.Stderr, "", log.LstdFlags),
	}
}

// SetLevel changes the minimum level of the global logger.
func SetLevel(level Level) {
	std.SetLevel(level)
}

// SetLevel changes the minimum level of this logger.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) logf(level Level, format string, args ...interface{}) {
	l.mu.RLock()
	min := l.level
	l.mu.RUnlock()
	if level < min {
		return
	}
	l.logger.Printf("["+level.String()+"] "+format, args...)
}

// Debugf logs a debug message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logf(LevelDebug, format, args...)
}

// Infof logs an informational message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logf(LevelInfo, format, args...)
}

// Warnf logs a warning.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logf(LevelWarn, format, args...)
}

// Errorf logs an error.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logf(LevelError, format, args...)
}

// Debugf logs a debug message through the global logger.
func Debugf(format string, args ...interface{}) { std.Debugf(format, args...) }

// Infof logs an informational message through the global logger.
func Infof(format string, args ...interface{}) { std.Infof(format, args...) }

// Warnf logs a warning through the global logger.
func Warnf(format string, args ...interface{}) { std.Warnf(format, args...) }

// Errorf logs an error through the global logger.
func Errorf(format string, args ...interface{}) { std.Errorf(format, args...) }
