package logger

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

// LogLevel is the message severity threshold.
type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// defaultLogger backs the package-level functions. Starts at INFO.
var defaultLogger = &Logger{level: int32(INFO)}

// Logger is a leveled logger. The level is stored atomically so it can be
// raised to DEBUG at runtime without locking every log call.
type Logger struct {
	level int32
}

// New creates a Logger filtering below the named level.
func New(level string) *Logger {
	return &Logger{level: int32(ParseLogLevel(level))}
}

// ParseLogLevel converts a level name to a LogLevel. Unknown names mean INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLogLevel sets the package-level logger's level.
func SetLogLevel(level string) {
	defaultLogger.SetLevel(level)
}

// GetLogLevel returns the package-level logger's level name.
func GetLogLevel() string {
	return defaultLogger.GetLevel()
}

// SetLevel changes this logger's level.
func (l *Logger) SetLevel(level string) {
	atomic.StoreInt32(&l.level, int32(ParseLogLevel(level)))
}

// GetLevel returns this logger's level name.
func (l *Logger) GetLevel() string {
	return levelNames[LogLevel(atomic.LoadInt32(&l.level))]
}

func (l *Logger) enabled(level LogLevel) bool {
	return level >= LogLevel(atomic.LoadInt32(&l.level))
}

func (l *Logger) output(level LogLevel, format string, v ...interface{}) {
	if !l.enabled(level) {
		return
	}
	log.Printf("[%s] %s", levelNames[level], fmt.Sprintf(format, v...))
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.output(DEBUG, format, v...)
}

// Info logs at INFO level.
func (l *Logger) Info(format string, v ...interface{}) {
	l.output(INFO, format, v...)
}

// Warn logs at WARN level.
func (l *Logger) Warn(format string, v ...interface{}) {
	l.output(WARN, format, v...)
}

// Error logs at ERROR level.
func (l *Logger) Error(format string, v ...interface{}) {
	l.output(ERROR, format, v...)
}

// Package-level convenience functions, used where no logger instance is
// threaded through (e.g. middleware).

func Debug(format string, v ...interface{}) { defaultLogger.Debug(format, v...) }
func Info(format string, v ...interface{})  { defaultLogger.Info(format, v...) }
func Warn(format string, v ...interface{})  { defaultLogger.Warn(format, v...) }
func Error(format string, v ...interface{}) { defaultLogger.Error(format, v...) }
