package logger

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// LogLevel defines the level of logging
type LogLevel int

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNone
)

// EnvLogLevel is the environment variable consulted by GetLevelFromEnv.
const EnvLogLevel = "RESILIENCE_LOG_LEVEL"

// ParseLevel converts a level name into a LogLevel. Unknown names map to def.
func ParseLevel(s string, def LogLevel) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "none", "off":
		return LevelNone
	default:
		return def
	}
}

// GetLevelFromEnv will look at the environment var `RESILIENCE_LOG_LEVEL` and convert it into the appropriate LogLevel
func GetLevelFromEnv() LogLevel {
	return ParseLevel(os.Getenv(EnvLogLevel), LevelInfo)
}

type Sink io.Writer

// Logger is an interface for logging
type Logger interface {
	// With will return a new logger using metadata as the base context
	With(metadata map[string]interface{}) Logger
	// WithPrefix will return a new logger with a prefix prepended to the message
	WithPrefix(prefix string) Logger
	// Trace level logging
	Trace(msg string, args ...interface{})
	// Debug level logging
	Debug(msg string, args ...interface{})
	// Info level logging
	Info(msg string, args ...interface{})
	// Warning level logging
	Warn(msg string, args ...interface{})
	// Error level logging
	Error(msg string, args ...interface{})
	// IsLevelEnabled returns true if the given log level is enabled
	IsLevelEnabled(level LogLevel) bool
}

var ansiColorStripper = regexp.MustCompile("\x1b\\[[0-9;]*[mK]")

func cloneMetadata(base map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	kv := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		kv[k] = v
	}
	for k, v := range extra {
		kv[k] = v
	}
	return kv
}

func format(msg string, args ...interface{}) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

type noopLogger struct{}

// NewNoop returns a Logger that discards everything. Components default to it.
func NewNoop() Logger {
	return noopLogger{}
}

func (noopLogger) With(map[string]interface{}) Logger { return noopLogger{} }
func (noopLogger) WithPrefix(string) Logger             { return noopLogger{} }
func (noopLogger) Trace(string, ...interface{})         {}
func (noopLogger) Debug(string, ...interface{})         {}
func (noopLogger) Info(string, ...interface{})          {}
func (noopLogger) Warn(string, ...interface{})          {}
func (noopLogger) Error(string, ...interface{})         {}
func (noopLogger) IsLevelEnabled(LogLevel) bool         { return false }

// OrNoop returns log, or a no-op logger when log is nil.
func OrNoop(log Logger) Logger {
	if log == nil {
		return NewNoop()
	}
	return log
}
