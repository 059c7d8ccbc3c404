package logger

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// JSONLogEntry defines a log entry
// this is modeled after the JSON format expected by Cloud Logging
type JSONLogEntry struct {
	Timestamp time.Time              `json:"timestamp,omitempty"`
	Message   string                 `json:"message"`
	Severity  string                 `json:"severity,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Component string                 `json:"component,omitempty"`
}

// String renders an entry structure to the JSON format expected by Cloud Logging.
func (e JSONLogEntry) String() string {
	if e.Severity == "" {
		e.Severity = "INFO"
	}
	out, err := json.Marshal(e)
	if err != nil {
		return `{"message":"json.Marshal failed","severity":"ERROR"}`
	}
	return string(out)
}

var jsonSeverity = map[LogLevel]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARNING",
	LevelError: "ERROR",
}

type jsonLogger struct {
	metadata  map[string]interface{}
	component string
	logLevel  LogLevel
	sink      Sink
	mu        *sync.Mutex
	ts        *time.Time // for unit testing
}

var _ Logger = (*jsonLogger)(nil)

func (c *jsonLogger) clone() *jsonLogger {
	return &jsonLogger{
		metadata:  cloneMetadata(c.metadata, nil),
		component: c.component,
		logLevel:  c.logLevel,
		sink:      c.sink,
		mu:        c.mu,
		ts:        c.ts,
	}
}

// WithPrefix will return a new logger whose component includes prefix
func (c *jsonLogger) WithPrefix(prefix string) Logger {
	clone := c.clone()
	prefix = strings.Trim(prefix, "[]")
	switch {
	case clone.component == "":
		clone.component = prefix
	case !strings.Contains(clone.component, prefix):
		clone.component = clone.component + ", " + prefix
	}
	return clone
}

func (c *jsonLogger) With(newFields map[string]interface{}) Logger {
	clone := c.clone()
	clone.metadata = cloneMetadata(c.metadata, newFields)
	if comp, ok := clone.metadata["component"].(string); ok {
		clone.component = comp
		delete(clone.metadata, "component")
	}
	return clone
}

func (c *jsonLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= c.logLevel && c.logLevel != LevelNone
}

func (c *jsonLogger) log(level LogLevel, msg string, args ...interface{}) {
	if !c.IsLevelEnabled(level) {
		return
	}
	entry := JSONLogEntry{
		Severity:  jsonSeverity[level],
		Message:   ansiColorStripper.ReplaceAllString(format(msg, args...), ""),
		Component: c.component,
		Timestamp: time.Now(),
	}
	if len(c.metadata) > 0 {
		entry.Metadata = c.metadata
	}
	if c.ts != nil {
		entry.Timestamp = *c.ts
	}
	c.mu.Lock()
	_, _ = io.WriteString(c.sink, entry.String()+"\n")
	c.mu.Unlock()
}

func (c *jsonLogger) Trace(msg string, args ...interface{}) { c.log(LevelTrace, msg, args...) }
func (c *jsonLogger) Debug(msg string, args ...interface{}) { c.log(LevelDebug, msg, args...) }
func (c *jsonLogger) Info(msg string, args ...interface{})  { c.log(LevelInfo, msg, args...) }
func (c *jsonLogger) Warn(msg string, args ...interface{})  { c.log(LevelWarn, msg, args...) }
func (c *jsonLogger) Error(msg string, args ...interface{}) { c.log(LevelError, msg, args...) }

// NewJSONLogger returns a new Logger instance which writes structured entries to stdout
func NewJSONLogger(levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return NewJSONLoggerWithSink(os.Stdout, level)
}

// NewJSONLoggerWithSink returns a new Logger instance writing one JSON entry per line to sink
func NewJSONLoggerWithSink(sink Sink, level LogLevel) Logger {
	return &jsonLogger{
		metadata: map[string]interface{}{},
		logLevel: level,
		sink:     sink,
		mu:       &sync.Mutex{},
	}
}
