package logger

import (
	"strings"
	"sync"
)

type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
	Metadata  map[string]interface{}
}

type testLogStore struct {
	mu      sync.Mutex
	entries []TestLogEntry
}

// TestLogger records every entry in memory. Loggers derived through With or
// WithPrefix share the parent's entries, and all methods are goroutine-safe.
type TestLogger struct {
	metadata map[string]interface{}
	prefix   string
	store    *testLogStore
}

var _ Logger = (*TestLogger)(nil)

func (c *TestLogger) WithPrefix(prefix string) Logger {
	return &TestLogger{metadata: c.metadata, prefix: strings.TrimSpace(c.prefix + " " + prefix), store: c.store}
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	return &TestLogger{metadata: cloneMetadata(c.metadata, metadata), prefix: c.prefix, store: c.store}
}

func (c *TestLogger) IsLevelEnabled(level LogLevel) bool {
	return level != LevelNone
}

func (c *TestLogger) Log(level string, msg string, args ...interface{}) {
	message := format(msg, args...)
	if c.prefix != "" {
		message = c.prefix + " " + message
	}
	c.store.mu.Lock()
	c.store.entries = append(c.store.entries, TestLogEntry{level, message, args, c.metadata})
	c.store.mu.Unlock()
}

func (c *TestLogger) Trace(msg string, args ...interface{}) { c.Log("TRACE", msg, args...) }
func (c *TestLogger) Debug(msg string, args ...interface{}) { c.Log("DEBUG", msg, args...) }
func (c *TestLogger) Info(msg string, args ...interface{})  { c.Log("INFO", msg, args...) }
func (c *TestLogger) Warn(msg string, args ...interface{})  { c.Log("WARNING", msg, args...) }
func (c *TestLogger) Error(msg string, args ...interface{}) { c.Log("ERROR", msg, args...) }

// Logs returns a copy of the recorded entries.
func (c *TestLogger) Logs() []TestLogEntry {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	out := make([]TestLogEntry, len(c.store.entries))
	copy(out, c.store.entries)
	return out
}

// Contains reports whether any entry with severity has a message containing substr.
func (c *TestLogger) Contains(severity, substr string) bool {
	for _, e := range c.Logs() {
		if e.Severity == severity && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// NewTestLogger returns a new Logger instance useful for testing
func NewTestLogger() *TestLogger {
	return &TestLogger{store: &testLogStore{}}
}
