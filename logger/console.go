package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const isWindows = runtime.GOOS == "windows"

var noColor = os.Getenv("TERM") == "dumb" ||
	(!isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()))

func color(val string) string {
	if isWindows || noColor {
		return ""
	}
	return val
}

const (
	Reset       = "\033[0m"
	Red         = "\033[31m"
	Green       = "\033[32m"
	Magenta     = "\033[35m"
	BlueBold    = "\033[34;1m"
	MagentaBold = "\033[35;1m"
	RedBold     = "\033[31;1m"
	YellowBold  = "\033[33;1m"
	WhiteBold   = "\033[37;1m"
	CyanBold    = "\033[36;1m"
	Gray        = "\033[1;90m"
	Purple      = "\u001b[38;5;200m"
)

type levelStyle struct {
	name         string
	levelColor   string
	messageColor string
}

var consoleStyles = map[LogLevel]levelStyle{
	LevelTrace: {"TRACE", CyanBold, Gray},
	LevelDebug: {"DEBUG", BlueBold, Green},
	LevelInfo:  {"INFO", YellowBold, WhiteBold},
	LevelWarn:  {"WARN", MagentaBold, Magenta},
	LevelError: {"ERROR", RedBold, Red},
}

type consoleLogger struct {
	prefixes []string
	metadata map[string]interface{}
	logLevel LogLevel
	out      io.Writer
	mu       *sync.Mutex
	now      func() time.Time
}

var _ Logger = (*consoleLogger)(nil)

func (c *consoleLogger) clone() *consoleLogger {
	prefixes := make([]string, len(c.prefixes))
	copy(prefixes, c.prefixes)
	return &consoleLogger{
		prefixes: prefixes,
		metadata: cloneMetadata(c.metadata, nil),
		logLevel: c.logLevel,
		out:      c.out,
		mu:       c.mu,
		now:      c.now,
	}
}

// WithPrefix will return a new logger with a prefix prepended to the message
func (c *consoleLogger) WithPrefix(prefix string) Logger {
	l := c.clone()
	if !slices.Contains(l.prefixes, prefix) {
		l.prefixes = append(l.prefixes, prefix)
	}
	return l
}

func (c *consoleLogger) With(metadata map[string]interface{}) Logger {
	l := c.clone()
	l.metadata = cloneMetadata(c.metadata, metadata)
	return l
}

func (c *consoleLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= c.logLevel && c.logLevel != LevelNone
}

func (c *consoleLogger) log(level LogLevel, msg string, args ...interface{}) {
	if !c.IsLevelEnabled(level) {
		return
	}
	style := consoleStyles[level]
	var prefix, suffix string
	if len(c.prefixes) > 0 {
		prefix = color(Purple) + strings.Join(c.prefixes, " ") + color(Reset) + " "
	}
	if len(c.metadata) > 0 {
		if buf, err := json.Marshal(c.metadata); err == nil {
			suffix = " " + color(Gray) + string(buf) + color(Reset)
		}
	}
	levelText := color(style.levelColor) + fmt.Sprintf("[%-5s]", style.name) + color(Reset)
	line := fmt.Sprintf("%s %s %s%s%s%s\n",
		c.now().Format(time.RFC3339), levelText, prefix,
		color(style.messageColor), format(msg, args...)+color(Reset), suffix)
	if noColor {
		line = ansiColorStripper.ReplaceAllString(line, "")
	}
	c.mu.Lock()
	_, _ = io.WriteString(c.out, line)
	c.mu.Unlock()
}

func (c *consoleLogger) Trace(msg string, args ...interface{}) { c.log(LevelTrace, msg, args...) }
func (c *consoleLogger) Debug(msg string, args ...interface{}) { c.log(LevelDebug, msg, args...) }
func (c *consoleLogger) Info(msg string, args ...interface{})  { c.log(LevelInfo, msg, args...) }
func (c *consoleLogger) Warn(msg string, args ...interface{})  { c.log(LevelWarn, msg, args...) }
func (c *consoleLogger) Error(msg string, args ...interface{}) { c.log(LevelError, msg, args...) }

// NewConsoleLogger returns a new Logger instance which will log to stderr
func NewConsoleLogger(levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return NewConsoleLoggerWithWriter(os.Stderr, level)
}

// NewConsoleLoggerWithWriter returns a console Logger writing to w.
func NewConsoleLoggerWithWriter(w io.Writer, level LogLevel) Logger {
	return &consoleLogger{
		metadata: map[string]interface{}{},
		logLevel: level,
		out:      w,
		mu:       &sync.Mutex{},
		now:      time.Now,
	}
}
