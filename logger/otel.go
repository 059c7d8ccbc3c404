package logger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/log"
)

// otelLogger implements the Logger interface for OpenTelemetry
type otelLogger struct {
	prefixes   []string
	metadata   map[string]log.Value
	logLevel   LogLevel
	otelLogger log.Logger
}

var _ Logger = (*otelLogger)(nil)

// NewOtelLogger returns a Logger that emits records to an OpenTelemetry logger.
func NewOtelLogger(otelsLogger log.Logger, level LogLevel) Logger {
	return &otelLogger{
		otelLogger: otelsLogger,
		logLevel:   level,
	}
}

func (o *otelLogger) clone(kv map[string]log.Value, prefixes []string) *otelLogger {
	return &otelLogger{
		prefixes:   prefixes,
		metadata:   kv,
		logLevel:   o.logLevel,
		otelLogger: o.otelLogger,
	}
}

// WithPrefix will return a new logger with a prefix prepended to the message
func (o *otelLogger) WithPrefix(prefix string) Logger {
	prefixes := make([]string, 0, len(o.prefixes)+1)
	prefixes = append(prefixes, o.prefixes...)
	prefixes = append(prefixes, prefix)
	return o.clone(o.metadata, prefixes)
}

// With will return a new logger using metadata as the base context
func (o *otelLogger) With(metadata map[string]interface{}) Logger {
	kv := make(map[string]log.Value, len(o.metadata)+len(metadata))
	for k, v := range o.metadata {
		kv[k] = v
	}
	for k, v := range metadata {
		kv[k] = toLogValue(v)
	}
	if len(kv) == 0 {
		kv = nil
	}
	return o.clone(kv, o.prefixes)
}

func (o *otelLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= o.logLevel && o.logLevel != LevelNone
}

func toLogValue(unknown interface{}) log.Value {
	switch v := unknown.(type) {
	case string:
		return log.StringValue(v)
	case int:
		return log.IntValue(v)
	case int64:
		return log.Int64Value(v)
	case bool:
		return log.BoolValue(v)
	case float64:
		return log.Float64Value(v)
	case time.Duration:
		return log.StringValue(v.String())
	case []byte:
		return log.BytesValue(v)
	case []interface{}:
		values := make([]log.Value, 0, len(v))
		for _, item := range v {
			values = append(values, toLogValue(item))
		}
		return log.SliceValue(values...)
	case map[string]interface{}:
		values := make([]log.KeyValue, 0, len(v))
		for key, val := range v {
			values = append(values, log.KeyValue{Key: key, Value: toLogValue(val)})
		}
		return log.MapValue(values...)
	default:
		return log.StringValue(fmt.Sprintf("%v", v))
	}
}

func (o *otelLogger) log(level LogLevel, severity log.Severity, msg string, args ...interface{}) {
	if !o.IsLevelEnabled(level) {
		return
	}

	formatted := fmt.Sprintf(msg, args...)
	if len(o.prefixes) > 0 {
		formatted = strings.Join(o.prefixes, " ") + " " + formatted
	}

	now := time.Now()
	var record log.Record
	record.SetBody(log.StringValue(formatted))
	record.SetSeverity(severity)
	record.SetSeverityText(severity.String())
	record.SetObservedTimestamp(now)
	record.SetTimestamp(now)
	for k, v := range o.metadata {
		record.AddAttributes(log.KeyValue{Key: k, Value: v})
	}

	o.otelLogger.Emit(context.Background(), record)
}

func (o *otelLogger) Trace(msg string, args ...interface{}) {
	o.log(LevelTrace, log.SeverityTrace, msg, args...)
}

func (o *otelLogger) Debug(msg string, args ...interface{}) {
	o.log(LevelDebug, log.SeverityDebug, msg, args...)
}

func (o *otelLogger) Info(msg string, args ...interface{}) {
	o.log(LevelInfo, log.SeverityInfo, msg, args...)
}

func (o *otelLogger) Warn(msg string, args ...interface{}) {
	o.log(LevelWarn, log.SeverityWarn, msg, args...)
}

func (o *otelLogger) Error(msg string, args ...interface{}) {
	o.log(LevelError, log.SeverityError, msg, args...)
}
