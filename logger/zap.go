package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapBridge struct {
	logger Logger
}

func (z *zapBridge) Enabled(level zapcore.Level) bool {
	return z.logger.IsLevelEnabled(fromZapLevel(level))
}

func (z *zapBridge) With(fields []zapcore.Field) zapcore.Core {
	return &zapBridge{logger: z.logger.With(fieldsToMap(fields))}
}

func (z *zapBridge) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if z.Enabled(entry.Level) {
		return ce.AddCore(entry, z)
	}
	return ce
}

func (z *zapBridge) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	log := z.logger
	if len(fields) > 0 {
		log = log.With(fieldsToMap(fields))
	}
	msg := entry.Message
	switch fromZapLevel(entry.Level) {
	case LevelDebug:
		log.Debug(msg)
	case LevelInfo:
		log.Info(msg)
	case LevelWarn:
		log.Warn(msg)
	default:
		log.Error(msg)
	}
	return nil
}

func (z *zapBridge) Sync() error {
	return nil
}

func fieldsToMap(fields []zapcore.Field) map[string]interface{} {
	enc := zapcore.NewMapObjectEncoder()
	for _, field := range fields {
		field.AddTo(enc)
	}
	return enc.Fields
}

func fromZapLevel(level zapcore.Level) LogLevel {
	switch level {
	case zapcore.DebugLevel:
		return LevelDebug
	case zapcore.InfoLevel:
		return LevelInfo
	case zapcore.WarnLevel:
		return LevelWarn
	default:
		return LevelError
	}
}

// ToZap returns a zap.Logger instance that will output to the provided logger
func ToZap(logger Logger) *zap.Logger {
	return zap.New(&zapBridge{logger: logger})
}

type zapLogger struct {
	sugar *zap.SugaredLogger
	level zapcore.LevelEnabler
}

var _ Logger = (*zapLogger)(nil)

// NewZapLogger adapts an existing zap.Logger to the Logger interface.
// Trace is mapped to zap's debug level.
func NewZapLogger(z *zap.Logger) Logger {
	return &zapLogger{sugar: z.Sugar(), level: z.Core()}
}

func (z *zapLogger) With(metadata map[string]interface{}) Logger {
	args := make([]interface{}, 0, len(metadata)*2)
	for k, v := range metadata {
		args = append(args, k, v)
	}
	return &zapLogger{sugar: z.sugar.With(args...), level: z.level}
}

func (z *zapLogger) WithPrefix(prefix string) Logger {
	return &zapLogger{sugar: z.sugar.Named(strings.Trim(prefix, "[]")), level: z.level}
}

func (z *zapLogger) IsLevelEnabled(level LogLevel) bool {
	switch level {
	case LevelTrace, LevelDebug:
		return z.level.Enabled(zapcore.DebugLevel)
	case LevelInfo:
		return z.level.Enabled(zapcore.InfoLevel)
	case LevelWarn:
		return z.level.Enabled(zapcore.WarnLevel)
	case LevelError:
		return z.level.Enabled(zapcore.ErrorLevel)
	}
	return false
}

func (z *zapLogger) Trace(msg string, args ...interface{}) { z.sugar.Debugf(msg, args...) }
func (z *zapLogger) Debug(msg string, args ...interface{}) { z.sugar.Debugf(msg, args...) }
func (z *zapLogger) Info(msg string, args ...interface{})  { z.sugar.Infof(msg, args...) }
func (z *zapLogger) Warn(msg string, args ...interface{})  { z.sugar.Warnf(msg, args...) }
func (z *zapLogger) Error(msg string, args ...interface{}) { z.sugar.Errorf(msg, args...) }
