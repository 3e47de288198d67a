package logger

import (
	"context"
	"io"
	"os"

	"arc-database/internal/shared/contextkeys"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	logFormatJSON = "json"

	envProduction = "production"
	envProd       = "prod"

	timestampFormat = "2006-01-02T15:04:05.000Z07:00"
	textTimestamp   = "2006-01-02 15:04:05"
)

// Logger defines the interface for structured logging operations.
//
// The non-formatting methods accept zap.Field values anywhere in args; they are
// lifted into structured fields instead of being printed as part of the message.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	WithFields(fields map[string]interface{}) Logger
	WithContext(ctx context.Context) Logger
	WithComponent(component string) Logger
}

// LogrusLogger implements the Logger interface using logrus
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogger creates a logger configured from LOG_LEVEL, LOG_FORMAT and ENVIRONMENT.
func NewLogger() Logger {
	return newLogrusLogger(os.Stdout, getLogLevel(os.Getenv("LOG_LEVEL")), getLogFormatter(os.Getenv("LOG_FORMAT"), os.Getenv("ENVIRONMENT")))
}

// NewLoggerWithConfig creates a logger with an explicit level and format ("json" or "text").
func NewLoggerWithConfig(level string, format string) Logger {
	return newLogrusLogger(os.Stdout, getLogLevel(level), getLogFormatter(format, ""))
}

// NewLoggerWithWriter is NewLoggerWithConfig writing to w; used by tests to capture output.
func NewLoggerWithWriter(w io.Writer, level string, format string) Logger {
	return newLogrusLogger(w, getLogLevel(level), getLogFormatter(format, ""))
}

func newLogrusLogger(w io.Writer, level logrus.Level, formatter logrus.Formatter) *LogrusLogger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(formatter)
	l.SetOutput(w)
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

func (l *LogrusLogger) Debug(args ...interface{}) { l.log(logrus.DebugLevel, args) }
func (l *LogrusLogger) Info(args ...interface{})  { l.log(logrus.InfoLevel, args) }
func (l *LogrusLogger) Warn(args ...interface{})  { l.log(logrus.WarnLevel, args) }
func (l *LogrusLogger) Error(args ...interface{}) { l.log(logrus.ErrorLevel, args) }

// Fatal logs a fatal message and exits
func (l *LogrusLogger) Fatal(args ...interface{}) {
	msg, fields := splitFields(args)
	l.entry.WithFields(fields).Fatal(msg...)
}

func (l *LogrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *LogrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *LogrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *LogrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *LogrusLogger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

func (l *LogrusLogger) log(level logrus.Level, args []interface{}) {
	if !l.entry.Logger.IsLevelEnabled(level) {
		return
	}
	msg, fields := splitFields(args)
	entry := l.entry
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Log(level, msg...)
}

// splitFields separates zap fields from the message operands.
func splitFields(args []interface{}) ([]interface{}, logrus.Fields) {
	var (
		msg    = make([]interface{}, 0, len(args))
		fields logrus.Fields
	)
	for _, arg := range args {
		field, ok := arg.(zap.Field)
		if !ok {
			msg = append(msg, arg)
			continue
		}
		if fields == nil {
			fields = logrus.Fields{}
		}
		enc := zapcore.NewMapObjectEncoder()
		field.AddTo(enc)
		for k, v := range enc.Fields {
			fields[k] = v
		}
	}
	return msg, fields
}

// WithFields adds structured fields to the logger
func (l *LogrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithContext adds request-scoped values found in ctx.
func (l *LogrusLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}
	fields := logrus.Fields{}
	addContextField(ctx, contextkeys.RequestIDKey, "request_id", fields)
	addContextField(ctx, contextkeys.ConnectionIDKey, "connection_id", fields)
	addContextField(ctx, contextkeys.CommandKey, "command", fields)
	addContextField(ctx, contextkeys.SubscriptionIDKey, "subscription_id", fields)
	addContextField(ctx, contextkeys.ComponentKey, "component", fields)
	return &LogrusLogger{entry: l.entry.WithFields(fields)}
}

func addContextField(ctx context.Context, key interface{}, fieldName string, fields logrus.Fields) {
	if strVal, ok := ctx.Value(key).(string); ok && strVal != "" {
		fields[fieldName] = strVal
	}
}

// WithComponent adds component name to the logger
func (l *LogrusLogger) WithComponent(component string) Logger {
	return &LogrusLogger{entry: l.entry.WithField("component", component)}
}

func getLogLevel(level string) logrus.Level {
	switch level {
	case "DEBUG", "debug":
		return logrus.DebugLevel
	case "WARN", "warn", "WARNING", "warning":
		return logrus.WarnLevel
	case "ERROR", "error":
		return logrus.ErrorLevel
	case "FATAL", "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

func getLogFormatter(format, env string) logrus.Formatter {
	if format == logFormatJSON || env == envProduction || env == envProd {
		return &logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: textTimestamp,
	}
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return newLogrusLogger(io.Discard, logrus.PanicLevel, &logrus.TextFormatter{})
}

var defaultLogger = NewLogger()

// Info logs an info message using the default logger
func Info(args ...interface{}) {
	defaultLogger.Info(args...)
}

// Warn logs a warning message using the default logger
func Warn(args ...interface{}) {
	defaultLogger.Warn(args...)
}

// Error logs an error message using the default logger
func Error(args ...interface{}) {
	defaultLogger.Error(args...)
}

// WithComponent creates a logger with component information
func WithComponent(component string) Logger {
	return defaultLogger.WithComponent(component)
}
