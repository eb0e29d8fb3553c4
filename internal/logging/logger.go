package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides structured logging for the worker
type Logger struct {
	prefix string
	zl     zerolog.Logger
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string
	Format string // json or console
	Output io.Writer
}

// NewLogger creates a new logger with a prefix, using console output at info level.
func NewLogger(prefix string) *Logger {
	return NewLoggerWithConfig(prefix, LogConfig{Level: "info", Format: "console"})
}

// NewLoggerWithConfig creates a logger with explicit level, format and output.
func NewLoggerWithConfig(prefix string, cfg LogConfig) *Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var zl zerolog.Logger
	if cfg.Format == "json" {
		zl = zerolog.New(output)
	} else {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339})
	}

	zl = zl.Level(parseLevel(cfg.Level)).With().
		Timestamp().
		Str("component", prefix).
		Logger()

	return &Logger{prefix: prefix, zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that always carries the given key-value pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		ctx = ctx.Interface(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1])
	}
	return &Logger{prefix: l.prefix, zl: ctx.Logger()}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.zl.Info(), msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.zl.Warn(), msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.zl.Error(), msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.zl.Debug(), msg, keysAndValues...)
}

func (l *Logger) logWithKV(evt *zerolog.Event, msg string, keysAndValues ...interface{}) {
	if evt == nil {
		return
	}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		switch v := keysAndValues[i+1].(type) {
		case error:
			evt = evt.AnErr(key, v)
		case time.Duration:
			evt = evt.Dur(key, v)
		default:
			evt = evt.Interface(key, v)
		}
	}
	evt.Msg(msg)
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
