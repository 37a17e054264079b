package logger

import (
	"context"

	"github.com/synthome-dev/synthome/pkg/logger/conf"
)

type Fields map[string]interface{}

// Logger is the leveled logging contract used across the codebase.
// Implementations are safe for concurrent use.
type Logger interface {
	Log(level conf.Level, args ...interface{})
	Logf(level conf.Level, format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	WithContext(ctx context.Context) Logger
}
