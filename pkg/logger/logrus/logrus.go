package logrus

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/synthome-dev/synthome/pkg/logger"
	"github.com/synthome-dev/synthome/pkg/logger/conf"
)

// LogrusWrapper adapts a logrus.Logger to the logger.Logger contract.
type LogrusWrapper struct {
	entry *logrus.Entry
}

func NewLogrusWrapper(config *conf.LogConfig) (*LogrusWrapper, error) {
	config.Normalize()

	l := logrus.New()
	l.SetLevel(toLogrusLevel(config.Level))
	l.SetFormatter(toLogrusFormatter(config.Formatter))
	l.SetOutput(toLogrusOutput(config))

	return &LogrusWrapper{entry: logrus.NewEntry(l)}, nil
}

func toLogrusLevel(level conf.Level) logrus.Level {
	switch level {
	case conf.TraceLevel:
		return logrus.TraceLevel
	case conf.DebugLevel:
		return logrus.DebugLevel
	case conf.InfoLevel:
		return logrus.InfoLevel
	case conf.WarnLevel:
		return logrus.WarnLevel
	case conf.ErrorLevel:
		return logrus.ErrorLevel
	case conf.FatalLevel:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

func toLogrusFormatter(f conf.Formatter) logrus.Formatter {
	switch f {
	case conf.JSONFormater, conf.StructuredFormater:
		return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	default:
		return &logrus.TextFormatter{FullTimestamp: true}
	}
}

func toLogrusOutput(config *conf.LogConfig) io.Writer {
	switch config.Output {
	case conf.StderrOutput:
		return os.Stderr
	case conf.FileOutput:
		return &lumberjack.Logger{
			Filename:   config.FileName,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
	default:
		return os.Stdout
	}
}

func (w *LogrusWrapper) Log(level conf.Level, args ...interface{}) {
	w.entry.Log(toLogrusLevel(level), args...)
}

func (w *LogrusWrapper) Logf(level conf.Level, format string, args ...interface{}) {
	w.entry.Logf(toLogrusLevel(level), format, args...)
}

func (w *LogrusWrapper) Trace(args ...interface{}) { w.entry.Trace(args...) }
func (w *LogrusWrapper) Tracef(format string, args ...interface{}) {
	w.entry.Tracef(format, args...)
}
func (w *LogrusWrapper) Debug(args ...interface{}) { w.entry.Debug(args...) }
func (w *LogrusWrapper) Debugf(format string, args ...interface{}) {
	w.entry.Debugf(format, args...)
}
func (w *LogrusWrapper) Info(args ...interface{}) { w.entry.Info(args...) }
func (w *LogrusWrapper) Infof(format string, args ...interface{}) {
	w.entry.Infof(format, args...)
}
func (w *LogrusWrapper) Warn(args ...interface{}) { w.entry.Warn(args...) }
func (w *LogrusWrapper) Warnf(format string, args ...interface{}) {
	w.entry.Warnf(format, args...)
}
func (w *LogrusWrapper) Error(args ...interface{}) { w.entry.Error(args...) }
func (w *LogrusWrapper) Errorf(format string, args ...interface{}) {
	w.entry.Errorf(format, args...)
}
func (w *LogrusWrapper) Fatal(args ...interface{}) { w.entry.Fatal(args...) }
func (w *LogrusWrapper) Fatalf(format string, args ...interface{}) {
	w.entry.Fatalf(format, args...)
}

func (w *LogrusWrapper) WithField(key string, value interface{}) logger.Logger {
	return &LogrusWrapper{entry: w.entry.WithField(key, value)}
}

func (w *LogrusWrapper) WithFields(fields logger.Fields) logger.Logger {
	return &LogrusWrapper{entry: w.entry.WithFields(logrus.Fields(fields))}
}

func (w *LogrusWrapper) WithError(err error) logger.Logger {
	return &LogrusWrapper{entry: w.entry.WithError(err)}
}

func (w *LogrusWrapper) WithContext(ctx context.Context) logger.Logger {
	return &LogrusWrapper{entry: w.entry.WithContext(ctx)}
}
