package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

const (
	timeFormat = "2006-01-02 15:04:05"
)

var logger = logrus.NewEntry(logrus.New())

// Fields ...
type Fields logrus.Fields

// New builds a module scoped entry writing to out.
func New(module, level string, out io.Writer) *logrus.Entry {
	customFormatter := &logrus.TextFormatter{}
	customFormatter.TimestampFormat = timeFormat
	customFormatter.FullTimestamp = true

	l := logrus.New()
	l.SetFormatter(customFormatter)
	l.SetOutput(out)
	l.SetLevel(ParseLevel(level))
	return l.WithFields(logrus.Fields{
		"module": module,
	})
}

// ParseLevel falls back to info for unknown names.
func ParseLevel(level string) logrus.Level {
	switch level {
	case "error":
		return logrus.ErrorLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// Init replaces the package logger and returns it so it can be handed to
// brokers explicitly.
func Init(module, level string) *logrus.Entry {
	logger = New(module, level, os.Stdout)
	logger.WithFields(logrus.Fields{
		"event": "init_logger",
	}).Info("logger initiated")
	return logger
}

// WithFields ...
func WithFields(fields Fields) *logrus.Entry {
	return logger.WithFields(logrus.Fields(fields))
}

// Error ...
func Error(args ...interface{}) {
	logger.Error(args...)
}
