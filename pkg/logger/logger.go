// Package logger provides context-aware structured logging on logrus. A
// logger entry travels in the context so request-scoped fields such as
// request_id or snapshot follow a task through every component.
package logger

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// G is a convenience alias for GetLogger.
	G = GetLogger
	// L is the global logger entry used when the context carries none.
	L = logrus.NewEntry(newLogger())
)

type loggerKey struct{}

// WithLogger attaches a logger entry to ctx.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	e := logger.WithContext(ctx)
	return context.WithValue(ctx, loggerKey{}, e)
}

// GetLogger returns the entry stored in ctx, or L bound to ctx.
func GetLogger(ctx context.Context) *logrus.Entry {
	logger := ctx.Value(loggerKey{})

	if logger == nil {
		return L.WithContext(ctx)
	}

	return logger.(*logrus.Entry)
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.Formatter, _ = formatter("fmt")
	return l
}

// formatter returns the logrus formatter for fmt, text or json.
func formatter(format string) (logrus.Formatter, error) {
	switch format {
	case "json":
		return &logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "logLevel",
				logrus.FieldKeyMsg:   "message",
			},
			TimestampFormat: time.RFC3339Nano,
		}, nil
	case "text", "fmt", "":
		return &logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
			FullTimestamp:   true,
		}, nil
	default:
		return nil, errors.Errorf("unknown log format %q (expected fmt, text or json)", format)
	}
}

// Configure sets level, format and output of the global logger. A nil
// output leaves the current one in place. The MCP command points it at
// stderr because stdout carries the protocol.
func Configure(level, format string, output io.Writer) error {
	return configure(L.Logger, level, format, output)
}

func configure(l *logrus.Logger, level, format string, output io.Writer) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	f, err := formatter(format)
	if err != nil {
		return err
	}
	l.SetLevel(lvl)
	l.Formatter = f
	if output != nil {
		l.SetOutput(output)
	}
	return nil
}

// SetLogLevel sets the log level for the global logger
func SetLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	L.Logger.SetLevel(logLevel)
	return nil
}

// SetLogOutput sets the output destination for the global logger
func SetLogOutput(w io.Writer) {
	L.Logger.SetOutput(w)
}
