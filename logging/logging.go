// Package logging provides logrus based helpers for carrying a structured
// logger through a context. Components resolve their logger with GetLogger
// and attach component specific fields before use.
package logging

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

type loggerKey struct{}

// Supported output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// NewLogger builds a configured logrus logger writing to stderr.
func NewLogger(level, format string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", level, err)
	}
	logger.SetLevel(parsed)

	switch format {
	case FormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{})
	case FormatText, "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("logger format %s is invalid", format)
	}
	return logger, nil
}

// WithLogger stores the entry in the context for downstream components.
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, entry)
}

// GetLogger resolves the logger from the context, falling back to the
// standard logrus logger when none has been attached.
func GetLogger(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok && entry != nil {
		return entry
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
