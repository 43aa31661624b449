package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	pionlogging "github.com/pion/logging"
)

// ParseLevel maps a LOG_LEVEL value to a slog level. Unknown values fall
// back to info.
func ParseLevel(l string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs the default slog logger and returns it. format is "text" or
// "json".
func Init(level, format string) *slog.Logger {
	return InitWriter(os.Stderr, level, format)
}

// InitWriter is Init writing to w instead of stderr
func InitWriter(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// PionLoggerFactory builds a pion logger factory whose level follows ours
func PionLoggerFactory(level string) *pionlogging.DefaultLoggerFactory {
	factory := pionlogging.NewDefaultLoggerFactory()
	switch ParseLevel(level) {
	case slog.LevelDebug:
		factory.DefaultLogLevel = pionlogging.LogLevelDebug
	case slog.LevelInfo:
		factory.DefaultLogLevel = pionlogging.LogLevelInfo
	case slog.LevelWarn:
		factory.DefaultLogLevel = pionlogging.LogLevelWarn
	default:
		factory.DefaultLogLevel = pionlogging.LogLevelError
	}
	return factory
}
