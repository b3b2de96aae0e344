package logging

import (
	"log/slog"
	"os"

	"github.com/pion/logging"
)

// ParseLevel maps LOG_LEVEL style names to a slog level. Unknown values fall
// back to info.
func ParseLevel(name string) slog.Level {
	switch name {
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

// Init installs a text logger on stderr as the slog default and returns it.
func Init(level string) *slog.Logger {
	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: ParseLevel(level),
		}),
	)
	slog.SetDefault(logger)
	return logger
}

// PionFactory returns a pion logger factory whose default level tracks ours,
// so pion internals stay quiet unless we are debugging.
func PionFactory(level string) logging.LoggerFactory {
	factory := logging.NewDefaultLoggerFactory()
	switch ParseLevel(level) {
	case slog.LevelDebug:
		factory.DefaultLogLevel = logging.LogLevelDebug
	case slog.LevelInfo:
		factory.DefaultLogLevel = logging.LogLevelInfo
	case slog.LevelWarn:
		factory.DefaultLogLevel = logging.LogLevelWarn
	default:
		factory.DefaultLogLevel = logging.LogLevelError
	}
	return factory
}

// Discard is a logger that drops everything; handy as a nil default.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
