package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ParseLogLevel converts a log level string to zerolog.Level.
func ParseLogLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// InitLogger creates the process logger with the given level and format and
// tags every entry with the service identity.
func InitLogger(logLevel, logFormat, serviceKind, serviceID string) zerolog.Logger {
	return newLogger(os.Stdout, logLevel, logFormat).With().
		Str("service_kind", serviceKind).
		Str("service_id", serviceID).
		Logger()
}

func newLogger(out io.Writer, logLevel, logFormat string) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLogLevel(logLevel))

	if logFormat == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}
