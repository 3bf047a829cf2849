package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// TraceLevel indicates a log message's level of criticality
	TraceLevel = iota
	// DebugLevel indicates a log message's level of criticality
	DebugLevel
	// InfoLevel indicates a log message's level of criticality
	InfoLevel
	// WarnLevel indicates a log message's level of criticality
	WarnLevel
	// ErrorLevel indicates a log message's level of criticality
	ErrorLevel
	// FatalLevel indicates a log message's level of criticality
	FatalLevel
)

// LogLevelToString translates a log level enum to a string representation
func LogLevelToString(level int) string {
	switch level {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "TRACE"
	}
}

// ToZerologLevel translates a log level enum to a zerolog.Level
func ToZerologLevel(level int) zerolog.Level {
	switch level {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case FatalLevel:
		return zerolog.FatalLevel
	default:
		return zerolog.TraceLevel
	}
}

// ParseLevel translates a level name (as produced by LogLevelToString, case-insensitive) to a log level enum.
// Unknown names map to InfoLevel.
func ParseLevel(name string) int {
	for level := TraceLevel; level <= FatalLevel; level++ {
		if strings.EqualFold(LogLevelToString(level), name) {
			return level
		}
	}
	return InfoLevel
}

// NewLogger produces the default catalog logger, writing JSON to stdout.
// CATALOG_PRETTY=1 switches to human-readable console output on stderr, and
// CATALOG_LOG_LEVEL selects the minimum level (defaults to INFO).
func NewLogger() zerolog.Logger {
	var out io.Writer = os.Stdout
	if os.Getenv("CATALOG_PRETTY") == "1" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	level := InfoLevel
	if name := os.Getenv("CATALOG_LOG_LEVEL"); name != "" {
		level = ParseLevel(name)
	}
	return NewLoggerTo(out, level)
}

// NewLoggerTo produces a logger writing to a specific output at a specific level
func NewLoggerTo(out io.Writer, level int) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(out).Level(ToZerologLevel(level)).With().Timestamp().Logger()
}

// ForRank annotates a logger with the rank of the current process
func ForRank(logger zerolog.Logger, rank int, size int) zerolog.Logger {
	return logger.With().Int("rank", rank).Int("ranks", size).Logger()
}
