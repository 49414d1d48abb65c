// Package logger builds the structured zerolog root logger for the
// forecast engine. Components derive child loggers from it with
// log.With().Str("component", ...).
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls log level and output format.
type Config struct {
	Level  string // trace, debug, info, warn, error
	Pretty bool   // human-readable console output for local development
}

// New creates the process root logger. Unknown or empty levels fall back
// to info rather than erroring; a misconfigured level must not stop the
// engine from starting.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	// Dur fields (job runtimes, sector processing times) as integer ms.
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = true

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "gridcast").
		Logger()
}

// SetGlobalLogger replaces the package-level zerolog logger so code using
// the global log package shares the configured output.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
