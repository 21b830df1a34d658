// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs the global logger. format "json" writes one JSON object per
// line; anything else uses the human-readable console writer.
func Setup(level, format string) zerolog.Logger {
	return setup(os.Stdout, level, format)
}

func setup(out io.Writer, level, format string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	writer := out
	if format != "json" {
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	logger := zerolog.New(writer).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}
