// Package logging configures zerolog for the binaries.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New builds a logger writing to out. DEV gets the coloured console writer,
// anything else gets JSON lines. An unknown level falls back to info.
func New(out io.Writer, env, level string) zerolog.Logger {
	if env == "DEV" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("env", env).Logger()
}

// Init installs New(os.Stderr, env, level) as the global logger.
func Init(env, level string) zerolog.Logger {
	logger := New(os.Stderr, env, level)
	log.Logger = logger
	return logger
}
