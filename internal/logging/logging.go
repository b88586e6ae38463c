// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// New returns a logger tagged with service. Local runs get the console
// writer; everything else logs JSON with unix timestamps. Unknown levels fall
// back to info.
func New(service, level string, local bool) zerolog.Logger {
	return newWithWriter(os.Stderr, service, level, local)
}

func newWithWriter(w io.Writer, service, level string, local bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := w
	if local {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	logger := zerolog.New(out).Level(lvl).With().Timestamp().Str("service", service).Logger()
	zlog.Logger = logger
	return logger
}
