// Package logging builds the zerolog logger used across the bot.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/oops"
)

// Setup creates a logger writing to w (os.Stderr when nil).
// format is "console" (default) or "json"; level is any zerolog level name.
func Setup(format, level string, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Nop(), err
		}
		lvl = parsed
	}

	if format != "json" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    false,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// WithStack attaches err to ev, plus its stack trace when err carries one.
// Plugin failures are logged this way so the offending handler can be found.
func WithStack(ev *zerolog.Event, err error) *zerolog.Event {
	ev = ev.Err(err)
	if oopsErr, ok := oops.AsOops(err); ok {
		ev = ev.Str("stacktrace", oopsErr.Stacktrace())
	}
	return ev
}
