// Package sysutil holds process-level helpers: global logger setup and
// environment-style value parsing.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetLogLevel sets zerolog's global level from a case-insensitive name
// ("warning" is accepted for warn). Blank or unknown names fall back to info.
// The applied level is returned.
func SetLogLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || name == "" || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return lvl
}

// SetupLogger points the global logger at w (stdout when nil), JSON by
// default or a human console writer when pretty, and applies level.
// It returns the configured logger for components that take one.
func SetupLogger(w io.Writer, level string, pretty bool) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	SetLogLevel(level)
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return log.Logger
}

var truthy = map[string]struct{}{"1": {}, "true": {}, "yes": {}, "y": {}, "on": {}}

// IsTruthy reports whether a flag-like query or env value means "on".
func IsTruthy(v string) bool {
	_, ok := truthy[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

// FirstNonEmpty returns the first value that is not blank, or "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
