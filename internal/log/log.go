// Package log holds the process-wide structured logger.
package log

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Log is the shared logger. Library packages take a zerolog.Logger value
// and default to this one.
var Log zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	Log = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// SetLevelDebug enables debug output.
func SetLevelDebug() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// SetLevelInfo restores the default level.
func SetLevelInfo() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// SetLevel sets the global level by name ("debug", "info", "warn", ...).
// An empty name means info.
func SetLevel(name string) error {
	if name == "" {
		SetLevelInfo()
		return nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return errors.Wrapf(err, "无效的日志级别 %q", name)
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

// SetOutput redirects the shared logger. Console output is human readable.
func SetOutput(w io.Writer, console bool) {
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	Log = zerolog.New(w).With().Timestamp().Logger()
}
