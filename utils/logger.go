// utils/logger.go
package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Packages derive component loggers
// from it with Component.
var Logger = zerolog.New(newConsoleWriter(os.Stderr)).With().Timestamp().Logger()

// InitLogger replaces Logger according to LOG_LEVEL and LOG_FORMAT.
func InitLogger(level, format string) error {
	w, err := NewLogWriter(os.Stderr, format)
	if err != nil {
		return err
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	Logger = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return nil
}

// NewLogWriter returns a console writer for "plain"/"text" and w unchanged for "json".
func NewLogWriter(w io.Writer, format string) (io.Writer, error) {
	switch strings.ToLower(format) {
	case "", "plain", "text":
		return newConsoleWriter(w), nil
	case "json":
		return w, nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

func newConsoleWriter(w io.Writer) *zerolog.ConsoleWriter {
	return &zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		FormatLevel: func(i interface{}) string {
			if ll, ok := i.(string); ok {
				return strings.ToUpper(ll)
			}
			return "????"
		},
	}
}

// Component returns a sub-logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}
