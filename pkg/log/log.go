package log

import (
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
)

// New returns a zerolog logger writing to stderr, so that log lines never
// mix with command output on stdout.
func New() *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	logger := zerolog.New(output()).With().Timestamp().Logger()
	return &logger
}

func output() io.Writer {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return os.Stderr
	}
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02T15:04:05.999Z07:00"}
}

// NewLogr returns New as a logr.Logger for lazyflow.WithLogr. verbosity is
// the highest V level that is emitted.
func NewLogr(verbosity int) logr.Logger {
	return newLogr(New(), verbosity)
}

// newLogr maps V(n) onto zerolog level 1-n, the level zerologr writes it
// at, and filters everything above verbosity on the logger itself.
func newLogr(l *zerolog.Logger, verbosity int) logr.Logger {
	if verbosity < 0 {
		verbosity = 0
	}
	zerologr.NameFieldName = "logger"
	zerologr.NameSeparator = "/"

	level := zerolog.Level(1 - verbosity)
	// The global level defaults to debug and would drop V(2) and above.
	if level < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(level)
	}
	filtered := l.Level(level)
	return zerologr.New(&filtered)
}
