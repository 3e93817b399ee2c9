package sipmsg

import (
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var defaultLogger atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	defaultLogger.Store(&l)
}

// DefaultLogger returns the package wide logger used when a component is
// constructed without an explicit WithXxxLogger option.
func DefaultLogger() zerolog.Logger {
	return *defaultLogger.Load()
}

// SetDefaultLogger overrides the package wide default logger.
func SetDefaultLogger(l zerolog.Logger) {
	defaultLogger.Store(&l)
}
