// Package logging provides structured logging for taxonsync using zerolog.
// Engine components log through the logger carried on the context so that
// run, kind, platform and entity fields follow every event.
//
// Example usage:
//
//	ctx = logging.WithRun(ctx, runID)
//	ctx = logging.WithPlatform(ctx, "shopX")
//	logging.FromContext(ctx).Info().Str("kind", "publisher").Msg("Reconciling kind")
package logging

import (
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// defaultLogger is read by workers while the CLI may replace it.
var defaultLogger atomic.Pointer[zerolog.Logger]

func init() {
	SetDefault(NewLoggerFromConfig(FromEnv()))
}

// Default returns the process-wide logger.
func Default() *zerolog.Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide logger, including zerolog's
// log.Logger.
func SetDefault(logger zerolog.Logger) {
	defaultLogger.Store(&logger)
	log.Logger = logger
}

// Debug starts a debug event on the default logger.
func Debug() *zerolog.Event { return Default().Debug() }

// Info starts an info event on the default logger.
func Info() *zerolog.Event { return Default().Info() }

// Warn starts a warn event on the default logger.
func Warn() *zerolog.Event { return Default().Warn() }

// Error starts an error event on the default logger.
func Error() *zerolog.Event { return Default().Error() }
