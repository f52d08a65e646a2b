package app

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/agentstation/taxonsync/internal/config"
	"github.com/agentstation/taxonsync/pkg/logging"
)

// NewLogger creates the application logger.
// Log level precedence (highest to lowest):
//  1. --log-level flag
//  2. -v/--verbose flag (debug)
//  3. -q/--quiet flag (warn)
//  4. log.level from the config file or LOG_LEVEL
//  5. Default (info)
func NewLogger(cfg config.LogConfig, flags Flags) zerolog.Logger {
	level := determineLogLevel(cfg.Level, flags)

	return logging.NewLoggerFromConfig(&logging.Config{
		Level:      level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		TimeFormat: "kitchen",
		NoColor:    flags.NoColor || os.Getenv("NO_COLOR") != "",
		AddCaller:  level == "debug" || level == "trace",
	})
}

func determineLogLevel(configured string, flags Flags) string {
	if flags.LogLevel != "" {
		validated := validateLogLevel(flags.LogLevel)
		if validated != flags.LogLevel {
			fmt.Fprintf(os.Stderr, "Warning: invalid log level %q, using %q\n", flags.LogLevel, validated)
		}
		return validated
	}

	if flags.Verbose && flags.Quiet {
		fmt.Fprintf(os.Stderr, "Warning: both --verbose and --quiet specified, using --quiet\n")
		return "warn"
	}
	if flags.Verbose {
		return "debug"
	}
	if flags.Quiet {
		return "warn"
	}

	if configured != "" {
		return validateLogLevel(configured)
	}
	return "info"
}

// validateLogLevel returns level if it is known, otherwise info.
func validateLogLevel(level string) string {
	switch level {
	case "trace", "debug", "info", "warn", "error":
		return level
	default:
		return "info"
	}
}
