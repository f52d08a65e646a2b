package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/agentstation/taxonsync/pkg/constants"
)

// Config describes a logger.
type Config struct {
	Level      string // trace, debug, info, warn, error, off
	Format     string // auto, json, console
	Output     string // stderr, stdout, discard, or a file path
	TimeFormat string // kitchen, rfc3339, unix, or a Go layout; console only
	NoColor    bool
	AddCaller  bool

	// Fields are attached to every event.
	Fields map[string]any
}

// DefaultConfig logs info and above to stderr, colored on a terminal.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "auto",
		Output:     "stderr",
		TimeFormat: "kitchen",
		NoColor:    os.Getenv("NO_COLOR") != "",
	}
}

// FromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_OUTPUT, LOG_TIME_FORMAT and
// LOG_CALLER, each optionally prefixed with TAXONSYNC_. DEBUG=1 lowers the
// default level to debug.
func FromEnv() *Config {
	cfg := DefaultConfig()
	if os.Getenv("DEBUG") != "" {
		cfg.Level = "debug"
	}
	for key, field := range map[string]*string{
		"LOG_LEVEL":       &cfg.Level,
		"LOG_FORMAT":      &cfg.Format,
		"LOG_OUTPUT":      &cfg.Output,
		"LOG_TIME_FORMAT": &cfg.TimeFormat,
	} {
		if v := getEnv(key); v != "" {
			*field = v
		}
	}
	cfg.AddCaller = getEnv("LOG_CALLER") == "true"
	return cfg
}

// NewLoggerFromConfig builds a logger and sets the zerolog global level to
// match it. A nil cfg means DefaultConfig.
func NewLoggerFromConfig(cfg *Config) zerolog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	logCtx := zerolog.New(newWriter(cfg)).Level(level).With().Timestamp()
	if cfg.AddCaller || level <= zerolog.DebugLevel {
		logCtx = logCtx.Caller()
	}
	for k, v := range cfg.Fields {
		logCtx = addField(logCtx, k, v)
	}
	return logCtx.Logger()
}

// newWriter opens cfg.Output and wraps it in a console writer when the
// format asks for one, or when format is auto and the output is a terminal.
func newWriter(cfg *Config) io.Writer {
	var out io.Writer
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	case "discard", "none":
		out = io.Discard
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, constants.FilePermissions)
		if err != nil {
			out = os.Stderr
		} else {
			out = file
		}
	}

	console := false
	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		console = true
	case "", "auto":
		if f, ok := out.(*os.File); ok {
			console = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		}
	}
	if !console {
		return out
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: timeLayout(cfg.TimeFormat),
		NoColor:    cfg.NoColor,
	}
}

func parseLevel(level string) zerolog.Level {
	switch level = strings.ToLower(level); level {
	case "warning":
		return zerolog.WarnLevel
	case "none", "off":
		return zerolog.Disabled
	case "":
		return zerolog.InfoLevel
	}
	if l, err := zerolog.ParseLevel(level); err == nil {
		return l
	}
	return zerolog.InfoLevel
}

func timeLayout(format string) string {
	switch strings.ToLower(format) {
	case "", "kitchen":
		return time.Kitchen
	case "rfc3339":
		return time.RFC3339
	case "unix", "epoch":
		return ""
	}
	if strings.Contains(format, "2006") || strings.Contains(format, "15:04") {
		return format
	}
	return time.Kitchen
}

func addField(ctx zerolog.Context, key string, value any) zerolog.Context {
	switch v := value.(type) {
	case string:
		return ctx.Str(key, v)
	case int:
		return ctx.Int(key, v)
	case bool:
		return ctx.Bool(key, v)
	case time.Duration:
		return ctx.Dur(key, v)
	case error:
		return ctx.AnErr(key, v)
	default:
		return ctx.Interface(key, v)
	}
}

// getEnv reads TAXONSYNC_<key>, falling back to the bare key.
func getEnv(key string) string {
	if v := os.Getenv("TAXONSYNC_" + key); v != "" {
		return v
	}
	return os.Getenv(key)
}
