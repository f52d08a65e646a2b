// Package app provides the application context and dependency management
// for the taxonsync CLI. It centralizes configuration, logging and the
// lifecycle of the stores and servers commands open.
package app

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/agentstation/taxonsync/internal/cmd/application"
	"github.com/agentstation/taxonsync/internal/config"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/logging"
)

// Flags holds the persistent flags shared by every command.
type Flags struct {
	ConfigFile string
	Verbose    bool
	Quiet      bool
	NoColor    bool
	Format     string
	LogLevel   string
}

// App represents the taxonsync application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	flags  Flags
	viper  *viper.Viper
	config *config.Config
	logger *zerolog.Logger
	out    io.Writer

	// Cleanup registered by commands, run by Shutdown.
	mu      sync.Mutex
	closers []func(context.Context) error
}

var _ application.Application = (*App)(nil)

// New creates an App. Configuration is loaded once flags are parsed.
func New(version, commit, date, builtBy string, opts ...Option) *App {
	logger := logging.NewLoggerFromConfig(logging.DefaultConfig())
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
		viper:   viper.New(),
		logger:  &logger,
		out:     os.Stdout,
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Config returns the loaded configuration, nil before a command runs.
func (a *App) Config() *config.Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// Viper returns the instance configuration is read through.
func (a *App) Viper() *viper.Viper {
	return a.viper
}

// OutputFormat returns the --format flag.
func (a *App) OutputFormat() string {
	return a.flags.Format
}

// loadConfig reads configuration and rebuilds the logger from it.
func (a *App) loadConfig() error {
	cfg, err := config.Load(a.viper, a.flags.ConfigFile)
	if err != nil {
		return err
	}
	a.config = cfg

	logger := NewLogger(cfg.Log, a.flags)
	a.logger = &logger
	logging.SetDefault(logger)
	return nil
}

// OnShutdown registers fn to run on Shutdown, most recent first.
func (a *App) OnShutdown(fn func(context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Shutdown closes stores and stops servers opened by commands.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Option is a functional option for configuring the App.
type Option func(*App)

// WithOutput redirects command output, stdout by default.
func WithOutput(w io.Writer) Option {
	return func(a *App) {
		a.out = w
	}
}

// WithViper sets the viper instance configuration is read through.
func WithViper(v *viper.Viper) Option {
	return func(a *App) {
		a.viper = v
	}
}
