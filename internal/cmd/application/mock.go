package application

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/agentstation/taxonsync/internal/config"
	"github.com/agentstation/taxonsync/pkg/errors"
)

// Mock is an Application for command tests. Nil fields fall back to zero
// values: an empty config, a fresh viper and a no-op logger.
//
// Example usage:
//
//	mock := &application.Mock{ConfigValue: cfg, Format: "json"}
//	cmd := apply.NewCommand(mock)
//	defer mock.Shutdown(context.Background())
type Mock struct {
	ConfigValue *config.Config
	ViperValue  *viper.Viper
	LoggerValue *zerolog.Logger
	Format      string

	mu      sync.Mutex
	closers []func(context.Context) error
}

var _ Application = (*Mock)(nil)

// Config implements Application.
func (m *Mock) Config() *config.Config {
	if m.ConfigValue == nil {
		return &config.Config{}
	}
	return m.ConfigValue
}

// Viper implements Application.
func (m *Mock) Viper() *viper.Viper {
	if m.ViperValue == nil {
		m.ViperValue = viper.New()
	}
	return m.ViperValue
}

// Logger implements Application.
func (m *Mock) Logger() *zerolog.Logger {
	if m.LoggerValue == nil {
		logger := zerolog.Nop()
		return &logger
	}
	return m.LoggerValue
}

// OutputFormat implements Application.
func (m *Mock) OutputFormat() string {
	return m.Format
}

// OnShutdown implements Application.
func (m *Mock) OnShutdown(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, fn)
}

// Shutdown runs the registered cleanup, most recent first.
func (m *Mock) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	closers := m.closers
	m.closers = nil
	m.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
