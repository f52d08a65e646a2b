// Package wiring builds the stores, platforms and servers commands run on
// from configuration.
package wiring

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/agentstation/taxonsync/internal/cmd/application"
	"github.com/agentstation/taxonsync/internal/config"
	"github.com/agentstation/taxonsync/internal/metrics"
	"github.com/agentstation/taxonsync/internal/platforms/memory"
	"github.com/agentstation/taxonsync/internal/platforms/rest"
	"github.com/agentstation/taxonsync/internal/store/sqlstore"
	"github.com/agentstation/taxonsync/internal/store/yamlstore"
	"github.com/agentstation/taxonsync/internal/transport"
	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/constants"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/platform"
	"github.com/agentstation/taxonsync/pkg/sync"
)

// OpenStore opens the configured source of truth. The returned close
// function is never nil.
func OpenStore(cfg config.StoreConfig) (sync.Store, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.Type {
	case config.StoreYAML:
		return yamlstore.New(cfg.Path), noop, nil
	case config.StoreSQLite:
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
				return nil, noop, errors.WrapIO("create", dir, err)
			}
		}
		s, err := sqlstore.Open(cfg.Path)
		if err != nil {
			return nil, noop, err
		}
		return s, func(context.Context) error { return s.Close() }, nil
	default:
		return nil, noop, errors.NewConfigError("store.type", "unknown store type "+cfg.Type, nil)
	}
}

// BuildPlatforms creates a client for every configured platform, in order.
func BuildPlatforms(v *viper.Viper, configs []config.PlatformConfig) ([]platform.Platform, error) {
	platforms := make([]platform.Platform, 0, len(configs))
	for _, pc := range configs {
		p, err := buildPlatform(v, pc)
		if err != nil {
			return nil, err
		}
		platforms = append(platforms, p)
	}
	return platforms, nil
}

func buildPlatform(v *viper.Viper, pc config.PlatformConfig) (platform.Platform, error) {
	id := catalog.PlatformID(pc.ID)

	switch pc.Type {
	case config.PlatformMemory:
		return memory.New(id), nil
	case config.PlatformREST:
		key, err := config.APIKey(v, pc)
		if err != nil {
			return nil, err
		}
		timeout := pc.Timeout
		if timeout <= 0 {
			timeout = constants.DefaultHTTPTimeout
		}
		client := transport.New(pc.ID, pc.BaseURL,
			transport.AuthFor(pc.AuthHeader, pc.AuthScheme),
			transport.WithAPIKey(key),
			transport.WithHTTPClient(&http.Client{Timeout: timeout}),
		)
		return rest.New(id, client), nil
	default:
		return nil, errors.NewConfigError("platforms", pc.ID+": unknown type "+pc.Type, nil)
	}
}

// ServeMetrics exposes m on addr until the app shuts down. An empty addr
// disables it.
func ServeMetrics(app application.Application, m *metrics.Metrics, addr string) {
	if addr == "" {
		return
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger := app.Logger()
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	app.OnShutdown(server.Shutdown)
}

// Serve runs handler on listener until ctx is canceled, then drains
// connections for up to constants.ShutdownTimeout.
func Serve(ctx context.Context, logger *zerolog.Logger, listener net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", listener.Addr().String()).Msg("Server starting")
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.WrapResource("shutdown", "server", "", err)
	}
	logger.Info().Msg("Server stopped gracefully")
	return nil
}
