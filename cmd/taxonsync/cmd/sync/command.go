// Package sync implements the sync command.
package sync

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/agentstation/taxonsync"
	"github.com/agentstation/taxonsync/internal/cmd/application"
	"github.com/agentstation/taxonsync/internal/cmd/wiring"
	"github.com/agentstation/taxonsync/internal/metrics"
	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/constants"
	"github.com/agentstation/taxonsync/pkg/logging"
	engine "github.com/agentstation/taxonsync/pkg/sync"
)

// Flags holds the sync-only filters. The remaining flags are bound to
// configuration keys by the app.
type Flags struct {
	Kinds     []string
	Platforms []string
}

// NewCommand creates the sync command using app context.
func NewCommand(app application.Application) *cobra.Command {
	flags := &Flags{}

	cmd := &cobra.Command{
		Use:     "sync",
		GroupID: "core",
		Short:   "Mirror the source of truth into every platform",
		Long: `Sync reads every configured kind from the source of truth, parents
first, and creates, updates or skips the matching resource on each
platform. External identifiers are written back to the store.`,
		Example: `  taxonsync sync
  taxonsync sync --dry-run --format wide
  taxonsync sync --kinds authors,products --platforms shopA`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Execute(cmd.Context(), app, cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().Bool("dry-run", false, "report planned actions without writing")
	cmd.Flags().StringSliceVar(&flags.Kinds, "kinds", nil, "only sync these kinds (comma-separated)")
	cmd.Flags().StringSliceVar(&flags.Platforms, "platforms", nil, "only sync these platforms (comma-separated)")
	cmd.Flags().Int("concurrency", constants.DefaultConcurrency, "entities synced in parallel per platform")
	cmd.Flags().Int("page-size", constants.DefaultPageSize, "entities fetched per page")
	cmd.Flags().Int("max-relocations", constants.DefaultMaxRelocations, "relocation attempts per unique key conflict")
	cmd.Flags().Duration("timeout", constants.SyncTimeout, "overall run timeout")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

// Execute runs one sync with the app's configuration and renders the report.
func Execute(ctx context.Context, app application.Application, w io.Writer, flags *Flags) error {
	cfg := app.Config()
	logger := app.Logger()

	store, closeStore, err := wiring.OpenStore(cfg.Store)
	if err != nil {
		return err
	}
	app.OnShutdown(closeStore)

	platforms, err := wiring.BuildPlatforms(app.Viper(), cfg.Platforms)
	if err != nil {
		return err
	}
	specs, err := cfg.KindSpecs()
	if err != nil {
		return err
	}

	m := metrics.New()
	wiring.ServeMetrics(app, m, cfg.MetricsAddr)

	client, err := taxonsync.New(
		taxonsync.WithStore(store),
		taxonsync.WithPlatforms(platforms...),
		taxonsync.WithKinds(specs...),
		taxonsync.WithRetryPolicy(cfg.Retry.Policy()),
		taxonsync.WithRetryNotify(m.RetryNotify()),
		taxonsync.WithObserver(m),
		taxonsync.WithSyncOptions(
			engine.WithDryRun(cfg.DryRun),
			engine.WithConcurrency(cfg.Concurrency),
			engine.WithPageSize(cfg.PageSize),
			engine.WithMaxRelocations(cfg.MaxRelocations),
			engine.WithTimeout(cfg.Timeout),
		),
	)
	if err != nil {
		return err
	}

	opts, err := filters(client, flags)
	if err != nil {
		return err
	}

	ctx = logging.WithLogger(ctx, logger)
	logger.Info().
		Str("store", cfg.Store.Type).
		Int("platforms", len(platforms)).
		Bool("dry_run", cfg.DryRun).
		Msg("Starting sync")

	r, err := client.Sync(ctx, opts...)
	return application.Finish(app, w, r, err)
}

// filters turns --kinds and --platforms into run options, rejecting names
// the client does not know.
func filters(client taxonsync.Client, flags *Flags) ([]engine.Option, error) {
	var opts []engine.Option
	if len(flags.Kinds) > 0 {
		kinds := make([]catalog.Kind, 0, len(flags.Kinds))
		for _, name := range flags.Kinds {
			kind, err := catalog.ParseKind(name)
			if err != nil {
				return nil, err
			}
			kinds = append(kinds, kind)
		}
		opts = append(opts, engine.WithKinds(kinds...))
	}
	if len(flags.Platforms) > 0 {
		ids := make([]catalog.PlatformID, 0, len(flags.Platforms))
		for _, id := range flags.Platforms {
			if _, err := client.Platform(catalog.PlatformID(id)); err != nil {
				return nil, err
			}
			ids = append(ids, catalog.PlatformID(id))
		}
		opts = append(opts, engine.WithPlatforms(ids...))
	}
	return opts, nil
}
