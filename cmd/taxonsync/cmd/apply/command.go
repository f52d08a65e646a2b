// Package apply implements the apply command.
package apply

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/taxonsync"
	"github.com/agentstation/taxonsync/internal/cmd/application"
	"github.com/agentstation/taxonsync/internal/cmd/wiring"
	"github.com/agentstation/taxonsync/internal/metrics"
	"github.com/agentstation/taxonsync/internal/tabular/csvfile"
	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/constants"
	"github.com/agentstation/taxonsync/pkg/logging"
)

// NewCommand creates the apply command using app context.
func NewCommand(app application.Application) *cobra.Command {
	var platformID, kindName string

	cmd := &cobra.Command{
		Use:     "apply <file.csv>",
		GroupID: "core",
		Short:   "Apply a CSV snapshot to one platform",
		Long: `Apply reads a CSV file with one row per resource and applies the
action column of every row to a platform: create, update, delete, publish,
unpublish, skip or none. An empty action means none.

Unless --dry-run is set, the file is rewritten afterwards with the
external ids assigned by the platform and every applied action reset to
none, so applying the same file twice is a no-op.`,
		Example: `  taxonsync apply publishers.csv --platform shopA --kind publisher
  taxonsync apply catalog.csv --platform shopA --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config()

			var kind catalog.Kind
			if kindName != "" {
				k, err := catalog.ParseKind(kindName)
				if err != nil {
					return err
				}
				kind = k
			}

			platforms, err := wiring.BuildPlatforms(app.Viper(), cfg.Platforms)
			if err != nil {
				return err
			}

			m := metrics.New()
			wiring.ServeMetrics(app, m, cfg.MetricsAddr)

			client, err := taxonsync.New(
				taxonsync.WithPlatforms(platforms...),
				taxonsync.WithRetryPolicy(cfg.Retry.Policy()),
				taxonsync.WithRetryNotify(m.RetryNotify()),
				taxonsync.WithObserver(m),
			)
			if err != nil {
				return err
			}

			ctx := logging.WithLogger(cmd.Context(), app.Logger())
			r, err := client.Apply(ctx, csvfile.New(args[0], kind), catalog.PlatformID(platformID),
				taxonsync.WithApplyDryRun(cfg.DryRun),
				taxonsync.WithApplyConcurrency(cfg.Concurrency),
				taxonsync.WithApplyMaxRelocations(cfg.MaxRelocations),
			)
			return application.Finish(app, cmd.OutOrStdout(), r, err)
		},
	}

	cmd.Flags().StringVarP(&platformID, "platform", "p", "", "target platform id")
	cmd.Flags().StringVarP(&kindName, "kind", "k", "", "kind of rows without a kind column")
	cmd.Flags().Bool("dry-run", false, "report planned actions without writing")
	cmd.Flags().Int("concurrency", constants.DefaultConcurrency, "rows applied in parallel")
	cmd.Flags().Int("max-relocations", constants.DefaultMaxRelocations, "relocation attempts per unique key conflict")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	_ = cmd.MarkFlagRequired("platform")

	return cmd
}
