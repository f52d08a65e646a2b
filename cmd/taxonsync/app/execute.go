package app

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

// Execute runs the taxonsync CLI with the given arguments.
func (a *App) Execute(ctx context.Context, args []string) error {
	rootCmd := a.createRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(a.out)
	return rootCmd.ExecuteContext(ctx)
}

func (a *App) createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "taxonsync",
		Short:   "Catalog hierarchy synchronization",
		Version: a.version,
		Long: `Taxonsync mirrors a hierarchical catalog (authors, publishers, imprints,
collections and products) from a source of truth into external platforms.

Parents are always synchronized before their children, every external
identifier is written back to the source of truth, and unique key
conflicts on a platform are resolved by relocating the resource holding
the contested key.`,
		PersistentPreRunE: a.setupCommand,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "core", Title: "Core Commands:"})
	rootCmd.AddGroup(&cobra.Group{ID: "tools", Title: "Tools:"})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.flags.ConfigFile, "config", "", "config file (default is $HOME/.taxonsync.yaml)")
	flags.BoolVarP(&a.flags.Verbose, "verbose", "v", false, "verbose output (shortcut for --log-level=debug)")
	flags.BoolVarP(&a.flags.Quiet, "quiet", "q", false, "minimal output (shortcut for --log-level=warn)")
	flags.BoolVar(&a.flags.NoColor, "no-color", false, "disable colored output")
	flags.StringVarP(&a.flags.Format, "format", "o", "", "output format: table, json, yaml, wide")
	flags.StringVar(&a.flags.LogLevel, "log-level", "", "log level: trace, debug, info, warn, error (overrides -v/-q)")

	rootCmd.SetVersionTemplate("taxonsync {{.Version}}\n")

	rootCmd.AddCommand(a.CreateSyncCommand())
	rootCmd.AddCommand(a.CreateApplyCommand())
	rootCmd.AddCommand(a.CreateMockPlatformCommand())
	rootCmd.AddCommand(a.NewVersionCommand())

	return rootCmd
}

// setupCommand binds command flags to configuration keys and loads it.
func (a *App) setupCommand(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipConfig] == "true" {
		return nil
	}
	if a.flags.NoColor {
		_ = os.Setenv("NO_COLOR", "1")
	}
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := a.viper.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return a.loadConfig()
}

// flagKeys maps command flags onto the configuration keys they override.
var flagKeys = map[string]string{
	"dry-run":         "dry_run",
	"concurrency":     "concurrency",
	"page-size":       "page_size",
	"max-relocations": "max_relocations",
	"timeout":         "timeout",
	"metrics-addr":    "metrics_addr",
}

// ExitOnError prints err and exits with status 1. It is a no-op for nil.
func ExitOnError(err error) {
	if err != nil {
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
