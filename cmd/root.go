// Package cmd defines the CLI commands for the tiler executable.
//
// Architecture overview:
//   - build: loads the configured vector sources, extracts every source × chunk
//     pair on a bounded worker pool, merges the per-chunk geometry and writes
//     the tile text file to the configured blob store (local, GCS or memory).
//   - serve: exposes the HTTP API; POST /v1/tiles queues a build on a
//     long-lived dispatcher, GET /v1/runs/{run_id} reports progress persisted
//     through the progress hub (memory or Postgres). Completed builds are
//     announced on Pub/Sub when a topic is configured.
//   - Configuration: Viper reads an optional YAML file and TILER_* environment
//     overrides; zap provides structured logging; Prometheus metrics are served
//     on /metrics.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/terrain-tiler/internal/config"
	"github.com/JakeFAU/terrain-tiler/internal/server"
)

type configKeyType struct{}

// appFactory builds the application. It's a variable so tests can register
// metrics on a private registry.
var appFactory = func(ctx context.Context, cfg config.Config) (*server.App, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "tiler",
		Short: "Builds terrain overlay tiles from vector data.",
		Long: `tiler classifies vector features into polygon categories and writes one
text tile per one-degree cell. Tiles are built either on demand from the
command line or queued through the HTTP API.`,
		SilenceUsage: true,

		// Runs before the subcommand's RunE so every subcommand sees the same
		// validated configuration.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKeyType{}, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.AddCommand(newBuildCmd(), newServeCmd())
	return cmd
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKeyType{}).(config.Config)
	if !ok {
		return config.Config{}, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
