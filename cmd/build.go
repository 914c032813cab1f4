package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/terrain-tiler/internal/tile"
)

// newBuildCmd creates the 'build' subcommand, which builds one tile and
// blocks until it is written.
func newBuildCmd() *cobra.Command {
	var lat, lon int
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a single tile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuild(cmd, tile.Tile{Lat: lat, Lon: lon})
		},
	}
	cmd.Flags().IntVar(&lat, "lat", 0, "latitude of the tile's south edge")
	cmd.Flags().IntVar(&lon, "lon", 0, "longitude of the tile's west edge")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func runBuild(cmd *cobra.Command, t tile.Tile) error {
	if err := t.Validate(); err != nil {
		return err
	}
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := appFactory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
			app.Logger().Warn("Failed to close application", zap.Error(cerr))
		}
	}()

	report, err := app.BuildTile(ctx, t)
	if err != nil {
		return fmt.Errorf("build %s: %w", t, err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s polygons=%d bytes=%d sha256=%s run=%s\n",
		t.Name(), report.Result.URI, report.Result.Polygons, report.Result.Bytes,
		report.Result.Digest, report.RunID)
	return err
}
