package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/terrain-tiler/internal/config"
	"github.com/JakeFAU/terrain-tiler/internal/geometry"
	"github.com/JakeFAU/terrain-tiler/internal/store"
	"github.com/JakeFAU/terrain-tiler/internal/tile"
)

const waterGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"natural": "water"},
      "geometry": {"type": "Polygon", "coordinates": [[[-122.8, 45.2], [-122.6, 45.2], [-122.6, 45.4], [-122.8, 45.4], [-122.8, 45.2]]]}
    },
    {
      "type": "Feature",
      "properties": {"natural": "water"},
      "geometry": {"type": "Polygon", "coordinates": [[[-122.3, 45.7], [-122.1, 45.7], [-122.1, 45.9], [-122.3, 45.9], [-122.3, 45.7]]]}
    },
    {
      "type": "Feature",
      "properties": {"natural": "scrub"},
      "geometry": {"type": "Polygon", "coordinates": [[[-122.5, 45.5], [-122.4, 45.5], [-122.4, 45.6], [-122.5, 45.6], [-122.5, 45.5]]]}
    }
  ]
}`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "water.geojson")
	require.NoError(t, os.WriteFile(src, []byte(waterGeoJSON), 0o600))

	return config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeout: 5 * time.Second},
		Build:  config.BuildConfig{Workers: 3, ChunksPerSide: 2, Decimals: 7, Builders: 2},
		Output: config.OutputConfig{Provider: config.ProviderLocal, BaseDir: filepath.Join(dir, "out")},
		Sources: []config.SourceConfig{
			{Name: "water", Path: src},
		},
		Categories: geometry.Rules{
			{Category: "water", Property: "natural", Values: []string{"water"}, Definition: "lib/g10/water.pol"},
		},
		Progress: config.ProgressConfig{BufferSize: 64, MaxBatchEvents: 16, MaxBatchWait: 10 * time.Millisecond},
	}
}

func buildApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	app, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	return app
}

func TestBuildTileWritesLocalFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Build.Exclusions = []string{"pol"}
	app := buildApp(t, cfg)

	report, err := app.BuildTile(context.Background(), tile.Tile{Lat: 45, Lon: -123})
	require.NoError(t, err)
	require.Equal(t, 2, report.Result.Polygons)
	require.Equal(t, 1, report.Result.Definitions)
	require.NoError(t, app.Close(context.Background()))

	data, err := os.ReadFile(filepath.Join(cfg.Output.BaseDir, "Earth nav data", "+40-130", "+45-123.txt"))
	require.NoError(t, err)
	text := string(data)
	require.Contains(t, text, "PROPERTY sim/north 46\nPROPERTY sim/exclude_pol -123/45/-122/46\nPOLYGON_DEF lib/g10/water.pol\n")
	require.NotContains(t, text, "# polygon")
	require.Equal(t, 2, strings.Count(text, "BEGIN_POLYGON 0"))
	require.Contains(t, text, "POLYGON_POINT -122.8000000 45.2000000")

	run, err := app.Runs().GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, run.Status)
	require.Equal(t, int64(2), run.Polygons)
	require.Equal(t, 100, run.Bars[1])
}

func TestServeBuildsSubmittedTiles(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Output = config.OutputConfig{Provider: config.ProviderMemory}
	app := buildApp(t, cfg)
	require.NoError(t, app.Start(context.Background()))

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	body := bytes.NewBufferString(`{"lat":45,"lon":-123}`)
	resp, err := http.Post(srv.URL+"/v1/tiles", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted struct {
		RunID string `json:"run_id"`
		Tile  string `json:"tile"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	require.Equal(t, "+45-123", accepted.Tile)
	runID, err := uuid.Parse(accepted.RunID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		run, err := app.Runs().GetRun(context.Background(), runID)
		return err == nil && run.Status == store.RunSuccess
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Close(ctx))

	resp2, err := http.Post(srv.URL+"/v1/tiles", "application/json", bytes.NewBufferString(`{"lat":1,"lon":1}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestBuildFailsForUnwritableOutput(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	cfg.Output.BaseDir = file

	_, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.ErrorContains(t, err, "local blob store init failed")
}

func TestBuildRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	reg := prometheus.NewRegistry()
	first, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithRegisterer(reg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close(context.Background()) })
	_, err = Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithRegisterer(reg))
	require.ErrorContains(t, err, "progress metrics init failed")
}
