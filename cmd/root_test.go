package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/terrain-tiler/internal/config"
	"github.com/JakeFAU/terrain-tiler/internal/server"
)

const lakeGeoJSON = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"natural":"water"},
 "geometry":{"type":"Polygon","coordinates":[[[10.2,45.2],[10.4,45.2],[10.4,45.4],[10.2,45.4],[10.2,45.2]]]}}]}`

func writeTestConfig(t *testing.T) (cfgPath, outDir string) {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "lakes.geojson")
	require.NoError(t, os.WriteFile(src, []byte(lakeGeoJSON), 0o600))
	outDir = filepath.Join(dir, "out")

	body := fmt.Sprintf(`
build:
  workers: 2
  chunks_per_side: 2
output:
  provider: local
  base_dir: %q
sources:
  - name: lakes
    path: %q
categories:
  - category: water
    property: natural
    values: [water]
    definition: lib/g10/water.pol
    attribute: "0"
progress:
  max_batch_wait: 10ms
logging:
  development: false
  level: error
`, outDir, src)
	cfgPath = filepath.Join(dir, "tiler.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath, outDir
}

func useTestFactory(t *testing.T) {
	t.Helper()
	prev := appFactory
	appFactory = func(ctx context.Context, cfg config.Config) (*server.App, error) {
		return server.Build(ctx, cfg,
			server.WithLogger(zap.NewNop()),
			server.WithRegisterer(prometheus.NewRegistry()),
		)
	}
	t.Cleanup(func() { appFactory = prev })
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBuildCommandWritesTile(t *testing.T) {
	useTestFactory(t)
	cfgPath, outDir := writeTestConfig(t)

	out, err := execute("build", "--config", cfgPath, "--lat", "45", "--lon", "10")
	require.NoError(t, err)
	require.Contains(t, out, "+45+010")
	require.Contains(t, out, "polygons=1")

	_, err = os.Stat(filepath.Join(outDir, "Earth nav data", "+40+010", "+45+010.txt"))
	require.NoError(t, err)
}

func TestBuildCommandRejectsInvalidTile(t *testing.T) {
	useTestFactory(t)
	cfgPath, _ := writeTestConfig(t)

	_, err := execute("build", "--config", cfgPath, "--lat", "90", "--lon", "10")
	require.Error(t, err)
}

func TestBuildCommandRequiresCoordinates(t *testing.T) {
	useTestFactory(t)
	cfgPath, _ := writeTestConfig(t)

	_, err := execute("build", "--config", cfgPath, "--lat", "45")
	require.ErrorContains(t, err, "lon")
}

func TestRootFailsOnMissingConfig(t *testing.T) {
	useTestFactory(t)

	_, err := execute("build", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--lat", "1", "--lon", "1")
	require.ErrorContains(t, err, "load config")
}
