package tile

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func TestTileNaming(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tile Tile
		name string
		dir  string
	}{
		{tile: Tile{Lat: 45, Lon: -123}, name: "+45-123", dir: "+40-130"},
		{tile: Tile{Lat: -1, Lon: 10}, name: "-01+010", dir: "-10+010"},
		{tile: Tile{Lat: 0, Lon: 0}, name: "+00+000", dir: "+00+000"},
		{tile: Tile{Lat: -90, Lon: -180}, name: "-90-180", dir: "-90-180"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.name, tt.tile.Name())
			require.Equal(t, tt.dir, tt.tile.Dir())
		})
	}
	require.Equal(t, "Earth nav data/+40-130/+45-123.txt", Tile{Lat: 45, Lon: -123}.TextPath())
}

func TestTileValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Tile{Lat: 89, Lon: 179}.Validate())
	require.Error(t, Tile{Lat: 90, Lon: 0}.Validate())
	require.Error(t, Tile{Lat: 0, Lon: -181}.Validate())
}

func TestTileBoundIsOneDegree(t *testing.T) {
	t.Parallel()

	b := Tile{Lat: 45, Lon: -123}.Bound()
	require.Equal(t, orb.Point{-123, 45}, b.Min)
	require.Equal(t, orb.Point{-122, 46}, b.Max)
}

func TestChunksCoverTile(t *testing.T) {
	t.Parallel()

	tl := Tile{Lat: 10, Lon: 20}
	chunks := tl.Chunks(2)
	require.Len(t, chunks, 4)
	require.Equal(t, orb.Bound{Min: orb.Point{20, 10}, Max: orb.Point{20.5, 10.5}}, chunks[0])
	require.Equal(t, orb.Bound{Min: orb.Point{20.5, 10.5}, Max: orb.Point{21, 11}}, chunks[3])
	require.Len(t, tl.Chunks(0), 1)
}

func TestOwnsAssignsEachPointToOneChunk(t *testing.T) {
	t.Parallel()

	tl := Tile{Lat: 10, Lon: 20}
	chunks := tl.Chunks(3)
	points := []orb.Point{
		{20, 10}, {20.5, 10.5}, {21, 11}, {21, 10}, {20, 11},
		{20 + 1.0/3, 10 + 1.0/3}, {20.999, 10.001},
	}
	for _, p := range points {
		owners := 0
		for _, c := range chunks {
			if Owns(c, tl.Bound(), p) {
				owners++
			}
		}
		require.Equalf(t, 1, owners, "point %v owned by %d chunks", p, owners)
	}
}
