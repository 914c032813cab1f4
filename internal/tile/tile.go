// Package tile models the one-degree geographic cells scenery is built in.
package tile

import (
	"fmt"
	"math"
	"path"

	"github.com/paulmach/orb"
)

// Tile is a one-degree by one-degree cell identified by its south-west corner.
type Tile struct {
	Lat int `json:"lat"`
	Lon int `json:"lon"`
}

// Validate checks that the cell lies on the globe.
func (t Tile) Validate() error {
	if t.Lat < -90 || t.Lat > 89 {
		return fmt.Errorf("latitude %d out of range [-90, 89]", t.Lat)
	}
	if t.Lon < -180 || t.Lon > 179 {
		return fmt.Errorf("longitude %d out of range [-180, 179]", t.Lon)
	}
	return nil
}

// Bound returns the cell extent in lon/lat degrees.
func (t Tile) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(t.Lon), float64(t.Lat)},
		Max: orb.Point{float64(t.Lon + 1), float64(t.Lat + 1)},
	}
}

// Name returns the signed short name used for tile files, e.g. "+45-123".
func (t Tile) Name() string {
	return fmt.Sprintf("%+03d%+04d", t.Lat, t.Lon)
}

// Dir returns the ten-degree directory the tile is filed under, e.g. "+40-130".
func (t Tile) Dir() string {
	lat := int(math.Floor(float64(t.Lat)/10)) * 10
	lon := int(math.Floor(float64(t.Lon)/10)) * 10
	return Tile{Lat: lat, Lon: lon}.Name()
}

// TextPath returns the relative path of the tile's text representation.
func (t Tile) TextPath() string {
	return path.Join("Earth nav data", t.Dir(), t.Name()+".txt")
}

func (t Tile) String() string {
	return t.Name()
}

// Chunks splits the cell into n×n equal sub-bounds in row-major order, south
// to north and west to east. n below 1 is treated as 1.
func (t Tile) Chunks(n int) []orb.Bound {
	if n < 1 {
		n = 1
	}
	step := 1.0 / float64(n)
	out := make([]orb.Bound, 0, n*n)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			minLon := float64(t.Lon) + float64(col)*step
			minLat := float64(t.Lat) + float64(row)*step
			maxLon := float64(t.Lon) + float64(col+1)*step
			maxLat := float64(t.Lat) + float64(row+1)*step
			if col == n-1 {
				maxLon = float64(t.Lon + 1)
			}
			if row == n-1 {
				maxLat = float64(t.Lat + 1)
			}
			out = append(out, orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}})
		}
	}
	return out
}

// Owns reports whether p falls in the half-open bound [min, max). Points on
// the outer north or east edge of the tile belong to the last row or column.
func Owns(b orb.Bound, tileBound orb.Bound, p orb.Point) bool {
	inLon := p[0] >= b.Min[0] && (p[0] < b.Max[0] || (b.Max[0] == tileBound.Max[0] && p[0] == b.Max[0]))
	inLat := p[1] >= b.Min[1] && (p[1] < b.Max[1] || (b.Max[1] == tileBound.Max[1] && p[1] == b.Max[1]))
	return inLon && inLat
}
