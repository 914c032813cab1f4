package geometry

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/JakeFAU/terrain-tiler/internal/tile"
	"github.com/JakeFAU/terrain-tiler/internal/vector"
)

// ClassifyFunc decides whether and where a feature belongs in d. It owns
// category assignment, geometry extraction and any validity handling.
type ClassifyFunc func(d Dict, f *geojson.Feature)

// Collect passes every feature of src, restricted to bbox when non-nil, to
// classify and returns the resulting Dict. When existing is nil a new Dict is
// allocated; otherwise existing is extended in place and returned.
func Collect(ctx context.Context, src vector.Source, classify ClassifyFunc, bbox *orb.Bound, existing Dict) (Dict, error) {
	d := existing
	if d == nil {
		d = make(Dict)
	}
	err := src.Features(ctx, bbox, func(f *geojson.Feature) error {
		classify(d, f)
		return nil
	})
	if err != nil {
		return d, fmt.Errorf("collect from %s: %w", src.Name(), err)
	}
	return d, nil
}

// Within restricts classify to features owned by chunk. The owner is the
// chunk holding the centre of the feature's bound, clamped into outer, so a
// feature that only partly overlaps the tile still has one. Chunks are
// half-open except along the outer north and east edges, so every feature
// intersecting outer is accepted by exactly one chunk of a tile.
func Within(chunk, outer orb.Bound, classify ClassifyFunc) ClassifyFunc {
	return func(d Dict, f *geojson.Feature) {
		if f.Geometry == nil {
			return
		}
		c := clampPoint(f.Geometry.Bound().Center(), outer)
		if !tile.Owns(chunk, outer, c) {
			return
		}
		classify(d, f)
	}
}

// clampPoint moves p onto the nearest point of b. For a bound intersecting b,
// the clamped centre lies inside the intersection.
func clampPoint(p orb.Point, b orb.Bound) orb.Point {
	return orb.Point{
		math.Min(math.Max(p[0], b.Min[0]), b.Max[0]),
		math.Min(math.Max(p[1], b.Min[1]), b.Max[1]),
	}
}
