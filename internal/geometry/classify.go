package geometry

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Rule assigns features with a matching property to a category.
type Rule struct {
	Category string   `mapstructure:"category"`
	Property string   `mapstructure:"property"`
	Values   []string `mapstructure:"values"`
	// MinArea drops polygons whose planar area, in squared degrees, is smaller.
	MinArea    float64 `mapstructure:"min_area"`
	Definition string  `mapstructure:"definition"`
	Attribute  string  `mapstructure:"attribute"`
}

func (r Rule) matches(props geojson.Properties) bool {
	v, ok := props[r.Property]
	if !ok {
		return false
	}
	if len(r.Values) == 0 {
		return true
	}
	s := fmt.Sprint(v)
	for _, want := range r.Values {
		if s == want {
			return true
		}
	}
	return false
}

// Rules is an ordered rule list; the first matching rule wins.
type Rules []Rule

// Validate checks that every rule names a category, a property and a
// definition, and that a category is not bound to two different definitions.
func (rs Rules) Validate() error {
	seen := make(map[string]Definition, len(rs))
	for i, r := range rs {
		if r.Category == "" || r.Property == "" || r.Definition == "" {
			return fmt.Errorf("rule %d: category, property and definition are required", i)
		}
		def := Definition{Def: r.Definition, Attr: r.Attribute}
		if prev, ok := seen[r.Category]; ok && prev != def {
			return fmt.Errorf("rule %d: category %q has conflicting definitions", i, r.Category)
		}
		seen[r.Category] = def
	}
	return nil
}

// Definitions returns the definition of every category the rules can produce.
func (rs Rules) Definitions() Definitions {
	defs := make(Definitions, len(rs))
	for _, r := range rs {
		if _, ok := defs[r.Category]; !ok {
			defs[r.Category] = Definition{Def: r.Definition, Attr: r.Attribute}
		}
	}
	return defs
}

// Classify is a ClassifyFunc. Polygon and MultiPolygon geometries of the first
// matching rule are added to its category; other geometry types are ignored.
func (rs Rules) Classify(d Dict, f *geojson.Feature) {
	if f == nil || f.Geometry == nil {
		return
	}
	for _, r := range rs {
		if !r.matches(f.Properties) {
			continue
		}
		for _, p := range polygons(f.Geometry) {
			if r.MinArea > 0 && planar.Area(p) < r.MinArea {
				continue
			}
			d.Add(r.Category, p)
		}
		return
	}
}

func polygons(g orb.Geometry) []orb.Polygon {
	switch v := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{v}
	case orb.MultiPolygon:
		return v
	default:
		return nil
	}
}
