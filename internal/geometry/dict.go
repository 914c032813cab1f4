package geometry

import (
	"sort"

	"github.com/paulmach/orb"
)

// Dict maps a polygon category to its polygons.
type Dict map[string][]orb.Polygon

// Definition is the serialized definition and attribute text of a category.
type Definition struct {
	Def  string `mapstructure:"definition" json:"definition"`
	Attr string `mapstructure:"attribute" json:"attribute"`
}

// Definitions maps a polygon category to its Definition.
type Definitions map[string]Definition

// Add appends polygons to a category.
func (d Dict) Add(category string, polys ...orb.Polygon) {
	d[category] = append(d[category], polys...)
}

// Categories returns the category names in ascending order.
func (d Dict) Categories() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Polygons returns the total number of polygons across categories.
func (d Dict) Polygons() int {
	n := 0
	for _, polys := range d {
		n += len(polys)
	}
	return n
}

// Merge appends every polygon of src to dst, visiting categories in sorted
// order, and returns dst. A nil dst is allocated.
func Merge(dst, src Dict) Dict {
	if dst == nil {
		dst = make(Dict, len(src))
	}
	for _, k := range src.Categories() {
		dst.Add(k, src[k]...)
	}
	return dst
}
