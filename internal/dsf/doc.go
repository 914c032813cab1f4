// Package dsf renders collected polygons into the DSFTool text format.
//
// The text file for a tile has three blocks:
//
//	PROPERTY sim/planet earth
//	PROPERTY sim/overlay 1
//	PROPERTY sim/west 10
//	PROPERTY sim/east 11
//	PROPERTY sim/south 45
//	PROPERTY sim/north 46
//	PROPERTY sim/exclude_for 10/45/11/46
//	POLYGON_DEF lib/forest.for
//	POLYGON_DEF lib/water.pol
//	BEGIN_POLYGON 0 255
//	BEGIN_WINDING
//	POLYGON_POINT 10.1000000 45.1000000
//	...
//	END_WINDING
//	END_POLYGON
//
// Categories are visited in ascending order in both the definition and body
// blocks, so output depends only on the content of the geometry.Dict and never
// on insertion order. A definition's position in that order is the index used
// by BEGIN_POLYGON. One exclusion line is written per Options.Exclusions entry.
// With Options.IndexComments each polygon is preceded by a "# polygon N"
// comment carrying its sequence number across the whole body.
package dsf
