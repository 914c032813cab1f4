// Package geometry accumulates classified polygons per category.
//
// A Dict maps a category name to the polygons collected for it, in the order
// they were added. Collect fills a Dict from a vector.Source through a
// caller-supplied ClassifyFunc. A Dict is single-writer: concurrent tasks must
// each collect into their own Dict and the results merged once the tasks have
// finished.
package geometry
