package dsf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/paulmach/orb"

	"github.com/JakeFAU/terrain-tiler/internal/geometry"
	"github.com/JakeFAU/terrain-tiler/internal/tile"
)

// MinDecimals is the lowest coordinate precision accepted. Seven decimals of a
// degree resolve about one centimetre.
const MinDecimals = 7

// ErrMissingDefinition is returned when a category has polygons but no
// definition.
var ErrMissingDefinition = errors.New("missing polygon definition")

// Options tunes rendering.
type Options struct {
	// Decimals is the fixed number of decimals per coordinate; values below
	// MinDecimals are raised to it.
	Decimals int
	// Exclusions names scenery kinds (e.g. "obj", "for", "pol") whose default
	// layers are excluded over the whole tile.
	Exclusions []string
	// IndexComments precedes each polygon with a "# polygon N" line carrying
	// its body-wide index.
	IndexComments bool
}

func (o Options) decimals() int {
	if o.Decimals < MinDecimals {
		return MinDecimals
	}
	return o.Decimals
}

// Stats summarizes a rendering.
type Stats struct {
	Definitions int
	Polygons    int
}

// Render writes the text representation of d for t to w. Definitions are
// checked before anything is written.
func Render(w io.Writer, t tile.Tile, d geometry.Dict, defs geometry.Definitions, opts Options) (Stats, error) {
	categories := d.Categories()
	for _, c := range categories {
		if _, ok := defs[c]; !ok {
			return Stats{}, fmt.Errorf("%w for category %q", ErrMissingDefinition, c)
		}
	}

	r := renderer{w: bufio.NewWriter(w), decimals: opts.decimals(), comments: opts.IndexComments}
	r.header(t, opts.Exclusions)
	for _, c := range categories {
		r.line("POLYGON_DEF ", defs[c].Def)
	}

	n := 0
	for defIdx, c := range categories {
		attr := defs[c].Attr
		for _, poly := range d[c] {
			r.polygon(n, defIdx, attr, geometry.Orient(poly))
			n++
		}
	}
	if err := r.w.Flush(); err != nil {
		return Stats{}, fmt.Errorf("write tile text: %w", err)
	}
	return Stats{Definitions: len(categories), Polygons: n}, nil
}

type renderer struct {
	w        *bufio.Writer
	decimals int
	comments bool
	buf      []byte
}

func (r *renderer) header(t tile.Tile, exclusions []string) {
	r.line("PROPERTY sim/planet earth")
	r.line("PROPERTY sim/overlay 1")
	r.line("PROPERTY sim/west ", strconv.Itoa(t.Lon))
	r.line("PROPERTY sim/east ", strconv.Itoa(t.Lon+1))
	r.line("PROPERTY sim/south ", strconv.Itoa(t.Lat))
	r.line("PROPERTY sim/north ", strconv.Itoa(t.Lat+1))
	if len(exclusions) == 0 {
		return
	}
	extent := strconv.Itoa(t.Lon) + "/" + strconv.Itoa(t.Lat) + "/" + strconv.Itoa(t.Lon+1) + "/" + strconv.Itoa(t.Lat+1)
	for _, kind := range exclusions {
		r.line("PROPERTY sim/exclude_", kind, " ", extent)
	}
}

func (r *renderer) polygon(n, defIdx int, attr string, p orb.Polygon) {
	if r.comments {
		r.line("# polygon ", strconv.Itoa(n))
	}
	r.line("BEGIN_POLYGON ", strconv.Itoa(defIdx), " ", attr)
	for _, ring := range p {
		r.line("BEGIN_WINDING")
		for _, pt := range ring {
			r.point(pt)
		}
		r.line("END_WINDING")
	}
	r.line("END_POLYGON")
}

func (r *renderer) point(pt orb.Point) {
	r.buf = append(r.buf[:0], "POLYGON_POINT "...)
	r.buf = strconv.AppendFloat(r.buf, pt[0], 'f', r.decimals, 64)
	r.buf = append(r.buf, ' ')
	r.buf = strconv.AppendFloat(r.buf, pt[1], 'f', r.decimals, 64)
	r.buf = append(r.buf, '\n')
	// bufio.Writer keeps the first error and reports it on Flush.
	_, _ = r.w.Write(r.buf)
}

func (r *renderer) line(parts ...string) {
	for _, p := range parts {
		_, _ = r.w.WriteString(p)
	}
	_ = r.w.WriteByte('\n')
}
