package geometry

import "github.com/paulmach/orb"

// Orient returns a copy of p with the exterior ring counter-clockwise and
// every hole clockwise. Degenerate rings keep their point order.
func Orient(p orb.Polygon) orb.Polygon {
	out := p.Clone()
	for i, ring := range out {
		want := orb.CW
		if i == 0 {
			want = orb.CCW
		}
		if o := ring.Orientation(); o != 0 && o != want {
			ring.Reverse()
		}
	}
	return out
}
