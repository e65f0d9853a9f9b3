package quad

import (
	"math"

	"github.com/gogpu/gg"
)

// ProjectPointToRatio returns the horizontal ratio of p within the
// quadrilateral tl, tr, br, bl.
func ProjectPointToRatio(tl, tr, br, bl, p gg.Point) float64 {
	return New(tl, tr, br, bl).Ratio(p)
}

// Ratio returns the horizontal position of p in the quad, 0 on the left
// edge and 1 on the right edge.
//
// The height of p comes from VerticalRatio. At that height the left and
// right boundary points are interpolated along TL→BL and TR→BR, and p is
// projected onto the segment between them. The result is not clamped, so
// points outside the quad extrapolate.
//
// The result inverts Inset exactly when the top and bottom edges are
// parallel, as for rectangles, parallelograms and trapezoids. On a general
// skewed quad the height estimate differs from the bilinear one and the
// ratio can be off by up to about 1% of the width.
func (q Quad) Ratio(p gg.Point) float64 {
	eps := q.epsilon()
	v := q.VerticalRatio(p)
	left := q.TL.Lerp(q.BL, v)
	right := q.TR.Lerp(q.BR, v)
	return segmentRatio(left, right, p, q.topDirection(eps), eps)
}

// VerticalRatio returns the height of p in the quad, 0 on the top edge line
// and 1 on the bottom edge line, from the signed distances of p to both.
// When the two lines coincide the result is 0.
func (q Quad) VerticalRatio(p gg.Point) float64 {
	eps := q.epsilon()
	dTop := q.topDirection(eps).Cross(p.Sub(q.TL))
	dBottom := q.bottomDirection(eps).Cross(p.Sub(q.BL))
	den := dTop - dBottom
	if math.Abs(den) <= eps {
		return 0
	}
	return dTop / den
}

func (q Quad) topDirection(eps float64) gg.Point {
	return direction(q.TR.Sub(q.TL), q.BR.Sub(q.BL), eps)
}

func (q Quad) bottomDirection(eps float64) gg.Point {
	return direction(q.BR.Sub(q.BL), q.TR.Sub(q.TL), eps)
}

// segmentRatio is the parametric position of p projected on a→b. A
// zero-length segment yields 0 when p is on it and otherwise 0 or 1 by
// which side of a p lies along dir.
func segmentRatio(a, b, p, dir gg.Point, eps float64) float64 {
	d := b.Sub(a)
	off := p.Sub(a)
	lenSq := d.LengthSquared()
	if lenSq <= eps*eps {
		if off.Length() <= eps {
			return 0
		}
		if dir.Dot(off) > 0 {
			return 1
		}
		return 0
	}
	return off.Dot(d) / lenSq
}

// direction returns the unit vector of v, falling back to alt and then to
// +X when both are shorter than eps.
func direction(v, alt gg.Point, eps float64) gg.Point {
	if l := v.Length(); l > eps {
		return v.Div(l)
	}
	if l := alt.Length(); l > eps {
		return alt.Div(l)
	}
	return gg.Pt(1, 0)
}
