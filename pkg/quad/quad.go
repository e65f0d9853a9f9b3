// Package quad maps between the rectangular, normalized space of a page
// image and the possibly skewed quadrilateral the page is displayed in.
//
// The package provides two primitives that a text overlay needs:
//
// - InsetPath builds the outline of the vertical slab of a quadrilateral
// between two horizontal ratios (0 is the left edge, 1 the right edge).
// It is used to draw the highlight over a run of selected text.
//
// - Ratio projects an arbitrary point onto a horizontal ratio within the
// quadrilateral. It is used to turn a mouse position into a selection
// boundary.
//
// Both are pure functions of their inputs. They never fail: degenerate
// quadrilaterals produce degenerate output instead of NaN or a panic, so
// they are safe to call from a drag handler on every mouse event.
package quad

import (
	"math"

	"github.com/gogpu/gg"
)

// Quad is a quadrilateral given by its corners, clockwise from the top left.
type Quad struct {
	TL gg.Point `json:"tl" yaml:"tl"`
	TR gg.Point `json:"tr" yaml:"tr"`
	BR gg.Point `json:"br" yaml:"br"`
	BL gg.Point `json:"bl" yaml:"bl"`
}

// Unit is the normalized image rectangle, origin at the top left and y
// growing downward.
var Unit = Quad{
	TL: gg.Pt(0, 0),
	TR: gg.Pt(1, 0),
	BR: gg.Pt(1, 1),
	BL: gg.Pt(0, 1),
}

// New creates a quad from its four corners.
func New(tl, tr, br, bl gg.Point) Quad {
	return Quad{TL: tl, TR: tr, BR: br, BL: bl}
}

// FromRect creates an axis-aligned quad from a rectangle whose Min corner
// is the top left.
func FromRect(r gg.Rect) Quad {
	return Quad{
		TL: r.Min,
		TR: gg.Pt(r.Max.X, r.Min.Y),
		BR: r.Max,
		BL: gg.Pt(r.Min.X, r.Max.Y),
	}
}

// Corners returns the corners in path order.
func (q Quad) Corners() [4]gg.Point {
	return [4]gg.Point{q.TL, q.TR, q.BR, q.BL}
}

// Map places the point (u, v) of the quad's own normalized space, u across
// and v down, into the quad's coordinate space by bilinear interpolation.
func (q Quad) Map(u, v float64) gg.Point {
	top := q.TL.Lerp(q.TR, u)
	bottom := q.BL.Lerp(q.BR, u)
	return top.Lerp(bottom, v)
}

// MapQuad places a quad given in q's normalized space into q's space.
func (q Quad) MapQuad(inner Quad) Quad {
	return Quad{
		TL: q.Map(inner.TL.X, inner.TL.Y),
		TR: q.Map(inner.TR.X, inner.TR.Y),
		BR: q.Map(inner.BR.X, inner.BR.Y),
		BL: q.Map(inner.BL.X, inner.BL.Y),
	}
}

// Transform applies m to every corner.
func (q Quad) Transform(m gg.Matrix) Quad {
	return Quad{
		TL: m.TransformPoint(q.TL),
		TR: m.TransformPoint(q.TR),
		BR: m.TransformPoint(q.BR),
		BL: m.TransformPoint(q.BL),
	}
}

// Bounds returns the axis-aligned bounding rectangle.
func (q Quad) Bounds() gg.Rect {
	r := gg.NewRect(q.TL, q.BR)
	r = r.Union(gg.NewRect(q.TR, q.BL))
	return r
}

// Area returns the signed shoelace area. The sign follows the winding of
// the corners in the quad's coordinate system.
func (q Quad) Area() float64 {
	c := q.Corners()
	var area float64
	for i := range c {
		area += c[i].Cross(c[(i+1)%len(c)])
	}
	return area / 2
}

// Degenerate reports whether the quad encloses no area.
func (q Quad) Degenerate() bool {
	eps := q.epsilon()
	return math.Abs(q.Area()) <= eps*q.scale()
}

// Convex reports whether every turn along the boundary goes the same way.
// Collinear corners are ignored.
func (q Quad) Convex() bool {
	c := q.Corners()
	eps := q.epsilon()
	var sign float64
	for i := range c {
		a := c[(i+1)%4].Sub(c[i])
		b := c[(i+2)%4].Sub(c[(i+1)%4])
		turn := a.Cross(b)
		if math.Abs(turn) <= eps {
			continue
		}
		if sign != 0 && math.Signbit(turn) != math.Signbit(sign) {
			return false
		}
		sign = turn
	}
	return true
}

// Path returns the closed outline TL, TR, BR, BL.
func (q Quad) Path() *gg.Path {
	path := gg.NewPath()
	path.MoveTo(q.TL.X, q.TL.Y)
	path.LineTo(q.TR.X, q.TR.Y)
	path.LineTo(q.BR.X, q.BR.Y)
	path.LineTo(q.BL.X, q.BL.Y)
	path.Close()
	return path
}

// scale is the length of the longest edge, never less than 1.
func (q Quad) scale() float64 {
	c := q.Corners()
	s := 1.0
	for i := range c {
		s = math.Max(s, c[i].Distance(c[(i+1)%4]))
	}
	return s
}

// epsilon is the tolerance used to guard divisions for this quad.
func (q Quad) epsilon() float64 {
	return 1e-9 * q.scale()
}
