package quad

import "github.com/gogpu/gg"

// BuildInsetPath returns the closed path of the part of the quadrilateral
// tl, tr, br, bl between horizontal ratios start and end.
func BuildInsetPath(tl, tr, br, bl gg.Point, start, end float64) *gg.Path {
	return New(tl, tr, br, bl).InsetPath(start, end)
}

// Inset returns the sub-quad between horizontal ratios start and end. Its
// left and right edges join the top and bottom edges at those ratios.
// Ratios are not clamped: values outside [0, 1] extrapolate past the edges
// and start may be greater than end.
func (q Quad) Inset(start, end float64) Quad {
	return Quad{
		TL: q.TL.Lerp(q.TR, start),
		TR: q.TL.Lerp(q.TR, end),
		BR: q.BL.Lerp(q.BR, end),
		BL: q.BL.Lerp(q.BR, start),
	}
}

// InsetPath returns the outline of Inset(start, end). Inset(0, 1) is the
// whole quad; equal ratios give a zero-area path along a single line.
func (q Quad) InsetPath(start, end float64) *gg.Path {
	return q.Inset(start, end).Path()
}
