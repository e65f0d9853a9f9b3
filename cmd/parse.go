package cmd

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gogpu/gg"

	"github.com/lehigh-university-libraries/quadocr/pkg/quad"
)

// parsePoint parses "x,y".
func parsePoint(s string) (gg.Point, error) {
	values, err := parseFloats(s, 2)
	if err != nil {
		return gg.Point{}, fmt.Errorf("invalid point %q: %w", s, err)
	}
	return gg.Pt(values[0], values[1]), nil
}

// parseQuad parses four points, top left then clockwise, separated by
// spaces or semicolons: "x,y x,y x,y x,y".
func parseQuad(s string) (quad.Quad, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ';' || r == '\t'
	})
	if len(fields) != 4 {
		return quad.Quad{}, fmt.Errorf("invalid quad %q: want 4 points, got %d", s, len(fields))
	}

	var pts [4]gg.Point
	for i, f := range fields {
		p, err := parsePoint(f)
		if err != nil {
			return quad.Quad{}, err
		}
		pts[i] = p
	}
	return quad.New(pts[0], pts[1], pts[2], pts[3]), nil
}

// parseMatrix parses the six affine coefficients "a,b,c,d,e,f", mapping
// (x, y) to (a*x + b*y + c, d*x + e*y + f). An empty string is the
// identity.
func parseMatrix(s string) (gg.Matrix, error) {
	if strings.TrimSpace(s) == "" {
		return gg.Identity(), nil
	}
	v, err := parseFloats(s, 6)
	if err != nil {
		return gg.Matrix{}, fmt.Errorf("invalid matrix %q: %w", s, err)
	}
	m := gg.Matrix{A: v[0], B: v[1], C: v[2], D: v[3], E: v[4], F: v[5]}
	if m.A*m.E-m.B*m.D == 0 {
		return gg.Matrix{}, fmt.Errorf("invalid matrix %q: not invertible", s)
	}
	return m, nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d comma separated numbers, got %d", n, len(parts))
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%q is not a finite number", strings.TrimSpace(p))
		}
		out[i] = v
	}
	return out, nil
}

func formatPoint(p gg.Point) string {
	return strconv.FormatFloat(p.X, 'f', -1, 64) + "," + strconv.FormatFloat(p.Y, 'f', -1, 64)
}

func formatQuad(q quad.Quad) string {
	corners := q.Corners()
	parts := make([]string, len(corners))
	for i, c := range corners {
		parts[i] = formatPoint(c)
	}
	return strings.Join(parts, " ")
}
