package quad

import (
	"math"
	"testing"

	"github.com/gogpu/gg"
)

func pathPoints(t *testing.T, p *gg.Path) []gg.Point {
	t.Helper()
	var pts []gg.Point
	closed := false
	for _, el := range p.Elements() {
		switch e := el.(type) {
		case gg.MoveTo:
			pts = append(pts, e.Point)
		case gg.LineTo:
			pts = append(pts, e.Point)
		case gg.Close:
			closed = true
		default:
			t.Fatalf("unexpected path element %T", el)
		}
	}
	if !closed {
		t.Fatal("path is not closed")
	}
	return pts
}

func samePoint(a, b gg.Point) bool {
	return almostEqual(a.X, b.X) && almostEqual(a.Y, b.Y)
}

func TestBuildInsetPathFullQuad(t *testing.T) {
	q := New(gg.Pt(100, 120), gg.Pt(500, 90), gg.Pt(530, 640), gg.Pt(120, 660))

	pts := pathPoints(t, BuildInsetPath(q.TL, q.TR, q.BR, q.BL, 0, 1))
	want := q.Corners()
	if len(pts) != len(want) {
		t.Fatalf("got %d points, want %d", len(pts), len(want))
	}
	for i := range want {
		if !samePoint(pts[i], want[i]) {
			t.Errorf("point %d = %v, want %v", i, pts[i], want[i])
		}
	}
}

func TestBuildInsetPathSquare(t *testing.T) {
	pts := pathPoints(t, square.InsetPath(0.25, 0.75))

	want := []gg.Point{
		gg.Pt(2.5, 10),
		gg.Pt(7.5, 10),
		gg.Pt(7.5, 0),
		gg.Pt(2.5, 0),
	}
	for i := range want {
		if !samePoint(pts[i], want[i]) {
			t.Errorf("point %d = %v, want %v", i, pts[i], want[i])
		}
	}

	bbox := square.InsetPath(0.25, 0.75).BoundingBox()
	if !almostEqual(bbox.Min.X, 2.5) || !almostEqual(bbox.Max.X, 7.5) {
		t.Errorf("bounding box x = [%v, %v], want [2.5, 7.5]", bbox.Min.X, bbox.Max.X)
	}
}

func TestBuildInsetPathZeroWidth(t *testing.T) {
	quads := []Quad{
		square,
		Unit,
		New(gg.Pt(100, 120), gg.Pt(500, 90), gg.Pt(530, 640), gg.Pt(120, 660)),
	}
	for _, q := range quads {
		for _, r := range []float64{0, 0.3, 0.5, 1, 1.7, -0.2} {
			if area := q.InsetPath(r, r).Area(); math.Abs(area) > tolerance {
				t.Errorf("InsetPath(%v, %v).Area() = %v, want 0", r, r, area)
			}
		}
	}
}

func TestInsetExtrapolatesAndKeepsOrder(t *testing.T) {
	tests := []struct {
		name       string
		start, end float64
		wantTL     gg.Point
		wantTR     gg.Point
	}{
		{"outside both edges", -0.5, 1.5, gg.Pt(-5, 10), gg.Pt(15, 10)},
		{"reversed", 0.8, 0.2, gg.Pt(8, 10), gg.Pt(2, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := square.Inset(tt.start, tt.end)
			if !samePoint(got.TL, tt.wantTL) {
				t.Errorf("TL = %v, want %v", got.TL, tt.wantTL)
			}
			if !samePoint(got.TR, tt.wantTR) {
				t.Errorf("TR = %v, want %v", got.TR, tt.wantTR)
			}
		})
	}
}

func TestInsetDegenerateQuad(t *testing.T) {
	q := New(gg.Pt(5, 0), gg.Pt(5, 0), gg.Pt(10, 10), gg.Pt(0, 10))
	pts := pathPoints(t, q.InsetPath(0.2, 0.6))
	if !samePoint(pts[0], pts[1]) {
		t.Errorf("top edge of inset = %v → %v, want a single point", pts[0], pts[1])
	}
	for _, p := range pts {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) {
			t.Fatalf("inset produced NaN point %v", p)
		}
	}
}
