package overlay

import (
	"strings"

	"github.com/gogpu/gg"
	"github.com/golang/geo/r1"

	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
	"github.com/lehigh-university-libraries/quadocr/pkg/quad"
)

// Selection is the ratio interval chosen by the last drag and the lines it
// touches, in reading order. A cleared selection has an empty interval.
type Selection struct {
	Interval  r1.Interval
	Fragments []Fragment
}

// Fragment is the part of one line covered by a selection.
type Fragment struct {
	Line ocr.TextLine
	// Span is the line's ratio span within the display quad.
	Span r1.Interval
	// Local is the covered part of the line in the line's own ratios.
	Local r1.Interval

	screen quad.Quad
}

// HighlightPath outlines the covered part of the line on screen.
func (f Fragment) HighlightPath() *gg.Path {
	return f.screen.InsetPath(f.Local.Lo, f.Local.Hi)
}

// Text joins the selected lines.
func (s Selection) Text() string {
	texts := make([]string, 0, len(s.Fragments))
	for _, f := range s.Fragments {
		texts = append(texts, f.Line.Text)
	}
	return strings.Join(texts, "\n")
}

func emptySelection() Selection {
	return Selection{Interval: r1.EmptyInterval()}
}

// UpdateSelection turns a drag from dragStart to dragEnd, both in view
// space, into a selection and returns the highlight for it in display
// space. It returns nil when there is no text to select.
func (o *Overlay) UpdateSelection(dragStart, dragEnd gg.Point) *gg.Path {
	_, path := o.Select(dragStart, dragEnd)
	return path
}

// Select is UpdateSelection that also returns the selection the highlight
// was built for. Both come from the same state of the overlay.
func (o *Overlay) Select(dragStart, dragEnd gg.Point) (Selection, *gg.Path) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.lines) == 0 {
		o.selection = emptySelection()
		return o.selection, nil
	}

	start := o.quad.Ratio(o.view.TransformPoint(dragStart))
	end := o.quad.Ratio(o.view.TransformPoint(dragEnd))
	interval := r1.IntervalFromPoint(start).AddPoint(end)

	o.selection = o.selectInterval(interval)
	o.logger.Debug("Selection updated", "start", interval.Lo, "end", interval.Hi, "lines", len(o.selection.Fragments))

	sel := o.selection
	sel.Fragments = append([]Fragment(nil), sel.Fragments...)
	return sel, o.quad.InsetPath(interval.Lo, interval.Hi)
}

// Selection returns the current selection.
func (o *Overlay) Selection() Selection {
	o.mu.RLock()
	defer o.mu.RUnlock()

	s := o.selection
	s.Fragments = append([]Fragment(nil), s.Fragments...)
	return s
}

// ClearSelection drops the current selection.
func (o *Overlay) ClearSelection() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selection = emptySelection()
}

// CurrentSelectionText returns the text of the selected lines in reading
// order, or false when nothing is selected.
func (o *Overlay) CurrentSelectionText() (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if len(o.selection.Fragments) == 0 {
		return "", false
	}
	return o.selection.Text(), true
}

func (o *Overlay) selectInterval(interval r1.Interval) Selection {
	sel := Selection{Interval: interval}
	for _, line := range o.lines {
		span, ok := o.spans[line.Box]
		if !ok || !span.Intersects(interval) {
			continue
		}
		sel.Fragments = append(sel.Fragments, Fragment{
			Line:   line,
			Span:   span,
			Local:  localInterval(span, interval),
			screen: o.quad.MapQuad(line.Box),
		})
	}
	return sel
}

// localInterval rescales the overlap of span and interval to span's own
// [0, 1] range.
func localInterval(span, interval r1.Interval) r1.Interval {
	overlap := span.Intersection(interval)
	width := span.Length()
	if width <= 1e-12 {
		return r1.Interval{Lo: 0, Hi: 1}
	}
	return r1.Interval{
		Lo: (overlap.Lo - span.Lo) / width,
		Hi: (overlap.Hi - span.Lo) / width,
	}
}
