// Package overlay places recognized text lines over a page displayed in an
// arbitrary quadrilateral and turns drag gestures into text selections.
//
// An Overlay owns the stored OCR result for one page. Geometry queries go
// through package quad; recognition runs through package ocr and reaches
// the overlay only via Apply, which drops results for images that have
// since been replaced.
package overlay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gogpu/gg"
	"github.com/golang/geo/r1"

	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
	"github.com/lehigh-university-libraries/quadocr/pkg/quad"
)

// Option configures an Overlay.
type Option func(*Overlay)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Overlay) {
		o.logger = logger
	}
}

// WithViewTransform sets the matrix that maps view points, such as mouse
// positions, into the display space the quad lives in.
func WithViewTransform(m gg.Matrix) Option {
	return func(o *Overlay) {
		o.view = m
	}
}

// Overlay maps OCR text lines onto a displayed page. It is safe for
// concurrent use.
type Overlay struct {
	mu     sync.RWMutex
	logger *slog.Logger

	quad quad.Quad
	view gg.Matrix

	generation uint64
	pending    bool

	lines  []ocr.TextLine
	spans  map[quad.Quad]r1.Interval
	ocrErr error

	selection Selection
}

// New creates an overlay for a page displayed in q.
func New(q quad.Quad, opts ...Option) *Overlay {
	o := &Overlay{
		logger:    slog.Default(),
		quad:      q,
		view:      gg.Identity(),
		spans:     make(map[quad.Quad]r1.Interval),
		selection: emptySelection(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.checkQuad(q)
	return o
}

// Quad returns the display quad.
func (o *Overlay) Quad() quad.Quad {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.quad
}

// SetQuad moves the page. Line spans are recomputed and the current
// selection interval is kept.
func (o *Overlay) SetQuad(q quad.Quad) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.checkQuad(q)
	o.quad = q
	o.computeSpans()
	if !o.selection.Interval.IsEmpty() {
		o.selection = o.selectInterval(o.selection.Interval)
	}
}

// SetViewTransform replaces the view to display matrix.
func (o *Overlay) SetViewTransform(m gg.Matrix) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.view = m
}

// SetTextResult replaces the stored lines in full and clears the selection.
// A recognition still running for an earlier image can no longer apply.
func (o *Overlay) SetTextResult(lines []ocr.TextLine) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.generation++
	o.pending = false
	o.setLines(lines)
	o.ocrErr = nil
}

// SetImage discards everything known about the previous image and starts
// recognizing img. The result is applied when it arrives unless another
// image has been set in the meantime.
func (o *Overlay) SetImage(ctx context.Context, engine ocr.Engine, img *ocr.Image, config ocr.Config) *ocr.Job {
	o.mu.Lock()
	o.generation++
	gen := o.generation
	o.pending = true
	o.ocrErr = nil
	o.setLines(nil)
	o.mu.Unlock()

	job := ocr.Recognize(ctx, engine, img, config)
	go func() {
		<-job.Done()
		o.Apply(gen, job.Result())
	}()
	return job
}

// Apply stores the result of the recognition started for generation gen.
// It reports false and leaves the overlay untouched when gen is stale.
func (o *Overlay) Apply(gen uint64, res *ocr.Result) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if gen != o.generation {
		o.logger.Debug("Discarding stale OCR result", "generation", gen, "current", o.generation)
		return false
	}
	o.pending = false

	switch {
	case res == nil:
		o.ocrErr = ocr.NotAvailable("", "recognition produced no result")
		o.setLines(nil)
	case res.Err != nil:
		o.ocrErr = res.Err
		o.setLines(nil)
		o.logger.Info("OCR failed", "engine", res.Engine, "err", res.Err)
	default:
		o.ocrErr = nil
		o.setLines(res.Lines)
		o.logger.Debug("OCR result applied", "engine", res.Engine, "lines", len(res.Lines), "duration", res.Duration)
	}
	return true
}

// OCRError returns the error of the last recognition, if any.
func (o *Overlay) OCRError() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.ocrErr
}

// Pending reports whether a recognition is in flight.
func (o *Overlay) Pending() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.pending
}

// Generation returns the number of images set so far.
func (o *Overlay) Generation() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.generation
}

// Lines returns a copy of the stored lines in reading order.
func (o *Overlay) Lines() []ocr.TextLine {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]ocr.TextLine(nil), o.lines...)
}

// Span returns the ratio span of a stored line within the display quad.
func (o *Overlay) Span(line ocr.TextLine) (r1.Interval, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	span, ok := o.spans[line.Box]
	return span, ok
}

// AllRecognizedText returns every stored line in reading order.
func (o *Overlay) AllRecognizedText() (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if len(o.lines) == 0 {
		return "", false
	}
	return ocr.JoinText(o.lines), true
}

func (o *Overlay) setLines(lines []ocr.TextLine) {
	o.lines = append([]ocr.TextLine(nil), lines...)
	ocr.SortReadingOrder(o.lines)
	o.computeSpans()
	o.selection = emptySelection()
}

// computeSpans projects each line's on-screen corners onto the quad.
func (o *Overlay) computeSpans() {
	clear(o.spans)
	for _, line := range o.lines {
		if _, ok := o.spans[line.Box]; ok {
			continue
		}
		corners := o.quad.MapQuad(line.Box).Corners()
		span := r1.IntervalFromPoint(o.quad.Ratio(corners[0]))
		for _, c := range corners[1:] {
			span = span.AddPoint(o.quad.Ratio(c))
		}
		o.spans[line.Box] = span
	}
}

func (o *Overlay) checkQuad(q quad.Quad) {
	if q.Degenerate() {
		o.logger.Warn("Display quad encloses no area", "quad", q)
	} else if !q.Convex() {
		o.logger.Warn("Display quad is not convex", "quad", q)
	}
}
