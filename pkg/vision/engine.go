// Package vision recognizes page images with Google Cloud Vision's
// DOCUMENT_TEXT_DETECTION feature.
package vision

import (
	"context"
	"fmt"
	"os"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/gogpu/gg"
	"google.golang.org/api/option"

	"github.com/lehigh-university-libraries/quadocr/internal/utils"
	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
	"github.com/lehigh-university-libraries/quadocr/pkg/quad"
)

// Languages is a subset of the language hints Vision accepts for
// document text detection.
var Languages = []string{
	"ar", "cs", "da", "de", "el", "en", "es", "fi", "fr", "he", "hi", "hu",
	"it", "ja", "ko", "la", "nl", "no", "pl", "pt", "ru", "sv", "tr", "uk",
	"zh",
}

// Engine implements the Google Cloud Vision engine
type Engine struct {
	opts []option.ClientOption
}

// New creates a new Vision engine. Without options the client uses the
// file named by GOOGLE_APPLICATION_CREDENTIALS.
func New(opts ...option.ClientOption) *Engine {
	return &Engine{opts: opts}
}

// Name returns the engine name
func (e *Engine) Name() string {
	return "vision"
}

// ValidateConfig checks that credentials are configured
func (e *Engine) ValidateConfig(config ocr.Config) error {
	if len(e.opts) == 0 && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		return ocr.NotAvailable(e.Name(), "GOOGLE_APPLICATION_CREDENTIALS environment variable must be set")
	}
	return nil
}

// Languages returns the language hints the engine advertises
func (e *Engine) Languages(ctx context.Context) ([]string, error) {
	return append([]string(nil), Languages...), nil
}

// Recognize runs document text detection on img
func (e *Engine) Recognize(ctx context.Context, img *ocr.Image, config ocr.Config) ([]ocr.TextLine, error) {
	if err := e.ValidateConfig(config); err != nil {
		return nil, err
	}

	opts := e.opts
	if len(opts) == 0 {
		opts = []option.ClientOption{option.WithCredentialsFile(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))}
	}
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, ocr.NoCreate(e.Name(), fmt.Errorf("failed to create Vision client: %w", err))
	}
	defer client.Close()

	resp, err := client.BatchAnnotateImages(ctx, annotateRequest(img, config.Language))
	if err != nil {
		return nil, fmt.Errorf("failed to annotate image: %w", utils.MaskSensitiveError(err))
	}
	if len(resp.GetResponses()) == 0 {
		return nil, fmt.Errorf("no response from Vision")
	}

	r := resp.GetResponses()[0]
	if r.GetError() != nil && r.GetError().GetMessage() != "" {
		return nil, fmt.Errorf("vision API error: %s", r.GetError().GetMessage())
	}
	return Lines(r.GetFullTextAnnotation()), nil
}

func annotateRequest(img *ocr.Image, language string) *visionpb.BatchAnnotateImagesRequest {
	req := &visionpb.AnnotateImageRequest{
		Image:    &visionpb.Image{Content: img.Data},
		Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
	}
	if language != "" {
		req.ImageContext = &visionpb.ImageContext{LanguageHints: []string{language}}
	}
	return &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{req},
	}
}

// Lines assembles text lines from the words of a full text annotation.
// A line ends at a symbol whose detected break is EOL_SURE_SPACE or
// LINE_BREAK, or at the end of a paragraph. Its quad runs from the first
// word's left edge to the last word's right edge, so skewed lines keep
// their slant.
func Lines(annotation *visionpb.TextAnnotation) []ocr.TextLine {
	var out []ocr.TextLine
	for _, page := range annotation.GetPages() {
		width, height := float64(page.GetWidth()), float64(page.GetHeight())
		for _, block := range page.GetBlocks() {
			for _, para := range block.GetParagraphs() {
				var b lineBuilder
				for _, word := range para.GetWords() {
					if b.add(word) {
						out = b.flush(out, width, height)
					}
				}
				out = b.flush(out, width, height)
			}
		}
	}
	return out
}

type lineBuilder struct {
	text       strings.Builder
	first      *visionpb.Word
	last       *visionpb.Word
	confidence float64
	words      int
}

// add appends word and reports whether it ends the line.
func (b *lineBuilder) add(word *visionpb.Word) bool {
	if b.first == nil {
		b.first = word
	}
	b.last = word
	b.confidence += float64(word.GetConfidence())
	b.words++

	for _, sym := range word.GetSymbols() {
		b.text.WriteString(sym.GetText())
		switch sym.GetProperty().GetDetectedBreak().GetType() {
		case visionpb.TextAnnotation_DetectedBreak_SPACE, visionpb.TextAnnotation_DetectedBreak_SURE_SPACE:
			b.text.WriteByte(' ')
		case visionpb.TextAnnotation_DetectedBreak_HYPHEN:
			b.text.WriteByte('-')
			return true
		case visionpb.TextAnnotation_DetectedBreak_EOL_SURE_SPACE, visionpb.TextAnnotation_DetectedBreak_LINE_BREAK:
			return true
		}
	}
	return false
}

func (b *lineBuilder) flush(out []ocr.TextLine, width, height float64) []ocr.TextLine {
	defer b.reset()
	text := strings.TrimSpace(b.text.String())
	if text == "" {
		return out
	}

	first := vertices(b.first, width, height)
	last := vertices(b.last, width, height)
	box := quad.Unit
	if first != nil && last != nil {
		box = quad.New(first[0], last[1], last[2], first[3])
	}

	return append(out, ocr.TextLine{
		Text:       text,
		Confidence: b.confidence / float64(b.words),
		Box:        box,
	})
}

func (b *lineBuilder) reset() {
	b.text.Reset()
	b.first, b.last = nil, nil
	b.confidence = 0
	b.words = 0
}

// vertices returns a word's four corners normalized by the page size,
// clockwise from the top left of the text.
func vertices(word *visionpb.Word, width, height float64) []gg.Point {
	vs := word.GetBoundingBox().GetVertices()
	if len(vs) < 4 || width <= 0 || height <= 0 {
		return nil
	}
	pts := make([]gg.Point, 4)
	for i := range pts {
		pts[i] = gg.Pt(float64(vs[i].GetX())/width, float64(vs[i].GetY())/height)
	}
	return pts
}
