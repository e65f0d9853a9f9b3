//go:build !tesseract

package tesseract

import (
	"context"

	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
)

const notEnabled = "tesseract support not enabled; rebuild with -tags tesseract"

// Engine is the placeholder used when Tesseract support is not compiled in
type Engine struct{}

// New creates a new Tesseract engine
func New() *Engine {
	return &Engine{}
}

// Name returns the engine name
func (e *Engine) Name() string {
	return "tesseract"
}

// ValidateConfig always reports the engine as unavailable
func (e *Engine) ValidateConfig(config ocr.Config) error {
	return ocr.NotAvailable(e.Name(), notEnabled)
}

// Languages returns no languages, marking OCR as unavailable
func (e *Engine) Languages(ctx context.Context) ([]string, error) {
	return nil, nil
}

// Recognize always fails with a not-available error
func (e *Engine) Recognize(ctx context.Context, img *ocr.Image, config ocr.Config) ([]ocr.TextLine, error) {
	return nil, ocr.NotAvailable(e.Name(), notEnabled)
}
