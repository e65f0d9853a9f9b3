//go:build tesseract

package tesseract

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
)

// Engine implements the Tesseract engine
type Engine struct{}

// New creates a new Tesseract engine
func New() *Engine {
	return &Engine{}
}

// Name returns the engine name
func (e *Engine) Name() string {
	return "tesseract"
}

// ValidateConfig checks that traineddata exists for the configured language
func (e *Engine) ValidateConfig(config ocr.Config) error {
	available, err := e.Languages(context.Background())
	if err != nil {
		return ocr.NotAvailable(e.Name(), err.Error())
	}
	if len(available) == 0 {
		return ocr.NotAvailable(e.Name(), "no traineddata installed")
	}
	for _, lang := range strings.Split(TessLanguage(config.Language), "+") {
		if !slices.Contains(available, lang) {
			return ocr.NotAvailable(e.Name(), fmt.Sprintf("language %s is not installed", lang))
		}
	}
	return nil
}

// Languages lists the installed traineddata
func (e *Engine) Languages(ctx context.Context) ([]string, error) {
	langs, err := gosseract.GetAvailableLanguages()
	if err != nil {
		return nil, fmt.Errorf("failed to list tesseract languages: %w", err)
	}
	langs = slices.DeleteFunc(langs, func(l string) bool { return l == "osd" })
	slices.Sort(langs)
	return langs, nil
}

// Recognize returns the text lines Tesseract finds in img
func (e *Engine) Recognize(ctx context.Context, img *ocr.Image, config ocr.Config) ([]ocr.TextLine, error) {
	client := gosseract.NewClient()
	if client == nil {
		return nil, ocr.NoCreate(e.Name(), nil)
	}
	defer client.Close()

	if prefix := os.Getenv("TESSDATA_PREFIX"); prefix != "" {
		if err := client.SetTessdataPrefix(prefix); err != nil {
			return nil, ocr.NoCreate(e.Name(), err)
		}
	}
	if err := client.SetLanguage(strings.Split(TessLanguage(config.Language), "+")...); err != nil {
		return nil, ocr.NoCreate(e.Name(), err)
	}
	if err := client.SetImageFromBytes(img.Data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	// Tesseract cannot be interrupted mid-page; honour cancellation before
	// the expensive call at least.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}

	lines := make([]ocr.TextLine, 0, len(boxes))
	for _, box := range boxes {
		text := strings.TrimSpace(box.Word)
		if text == "" {
			continue
		}
		lines = append(lines, ocr.TextLine{
			Text:       text,
			Confidence: box.Confidence / 100,
			Box:        img.NormalizeRect(box.Box),
		})
	}
	return lines, nil
}
