package hocr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
)

// Sidecar reads the hOCR file stored next to an image, as produced by a
// batch OCR run, instead of recognizing the image itself.
type Sidecar struct {
	extensions []string
}

// NewSidecar creates a sidecar engine looking for .hocr then .html files
func NewSidecar() *Sidecar {
	return &Sidecar{extensions: []string{".hocr", ".html"}}
}

// Name returns the engine name
func (s *Sidecar) Name() string {
	return "hocr"
}

// ValidateConfig always succeeds; a missing sidecar is reported per image
func (s *Sidecar) ValidateConfig(config ocr.Config) error {
	return nil
}

// Recognize loads the lines of img's sidecar file
func (s *Sidecar) Recognize(ctx context.Context, img *ocr.Image, config ocr.Config) ([]ocr.TextLine, error) {
	if img.Path == "" {
		return nil, ocr.NotAvailable(s.Name(), "image has no path to find a sidecar for")
	}

	base := strings.TrimSuffix(img.Path, filepath.Ext(img.Path))
	for _, ext := range s.extensions {
		data, err := os.ReadFile(base + ext)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read sidecar: %w", err)
		}
		return Parse(data)
	}

	return nil, ocr.NotAvailable(s.Name(), fmt.Sprintf("no sidecar for %s", img.Path))
}
