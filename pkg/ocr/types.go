package ocr

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/gg"
	"github.com/golang/geo/r2"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/lehigh-university-libraries/quadocr/pkg/quad"
)

// TextLine is one recognized line of text.
type TextLine struct {
	Text       string    `json:"text" yaml:"text"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
	Box        quad.Quad `json:"box" yaml:"box"`
}

// Bounds returns the axis-aligned extent of the line's box.
func (l TextLine) Bounds() r2.Rect {
	return r2.RectFromPoints(
		r2.Point{X: l.Box.TL.X, Y: l.Box.TL.Y},
		r2.Point{X: l.Box.TR.X, Y: l.Box.TR.Y},
		r2.Point{X: l.Box.BR.X, Y: l.Box.BR.Y},
		r2.Point{X: l.Box.BL.X, Y: l.Box.BL.Y},
	)
}

// Image is the page image handed to an engine.
type Image struct {
	Path   string
	Data   []byte
	Format string
	Width  int
	Height int
}

// LoadImage reads and inspects an image file
func LoadImage(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, err := NewImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img.Path = path
	return img, nil
}

// NewImage wraps encoded image bytes, reading the format and dimensions
// without decoding the pixels.
func NewImage(data []byte) (*Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image config: %w", err)
	}
	return &Image{
		Data:   data,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

// Decode decodes the full image.
func (img *Image) Decode() (image.Image, error) {
	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return decoded, nil
}

// Base64 returns the encoded bytes as standard base64.
func (img *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

// MimeType returns the image MIME type, falling back to the file extension.
func (img *Image) MimeType() string {
	switch img.Format {
	case "jpeg", "png", "gif", "webp", "bmp", "tiff":
		return "image/" + img.Format
	}
	switch strings.ToLower(filepath.Ext(img.Path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".tif", ".tiff":
		return "image/tiff"
	}
	return "application/octet-stream"
}

// Normalize converts a pixel-space point into the image's normalized space.
func (img *Image) Normalize(x, y float64) (float64, float64) {
	if img.Width <= 0 || img.Height <= 0 {
		return 0, 0
	}
	return x / float64(img.Width), y / float64(img.Height)
}

// NormalizeRect converts a pixel rectangle into a normalized quad.
func (img *Image) NormalizeRect(r image.Rectangle) quad.Quad {
	x0, y0 := img.Normalize(float64(r.Min.X), float64(r.Min.Y))
	x1, y1 := img.Normalize(float64(r.Max.X), float64(r.Max.Y))
	return quad.Quad{
		TL: gg.Pt(x0, y0),
		TR: gg.Pt(x1, y0),
		BR: gg.Pt(x1, y1),
		BL: gg.Pt(x0, y1),
	}
}
