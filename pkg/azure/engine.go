package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gogpu/gg"

	"github.com/lehigh-university-libraries/quadocr/internal/utils"
	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
	"github.com/lehigh-university-libraries/quadocr/pkg/quad"
)

// Languages accepted by the Read API's language parameter.
var Languages = []string{
	"cs", "da", "de", "en", "es", "fi", "fr", "hu", "it", "ja", "ko",
	"nl", "no", "pl", "pt", "ru", "sv", "tr", "zh-Hans", "zh-Hant",
}

// Engine implements the Azure Computer Vision Read engine
type Engine struct {
	client       *http.Client
	pollInterval time.Duration
	maxPolls     int
}

// New creates a new Azure engine
func New() *Engine {
	return &Engine{
		client:       &http.Client{Timeout: 60 * time.Second},
		pollInterval: time.Second,
		maxPolls:     30,
	}
}

// Name returns the engine name
func (e *Engine) Name() string {
	return "azure"
}

// ValidateConfig validates the Azure configuration
func (e *Engine) ValidateConfig(config ocr.Config) error {
	endpoint := os.Getenv("AZURE_OCR_ENDPOINT")
	apiKey := os.Getenv("AZURE_OCR_API_KEY")

	if endpoint == "" || apiKey == "" {
		return ocr.NotAvailable(e.Name(), "AZURE_OCR_ENDPOINT and AZURE_OCR_API_KEY environment variables must be set")
	}
	return nil
}

// Languages returns the languages the Read API accepts
func (e *Engine) Languages(ctx context.Context) ([]string, error) {
	return append([]string(nil), Languages...), nil
}

// Recognize runs the Read API on img and returns its lines
func (e *Engine) Recognize(ctx context.Context, img *ocr.Image, config ocr.Config) ([]ocr.TextLine, error) {
	if err := e.ValidateConfig(config); err != nil {
		return nil, err
	}
	endpoint := os.Getenv("AZURE_OCR_ENDPOINT")
	apiKey := os.Getenv("AZURE_OCR_API_KEY")

	// Azure Computer Vision Read API 3.2 URL (more widely supported)
	readURL := fmt.Sprintf("%s/vision/v3.2/read/analyze", strings.TrimSuffix(endpoint, "/"))
	if lang := readLanguage(config.Language); lang != "" {
		readURL += "?language=" + url.QueryEscape(lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, readURL, bytes.NewReader(img.Data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, utils.MaskSensitiveError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("azure OCR API error: %d - %s", resp.StatusCode, ocr.TruncateBody(body))
	}

	// Get the operation URL from the Operation-Location header
	operationURL := resp.Header.Get("Operation-Location")
	if operationURL == "" {
		return nil, fmt.Errorf("no operation location returned from Azure OCR")
	}

	for attempts := 0; attempts < e.maxPolls; attempts++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.pollInterval):
		}

		result, err := e.poll(ctx, operationURL, apiKey)
		if err != nil {
			return nil, err
		}
		if result == nil {
			continue
		}

		switch result.Status {
		case "succeeded":
			return result.AnalyzeResult.lines(), nil
		case "failed":
			return nil, fmt.Errorf("azure OCR analysis failed")
		}
		// Continue polling if status is "running" or "notStarted"
	}

	return nil, fmt.Errorf("azure OCR operation timed out")
}

// poll fetches the operation status. A nil result means try again.
func (e *Engine) poll(ctx context.Context, operationURL, apiKey string) (*operation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, operationURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, utils.MaskSensitiveError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var result operation
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("invalid response format from Azure OCR: %w", err)
	}
	if result.Status == "" {
		return nil, fmt.Errorf("invalid response format from Azure OCR")
	}
	return &result, nil
}

// readLanguage reduces a BCP 47 tag to the code the Read API expects.
func readLanguage(tag string) string {
	if tag == "" {
		return ""
	}
	for _, lang := range Languages {
		if strings.EqualFold(tag, lang) {
			return lang
		}
	}
	base, _, _ := strings.Cut(tag, "-")
	base = strings.ToLower(base)
	for _, lang := range Languages {
		if lang == base {
			return lang
		}
	}
	return ""
}

type operation struct {
	Status        string        `json:"status"`
	AnalyzeResult analyzeResult `json:"analyzeResult"`
}

// analyzeResult covers both the v3.2 and v4.0 response shapes.
type analyzeResult struct {
	ReadResults []page `json:"readResults"`
	Pages       []page `json:"pages"`
}

type page struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Lines  []line  `json:"lines"`
}

type line struct {
	// v3.2
	Text        string    `json:"text"`
	BoundingBox []float64 `json:"boundingBox"`
	Words       []word    `json:"words"`
	// v4.0
	Content string    `json:"content"`
	Polygon []float64 `json:"polygon"`
}

type word struct {
	Confidence float64 `json:"confidence"`
}

func (r analyzeResult) lines() []ocr.TextLine {
	pages := r.ReadResults
	if len(pages) == 0 {
		pages = r.Pages
	}

	var out []ocr.TextLine
	for _, p := range pages {
		for _, l := range p.Lines {
			text := l.Text
			if text == "" {
				text = l.Content
			}
			polygon := l.BoundingBox
			if len(polygon) == 0 {
				polygon = l.Polygon
			}
			out = append(out, ocr.TextLine{
				Text:       text,
				Confidence: l.confidence(),
				Box:        normalizePolygon(polygon, p.Width, p.Height),
			})
		}
	}
	return out
}

func (l line) confidence() float64 {
	if len(l.Words) == 0 {
		return 1
	}
	var sum float64
	for _, w := range l.Words {
		sum += w.Confidence
	}
	return sum / float64(len(l.Words))
}

// normalizePolygon turns the eight coordinates Azure returns, clockwise from
// the top left, into a quad in the page's normalized space.
func normalizePolygon(polygon []float64, width, height float64) quad.Quad {
	if len(polygon) < 8 || width <= 0 || height <= 0 {
		return quad.Unit
	}
	pt := func(i int) gg.Point {
		return gg.Pt(polygon[2*i]/width, polygon[2*i+1]/height)
	}
	return quad.New(pt(0), pt(1), pt(2), pt(3))
}
