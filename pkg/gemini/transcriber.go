package gemini

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

	"github.com/lehigh-university-libraries/quadocr/internal/utils"
	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Transcriber reads line images with a Google Gemini model
type Transcriber struct {
	client  *http.Client
	baseURL string
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type content struct {
	Parts []part `json:"parts"`
}

type request struct {
	Contents         []content `json:"contents"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type response struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// New creates a new Gemini transcriber
func New() *Transcriber {
	return &Transcriber{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: defaultBaseURL,
	}
}

// Name returns the transcriber name
func (t *Transcriber) Name() string {
	return "gemini"
}

// Model returns the model used for config
func Model(config ocr.Config) string {
	if config.Model != "" {
		return config.Model
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		return model
	}
	return "gemini-1.5-flash"
}

// Transcribe returns the text in img
func (t *Transcriber) Transcribe(ctx context.Context, config ocr.Config, img *ocr.Image) (string, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return "", ocr.NotAvailable(t.Name(), "GEMINI_API_KEY environment variable not set")
	}

	var body request
	body.Contents = []content{{Parts: []part{
		{Text: config.Prompt},
		{InlineData: &inlineData{MimeType: img.MimeType(), Data: img.Base64()}},
	}}}
	body.GenerationConfig.Temperature = config.Temperature

	requestJSON, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimSuffix(t.baseURL, "/"), url.PathEscape(Model(config)), url.QueryEscape(apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(requestJSON))
	if err != nil {
		return "", utils.MaskSensitiveError(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The key is part of the URL, which net/http includes in its errors
		return "", utils.MaskSensitiveError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
			return "", ocr.NotAvailable(t.Name(), fmt.Sprintf("%d - %s", resp.StatusCode, ocr.TruncateBody(respBody)))
		}
		return "", fmt.Errorf("gemini API error: %d - %s", resp.StatusCode, ocr.TruncateBody(respBody))
	}

	var geminiResp response
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return "", fmt.Errorf("invalid response format from Gemini: %w", err)
	}
	if len(geminiResp.Candidates) == 0 {
		return "", fmt.Errorf("no response from Gemini")
	}
	for _, p := range geminiResp.Candidates[0].Content.Parts {
		if p.Text != "" {
			return ocr.ProcessResponse(t, p.Text), nil
		}
	}
	return "", fmt.Errorf("no text in Gemini response")
}
