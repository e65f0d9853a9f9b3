package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/quadocr/internal/utils"
	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
)

const defaultBaseURL = "https://api.anthropic.com/v1"

// Transcriber reads line images with an Anthropic Claude model
type Transcriber struct {
	client  *http.Client
	baseURL string
}

// Response represents an Anthropic API response
type Response struct {
	Content []struct {
		Text string `json:"text"`
		Type string `json:"type"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// New creates a new Claude transcriber
func New() *Transcriber {
	return &Transcriber{
		client:  &http.Client{Timeout: 120 * time.Second},
		baseURL: defaultBaseURL,
	}
}

// Name returns the transcriber name
func (t *Transcriber) Name() string {
	return "claude"
}

// Model returns the model used for config
func Model(config ocr.Config) string {
	if config.Model != "" {
		return config.Model
	}
	if model := os.Getenv("CLAUDE_MODEL"); model != "" {
		return model
	}
	return "claude-sonnet-4-5"
}

// Transcribe returns the text in img
func (t *Transcriber) Transcribe(ctx context.Context, config ocr.Config, img *ocr.Image) (string, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return "", ocr.NotAvailable(t.Name(), "ANTHROPIC_API_KEY environment variable not set")
	}

	requestBody := map[string]any{
		"model":      Model(config),
		"max_tokens": 1024,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{
						"type": "image",
						"source": map[string]any{
							"type":       "base64",
							"media_type": img.MimeType(),
							"data":       img.Base64(),
						},
					},
					{
						"type": "text",
						"text": config.Prompt,
					},
				},
			},
		},
	}
	if config.Temperature > 0 {
		requestBody["temperature"] = config.Temperature
	}

	requestJSON, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(t.baseURL, "/")+"/messages", bytes.NewBuffer(requestJSON))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", utils.MaskSensitiveError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized {
			return "", ocr.NotAvailable(t.Name(), fmt.Sprintf("%d - %s", resp.StatusCode, ocr.TruncateBody(body)))
		}
		return "", fmt.Errorf("claude API error: %d - %s", resp.StatusCode, ocr.TruncateBody(body))
	}

	var claudeResp Response
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return "", err
	}

	// First text block wins
	for _, content := range claudeResp.Content {
		if content.Type == "text" && content.Text != "" {
			return ocr.ProcessResponse(t, content.Text), nil
		}
	}
	return "", fmt.Errorf("no text content in Claude response")
}
