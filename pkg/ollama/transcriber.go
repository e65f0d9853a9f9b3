package ollama

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

// DefaultPrompt asks for a verbatim transcription of one line.
const DefaultPrompt = "Transcribe the handwritten or printed text in this image exactly as written. Return only the text."

// Transcriber reads line images with a local Ollama vision model
type Transcriber struct {
	client *http.Client
}

// New creates a new Ollama transcriber
func New() *Transcriber {
	return &Transcriber{
		client: &http.Client{Timeout: 300 * time.Second}, // Longer timeout for local inference
	}
}

// Name returns the transcriber name
func (t *Transcriber) Name() string {
	return "ollama"
}

// Model returns the model used for config, defaulting to llava
func Model(config ocr.Config) string {
	if config.Model != "" {
		return config.Model
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		return model
	}
	return "llava"
}

// Transcribe returns the text in img
func (t *Transcriber) Transcribe(ctx context.Context, config ocr.Config, img *ocr.Image) (string, error) {
	ollamaURL := os.Getenv("OLLAMA_URL")
	if ollamaURL == "" {
		ollamaURL = "http://localhost:11434" // Default Ollama URL
	}

	prompt := config.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}

	requestBody := map[string]any{
		"model":  Model(config),
		"prompt": prompt,
		"images": []string{img.Base64()},
		"stream": false,
		"options": map[string]any{
			"temperature": config.Temperature,
		},
	}

	requestJSON, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/generate", strings.TrimSuffix(ollamaURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestJSON))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", utils.MaskSensitiveError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusNotFound {
			return "", ocr.NotAvailable(t.Name(), fmt.Sprintf("model %s not found: %s", Model(config), ocr.TruncateBody(body)))
		}
		return "", fmt.Errorf("ollama API error: %d - %s", resp.StatusCode, ocr.TruncateBody(body))
	}

	var ollamaResp struct {
		Response *string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if ollamaResp.Response == nil {
		return "", fmt.Errorf("no response from Ollama")
	}

	return ocr.ProcessResponse(t, *ollamaResp.Response), nil
}
