package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/lehigh-university-libraries/quadocr/internal/utils"
	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Transcriber reads line images with an OpenAI vision model
type Transcriber struct {
	client  *http.Client
	baseURL string
}

// Response represents an OpenAI API response
type Response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// TemplateData represents data for API request template
type TemplateData struct {
	Model       string
	Prompt      string
	Temperature float64
	ImageBase64 string
	MimeType    string
}

// New creates a new OpenAI transcriber. OPENAI_BASE_URL points it at a
// compatible server.
func New() *Transcriber {
	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Transcriber{
		client:  &http.Client{Timeout: 120 * time.Second},
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Name returns the transcriber name
func (t *Transcriber) Name() string {
	return "openai"
}

// Model returns the model used for config
func Model(config ocr.Config) string {
	if config.Model != "" {
		return config.Model
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		return model
	}
	return "gpt-4o"
}

// Transcribe returns the text in img
func (t *Transcriber) Transcribe(ctx context.Context, config ocr.Config, img *ocr.Image) (string, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return "", ocr.NotAvailable(t.Name(), "OPENAI_API_KEY environment variable not set")
	}

	templateData := TemplateData{
		Model:       jsonEscape(Model(config)),
		Prompt:      jsonEscape(config.Prompt),
		Temperature: config.Temperature,
		ImageBase64: img.Base64(),
		MimeType:    img.MimeType(),
	}

	tmpl, err := template.New("openai").Parse(requestTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var requestBuffer bytes.Buffer
	if err := tmpl.Execute(&requestBuffer, templateData); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/chat/completions", &requestBuffer)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", utils.MaskSensitiveError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusNotFound:
		return "", ocr.NotAvailable(t.Name(), fmt.Sprintf("%d - %s", resp.StatusCode, ocr.TruncateBody(body)))
	default:
		return "", fmt.Errorf("openAI API error: %d - %s", resp.StatusCode, ocr.TruncateBody(body))
	}

	var openaiResp Response
	if err := json.Unmarshal(body, &openaiResp); err != nil {
		return "", fmt.Errorf("failed to parse JSON response: %w - body: %s", err, ocr.TruncateBody(body))
	}
	if len(openaiResp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI - body: %s", ocr.TruncateBody(body))
	}

	return ocr.ProcessResponse(t, openaiResp.Choices[0].Message.Content), nil
}

// jsonEscape properly escapes a string for use in JSON
func jsonEscape(s string) string {
	escaped, _ := json.Marshal(s)
	// Remove the surrounding quotes that json.Marshal adds
	return string(escaped[1 : len(escaped)-1])
}

const requestTemplate = `{
  "model": "{{.Model}}",
  "temperature": {{.Temperature}},
  "messages": [
    {
      "role": "user",
      "content": [
        {
          "type": "text",
          "text": "{{.Prompt}}"
        },
        {
          "type": "image_url",
          "image_url": {
            "url": "data:{{.MimeType}};base64,{{.ImageBase64}}"
          }
        }
      ]
    }
  ]
}`
