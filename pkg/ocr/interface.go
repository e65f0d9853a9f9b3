package ocr

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Config represents the configuration for a recognition run
type Config struct {
	Engine        string        `yaml:"engine"`
	Language      string        `yaml:"language"`
	Model         string        `yaml:"model,omitempty"`
	Prompt        string        `yaml:"prompt,omitempty"`
	Temperature   float64       `yaml:"temperature,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	MinConfidence float64       `yaml:"min_confidence,omitempty"`
}

// Engine interface that all OCR engines must implement
type Engine interface {
	// Recognize finds the lines of text in an image.
	// Each line's Box is in the image's normalized space: origin at the
	// top left, y growing downward, corners clockwise.
	Recognize(ctx context.Context, img *Image, config Config) ([]TextLine, error)
	// Name returns the engine's name
	Name() string
	// ValidateConfig validates the engine-specific configuration
	ValidateConfig(config Config) error
}

// LanguageLister is an optional interface for engines that can report the
// languages they accept. An empty list means the engine is unavailable.
type LanguageLister interface {
	Languages(ctx context.Context) ([]string, error)
}

// Transcriber reads the text of a single cropped line image. It has no
// notion of geometry; engines pair it with a line detector.
type Transcriber interface {
	Transcribe(ctx context.Context, config Config, img *Image) (string, error)
	Name() string
}

// CleanResponseProvider is an optional interface that transcribers can
// implement to provide custom response cleaning logic
type CleanResponseProvider interface {
	CleanResponse(response string) string
}

var prefixPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(the\s+)?text\s+in\s+(the\s+)?image\s+(is|says|reads):?\s*`),
	regexp.MustCompile(`(?i)^(the\s+)?image\s+contains\s+(the\s+following\s+)?text:?\s*`),
	regexp.MustCompile(`(?i)^here'?s?\s+(the\s+)?text\s+(extracted\s+)?from\s+(the\s+)?image:?\s*`),
	regexp.MustCompile(`(?i)^(i\s+can\s+see\s+)?text\s+(that\s+says|reading):?\s*`),
	regexp.MustCompile(`(?i)^i\s+can\s+see\s+text\s+reading:\s*`),
	regexp.MustCompile(`(?i)^certainly!\s+here'?s?\s+(the\s+)?text\s+(extracted\s+)?from\s+(the\s+)?image:?\s*`),
	regexp.MustCompile(`(?i)^here'?s?\s+the\s+extracted\s+text\s+from\s+(the\s+)?image:?\s*`),
}

// CleanResponse strips the chatter that vision models wrap around a
// transcription
func CleanResponse(response string) string {
	response = strings.TrimSpace(response)

	for _, re := range prefixPatterns {
		response = re.ReplaceAllString(response, "")
		response = strings.TrimSpace(response)
	}

	response = strings.Trim(response, `"'`)

	if strings.HasPrefix(response, "```") && strings.HasSuffix(response, "```") {
		response = strings.TrimPrefix(response, "```")
		response = strings.TrimSuffix(response, "```")
		response = strings.TrimSpace(response)
	}

	return response
}

// ProcessResponse cleans a response using the transcriber's custom cleaner
// if available, otherwise uses the general CleanResponse function
func ProcessResponse(t Transcriber, response string) string {
	if cleaner, ok := t.(CleanResponseProvider); ok {
		return cleaner.CleanResponse(response)
	}
	return CleanResponse(response)
}

// TruncateBody truncates a response body to a maximum length for error messages.
// Default maxLen is 500 if not specified.
func TruncateBody(body []byte, maxLen ...int) string {
	limit := 500
	if len(maxLen) > 0 && maxLen[0] > 0 {
		limit = maxLen[0]
	}
	s := string(body)
	if len(s) > limit {
		return s[:limit] + "... (truncated)"
	}
	return s
}
