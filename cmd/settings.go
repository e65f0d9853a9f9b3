package cmd

import (
	"fmt"
	"os"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
)

// Settings are the options a YAML config file can set. Command line flags
// take precedence over them.
type Settings struct {
	Engine          string         `yaml:"engine"`
	Languages       []string       `yaml:"languages,omitempty"`
	DefaultLanguage string         `yaml:"default_language"`
	MinConfidence   float64        `yaml:"min_confidence"`
	Timeout         time.Duration  `yaml:"timeout"`
	Server          ServerSettings `yaml:"server"`
}

// ServerSettings configure the serve command.
type ServerSettings struct {
	Host             string        `yaml:"host"`
	Port             string        `yaml:"port"`
	MaxConcurrentOCR int64         `yaml:"max_concurrent_ocr"`
	RateLimitEvery   time.Duration `yaml:"rate_limit_every"`
	RateLimitBurst   int           `yaml:"rate_limit_burst"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
	// PageTTL expires pages idle this long. Zero keeps them until deleted.
	PageTTL          time.Duration `yaml:"page_ttl"`
}

// DefaultSettings returns settings with sensible defaults
func DefaultSettings() Settings {
	return Settings{
		Engine:          "tesseract",
		DefaultLanguage: ocr.DefaultLanguage,
		MinConfidence:   0,
		Timeout:         2 * time.Minute,
		Server: ServerSettings{
			Host:             "localhost",
			Port:             "8888",
			MaxConcurrentOCR: 2,
			RateLimitEvery:   600 * time.Millisecond, // ~100/min
			RateLimitBurst:   20,
			MaxUploadBytes:   32 << 20,
			PageTTL:          time.Hour,
		},
	}
}

// LoadSettings reads path over DefaultSettings. An empty path returns the
// defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}

// Validate checks value ranges
func (s Settings) Validate() error {
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %v", s.MinConfidence)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if s.Server.MaxConcurrentOCR < 1 {
		return fmt.Errorf("server.max_concurrent_ocr must be at least 1")
	}
	if s.Server.RateLimitBurst < 1 {
		return fmt.Errorf("server.rate_limit_burst must be at least 1")
	}
	if s.Server.PageTTL < 0 {
		return fmt.Errorf("server.page_ttl must not be negative")
	}
	return nil
}

// ocrConfig builds the recognition config for engine and language, falling
// back to the settings for anything left empty.
func (s Settings) ocrConfig(engine, language string) ocr.Config {
	if engine == "" {
		engine = s.Engine
	}
	if language == "" {
		language = s.DefaultLanguage
	}
	return ocr.Config{
		Engine:        engine,
		Language:      language,
		Timeout:       s.Timeout,
		MinConfidence: s.MinConfidence,
	}
}
