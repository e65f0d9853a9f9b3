package cmd

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
)

func TestNewRegistry(t *testing.T) {
	registry := newRegistry()
	want := []string{"azure", "hocr", "htr-claude", "htr-gemini", "htr-ollama", "htr-openai", "tesseract", "vision"}
	if got := registry.List(); !slices.Equal(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestEngineFor(t *testing.T) {
	registry := ocr.NewRegistry()
	registry.Register(&fakeEngine{})

	old := settings
	defer func() { settings = old }()
	settings = DefaultSettings()
	settings.Engine = "fake"

	if e, err := engineFor(registry, ""); err != nil || e.Name() != "fake" {
		t.Errorf("engineFor(\"\") = %v, %v", e, err)
	}
	if _, err := engineFor(registry, "missing"); !errors.Is(err, ocr.ErrNotAvailable) {
		t.Errorf("engineFor(missing) error = %v, want ErrNotAvailable", err)
	}
}

// plainEngine cannot list its languages
type plainEngine struct{}

func (plainEngine) Name() string { return "plain" }
func (plainEngine) ValidateConfig(ocr.Config) error { return nil }
func (plainEngine) Recognize(context.Context, *ocr.Image, ocr.Config) ([]ocr.TextLine, error) {
	return nil, nil
}

func TestEngineLanguages(t *testing.T) {
	s := DefaultSettings()
	ctx := context.Background()

	// Engines without a language list accept the default
	langs := engineLanguages(ctx, plainEngine{}, s)
	if !langs.Available() || !slices.Equal(langs.Supported(), []string{s.DefaultLanguage}) {
		t.Errorf("plain engine languages = %v", langs.Supported())
	}

	// A lister reporting nothing means OCR is unavailable
	if engineLanguages(ctx, &fakeEngine{}, s).Available() {
		t.Error("empty language list should be unavailable")
	}

	// Settings override the engine
	s.Languages = []string{"de-DE", "en-US"}
	langs = engineLanguages(ctx, &fakeEngine{langs: []string{"fr-FR"}}, s)
	if !slices.Equal(langs.Supported(), []string{"de-DE", "en-US"}) {
		t.Errorf("configured languages = %v", langs.Supported())
	}
}
