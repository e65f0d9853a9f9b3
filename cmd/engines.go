package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lehigh-university-libraries/quadocr/pkg/azure"
	"github.com/lehigh-university-libraries/quadocr/pkg/claude"
	"github.com/lehigh-university-libraries/quadocr/pkg/gemini"
	"github.com/lehigh-university-libraries/quadocr/pkg/hocr"
	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
	"github.com/lehigh-university-libraries/quadocr/pkg/ollama"
	"github.com/lehigh-university-libraries/quadocr/pkg/openai"
	"github.com/lehigh-university-libraries/quadocr/pkg/tesseract"
	"github.com/lehigh-university-libraries/quadocr/pkg/vision"
)

// newRegistry registers every engine the binary ships with
func newRegistry() *ocr.Registry {
	registry := ocr.NewRegistry()
	registry.Register(tesseract.New())
	registry.Register(vision.New())
	registry.Register(azure.New())
	registry.Register(hocr.NewSidecar())
	for _, t := range []ocr.Transcriber{ollama.New(), openai.New(), claude.New(), gemini.New()} {
		registry.Register(hocr.NewHTR(t))
	}
	return registry
}

// engineFor looks up name, falling back to the configured engine
func engineFor(registry *ocr.Registry, name string) (ocr.Engine, error) {
	if name == "" {
		name = settings.Engine
	}
	engine, err := registry.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported engine %q (available: %v): %w", name, registry.List(), err)
	}
	return engine, nil
}

// engineLanguages builds the language configuration for engine. The
// settings' language list replaces the engine's own when set. Engines that
// cannot list languages accept only the default.
func engineLanguages(ctx context.Context, engine ocr.Engine, s Settings) *ocr.Languages {
	supported := s.Languages
	if len(supported) == 0 {
		if lister, ok := engine.(ocr.LanguageLister); ok {
			langs, err := lister.Languages(ctx)
			if err != nil {
				slog.Warn("Unable to list engine languages", "engine", engine.Name(), "err", err)
			}
			supported = langs
		} else {
			supported = []string{s.DefaultLanguage}
		}
	}
	return ocr.NewLanguages(supported, s.DefaultLanguage)
}
