package ocr

import (
	"fmt"
	"slices"
	"sync"
)

// DefaultLanguage is used when no language has been chosen.
const DefaultLanguage = "en-US"

// Languages holds the languages an engine accepts and the one currently
// selected. An empty supported list means OCR is unavailable.
type Languages struct {
	mu        sync.RWMutex
	supported []string
	def       string
	current   string
}

// NewLanguages creates a language configuration. If def is empty or not
// supported, DefaultLanguage is used when supported, otherwise the first
// supported language.
func NewLanguages(supported []string, def string) *Languages {
	l := &Languages{supported: slices.Clone(supported)}
	switch {
	case len(l.supported) == 0:
	case def != "" && slices.Contains(l.supported, def):
		l.def = def
	case slices.Contains(l.supported, DefaultLanguage):
		l.def = DefaultLanguage
	default:
		l.def = l.supported[0]
	}
	l.current = l.def
	return l
}

// Supported returns a copy of the supported languages.
func (l *Languages) Supported() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.supported)
}

// Available reports whether any language is supported.
func (l *Languages) Available() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.supported) > 0
}

// Default returns the language restored by SetCurrent("").
func (l *Languages) Default() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.def
}

// Current returns the selected language, or "" when OCR is unavailable.
func (l *Languages) Current() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// SetCurrent selects lang. An empty lang restores the default.
func (l *Languages) SetCurrent(lang string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.supported) == 0 {
		return NotAvailable("", "no OCR languages available")
	}
	if lang == "" {
		l.current = l.def
		return nil
	}
	if !slices.Contains(l.supported, lang) {
		return fmt.Errorf("unsupported language %q", lang)
	}
	l.current = lang
	return nil
}
