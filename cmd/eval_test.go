package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
)

func TestCalculateAccuracyMetrics(t *testing.T) {
	tests := []struct {
		name          string
		original      string
		transcribed   string
		wantAccuracy  float64
		wantCorrect   int
		wantSubs      int
		wantDeletions int
		wantInserts   int
	}{
		{
			name:         "identical after normalization",
			original:     "Dear  Sir,\nyours truly",
			transcribed:  "dear sir, yours   TRULY",
			wantAccuracy: 1,
			wantCorrect:  4,
		},
		{
			name:         "one substitution",
			original:     "the quick brown fox",
			transcribed:  "the quack brown fox",
			wantAccuracy: 0.75,
			wantCorrect:  3,
			wantSubs:     1,
		},
		{
			name:          "missing line",
			original:      "first line\nsecond line",
			transcribed:   "first line",
			wantAccuracy:  0.5,
			wantCorrect:   2,
			wantDeletions: 2,
		},
		{
			name:         "extra word",
			original:     "hello world",
			transcribed:  "hello big world",
			wantAccuracy: 0.5,
			wantCorrect:  2,
			wantInserts:  1,
		},
		{
			name:         "nothing recognized",
			original:     "",
			transcribed:  "",
			wantAccuracy: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateAccuracyMetrics(tt.original, tt.transcribed)
			if diff := result.WordAccuracy - tt.wantAccuracy; diff > 0.01 || diff < -0.01 {
				t.Errorf("WordAccuracy = %.3f, want %.3f", result.WordAccuracy, tt.wantAccuracy)
			}
			if result.CorrectWords != tt.wantCorrect || result.Substitutions != tt.wantSubs ||
				result.Deletions != tt.wantDeletions || result.Insertions != tt.wantInserts {
				t.Errorf("correct/subs/dels/ins = %d/%d/%d/%d, want %d/%d/%d/%d",
					result.CorrectWords, result.Substitutions, result.Deletions, result.Insertions,
					tt.wantCorrect, tt.wantSubs, tt.wantDeletions, tt.wantInserts)
			}
		})
	}
}

func TestProcessEvaluation(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.txt":    "Dear Sir",
		"b.txt":    "yours truly",
		"eval.csv": "image,transcript\na.png,a.txt\nb.png,b.txt\nmissing.png,missing.txt\nshort\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	recognized := map[string]string{
		"a.png": "Dear Sir",
		"b.png": "yours truely",
	}
	recognizeFn := func(imagePath string) (*ocr.Result, error) {
		text, ok := recognized[filepath.Base(imagePath)]
		if !ok {
			return nil, errors.New("no such image")
		}
		var lines []ocr.TextLine
		for _, l := range strings.Split(text, "\n") {
			lines = append(lines, ocr.TextLine{Text: l})
		}
		return &ocr.Result{Lines: lines}, nil
	}

	config := EvalConfig{CSVPath: filepath.Join(dir, "eval.csv"), Dir: dir}
	results, err := processEvaluation(config, recognizeFn)
	if err != nil {
		t.Fatalf("processEvaluation() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Identifier != "a.png" || results[0].WordAccuracy != 1 {
		t.Errorf("first result = %+v", results[0])
	}
	if results[1].Substitutions != 1 || results[1].Recognized != "yours truely" {
		t.Errorf("second result = %+v", results[1])
	}

	config.TestRows = []int{1}
	results, err = processEvaluation(config, recognizeFn)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Identifier != "b.png" {
		t.Errorf("rows filter returned %+v", results)
	}

	if _, err := processEvaluation(EvalConfig{CSVPath: filepath.Join(dir, "nope.csv")}, recognizeFn); err == nil {
		t.Error("expected error for missing CSV")
	}
}

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		name     string
		s1       string
		s2       string
		expected int
	}{
		{
			name:     "identical strings",
			s1:       "hello",
			s2:       "hello",
			expected: 0,
		},
		{
			name:     "one substitution",
			s1:       "hello",
			s2:       "hallo",
			expected: 1,
		},
		{
			name:     "one insertion",
			s1:       "hello",
			s2:       "helloo",
			expected: 1,
		},
		{
			name:     "one deletion",
			s1:       "hello",
			s2:       "hell",
			expected: 1,
		},
		{
			name:     "empty strings",
			s1:       "",
			s2:       "",
			expected: 0,
		},
		{
			name:     "one empty string",
			s1:       "hello",
			s2:       "",
			expected: 5,
		},
		{
			name:     "completely different",
			s1:       "abc",
			s2:       "xyz",
			expected: 3,
		},
		{
			name:     "multibyte runes",
			s1:       "Cañon",
			s2:       "Canon",
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := levenshteinDistance(tt.s1, tt.s2)
			if got != tt.expected {
				t.Errorf("levenshteinDistance(%q, %q) = %d, want %d",
					tt.s1, tt.s2, got, tt.expected)
			}
		})
	}
}

func TestCalculateSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		s1       string
		s2       string
		expected float64
	}{
		{
			name:     "identical strings",
			s1:       "hello",
			s2:       "hello",
			expected: 1.0,
		},
		{
			name:     "completely different",
			s1:       "abc",
			s2:       "xyz",
			expected: 0.0,
		},
		{
			name:     "one char different",
			s1:       "hello",
			s2:       "hallo",
			expected: 0.8,
		},
		{
			name:     "empty strings",
			s1:       "",
			s2:       "",
			expected: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calculateSimilarity(tt.s1, tt.s2)
			if diff := got - tt.expected; diff > 0.01 || diff < -0.01 {
				t.Errorf("calculateSimilarity(%q, %q) = %.3f, want %.3f",
					tt.s1, tt.s2, got, tt.expected)
			}
		})
	}
}
