package ocr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gg"

	"github.com/lehigh-university-libraries/quadocr/pkg/quad"
)

type stubEngine struct {
	name        string
	lines       []TextLine
	err         error
	validateErr error
	block       bool
}

func (s *stubEngine) Name() string { return s.name }

func (s *stubEngine) ValidateConfig(Config) error { return s.validateErr }

func (s *stubEngine) Recognize(ctx context.Context, _ *Image, _ Config) ([]TextLine, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.lines, s.err
}

func box(x0, y0, x1, y1 float64) quad.Quad {
	return quad.FromRect(gg.NewRect(gg.Pt(x0, y0), gg.Pt(x1, y1)))
}

var testImage = &Image{Data: []byte{1}, Width: 100, Height: 100}

func waitResult(t *testing.T, job *Job) *Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := job.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return res
}

func TestRecognizeErrors(t *testing.T) {
	tests := []struct {
		name     string
		engine   Engine
		img      *Image
		config   Config
		wantCode ErrorCode
	}{
		{
			name:     "no engine",
			engine:   nil,
			img:      testImage,
			wantCode: CodeNotAvailable,
		},
		{
			name:     "invalid config",
			engine:   &stubEngine{name: "stub", validateErr: errors.New("missing key")},
			img:      testImage,
			wantCode: CodeNoCreate,
		},
		{
			name:     "engine reports unavailable",
			engine:   &stubEngine{name: "stub", validateErr: NotAvailable("stub", "no tessdata")},
			img:      testImage,
			wantCode: CodeNotAvailable,
		},
		{
			name:     "no lines",
			engine:   &stubEngine{name: "stub"},
			img:      testImage,
			wantCode: CodeUnrecognized,
		},
		{
			name:     "plain engine error",
			engine:   &stubEngine{name: "stub", err: errors.New("boom")},
			img:      testImage,
			wantCode: CodeUnrecognized,
		},
		{
			name:     "empty image",
			engine:   &stubEngine{name: "stub"},
			img:      &Image{},
			wantCode: CodeUnrecognized,
		},
		{
			name: "all lines below confidence",
			engine: &stubEngine{name: "stub", lines: []TextLine{
				{Text: "faint", Confidence: 0.2, Box: box(0, 0, 1, 0.1)},
			}},
			img:      testImage,
			config:   Config{MinConfidence: 0.5},
			wantCode: CodeUnrecognized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := waitResult(t, Recognize(context.Background(), tt.engine, tt.img, tt.config))
			if got := CodeOf(res.Err); got != tt.wantCode {
				t.Errorf("CodeOf(%v) = %v, want %v", res.Err, got, tt.wantCode)
			}
			if _, ok := res.AllText(); ok {
				t.Error("AllText() ok = true for a failed job")
			}
		})
	}
}

func TestRecognizeSortsAndFilters(t *testing.T) {
	engine := &stubEngine{name: "stub", lines: []TextLine{
		{Text: "second", Confidence: 0.9, Box: box(0.1, 0.5, 0.9, 0.6)},
		{Text: "  ", Confidence: 0.9, Box: box(0.1, 0.7, 0.9, 0.8)},
		{Text: "first", Confidence: 0.9, Box: box(0.1, 0.1, 0.9, 0.2)},
		{Text: "noise", Confidence: 0.1, Box: box(0.1, 0.3, 0.9, 0.4)},
	}}

	res := waitResult(t, Recognize(context.Background(), engine, testImage, Config{MinConfidence: 0.5}))
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	text, ok := res.AllText()
	if !ok || text != "first\nsecond" {
		t.Errorf("AllText() = %q, %v; want %q, true", text, ok, "first\nsecond")
	}
	if res.Engine != "stub" {
		t.Errorf("Engine = %q, want stub", res.Engine)
	}
}

func TestRecognizeCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	job := Recognize(ctx, &stubEngine{name: "stub", block: true}, testImage, Config{})

	if job.Result() != nil {
		t.Fatal("Result() before completion should be nil")
	}
	cancel()

	res := waitResult(t, job)
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", res.Err)
	}
	if job.Result() != res {
		t.Error("Result() after completion should return the same result")
	}
}

func TestRecognizeTimeout(t *testing.T) {
	job := Recognize(context.Background(), &stubEngine{name: "stub", block: true}, testImage, Config{Timeout: 10 * time.Millisecond})
	res := waitResult(t, job)
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want context.DeadlineExceeded", res.Err)
	}
}

func TestWaitContextEnds(t *testing.T) {
	job := Recognize(context.Background(), &stubEngine{name: "stub", block: true}, testImage, Config{Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := job.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestErrorIs(t *testing.T) {
	err := Unrecognized("tesseract", errors.New("blank page"))
	if !errors.Is(err, ErrUnrecognized) {
		t.Error("errors.Is(Unrecognized, ErrUnrecognized) = false")
	}
	if errors.Is(err, ErrNoCreate) {
		t.Error("errors.Is(Unrecognized, ErrNoCreate) = true")
	}
	wrapped := errors.Join(errors.New("context"), NoCreate("vision", nil))
	if CodeOf(wrapped) != CodeNoCreate {
		t.Errorf("CodeOf(wrapped) = %v", CodeOf(wrapped))
	}
	if CodeUnrecognized != 1 || CodeNoCreate != 2 || CodeNotAvailable != 3 {
		t.Error("error code numbering changed")
	}
}
