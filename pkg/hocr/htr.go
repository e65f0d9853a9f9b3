package hocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strings"

	"golang.org/x/image/draw"

	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
)

const linePrompt = `You are an OCR (Optical Character Recognition) system. Your task is to extract and transcribe the text from this line of text.

INSTRUCTIONS:
- This image contains a line of text with multiple words
- Read the text from left to right
- Return ONLY the text content you can read, with spaces between words
- Do not add explanations, descriptions, or apologies
- If the text is handwritten, do your best to interpret it
- Preserve capitalization and punctuation as you see it
- If you cannot read some words, use your best guess based on context

TEXT:`

const retryPrompt = `This is an OCR task. Extract any visible text from this image. Return only the text characters you can see, even if unclear. Do not apologize or explain.`

// minLineHeight is the height small line crops are scaled up to before
// transcription.
const minLineHeight = 48

// HTR recognizes handwriting by detecting line boxes on the page and
// transcribing each line crop with a vision model.
type HTR struct {
	transcriber ocr.Transcriber
	padding     int
	maxRetries  int
}

// NewHTR creates a handwriting engine backed by t
func NewHTR(t ocr.Transcriber) *HTR {
	return &HTR{
		transcriber: t,
		padding:     10,
		maxRetries:  2,
	}
}

// Name returns the engine name, qualified by the transcriber
func (h *HTR) Name() string {
	if h.transcriber == nil {
		return "htr"
	}
	return "htr-" + h.transcriber.Name()
}

// ValidateConfig checks that a transcriber is configured
func (h *HTR) ValidateConfig(config ocr.Config) error {
	if h.transcriber == nil {
		return ocr.NoCreate(h.Name(), errors.New("no transcriber configured"))
	}
	return nil
}

// Recognize detects lines in img and transcribes each of them
func (h *HTR) Recognize(ctx context.Context, img *ocr.Image, config ocr.Config) ([]ocr.TextLine, error) {
	if err := h.ValidateConfig(config); err != nil {
		return nil, err
	}

	decoded, err := img.Decode()
	if err != nil {
		return nil, err
	}
	boxes := DetectLines(decoded)
	slog.Info("Detected lines", "engine", h.Name(), "transcriber", h.transcriber.Name(), "line_count", len(boxes))

	origin := decoded.Bounds().Min
	var lines []ocr.TextLine
	for i, box := range boxes {
		crop, err := h.cropLine(decoded, box.Rect().Add(origin))
		if err != nil {
			slog.Warn("Failed to extract line image", "lineIndex", i, "err", err)
			continue
		}

		text, err := h.transcribeLine(ctx, config, crop)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ocr.ErrNotAvailable) {
				return nil, err
			}
			slog.Warn("Failed to transcribe line", "lineIndex", i, "err", err)
			continue
		}
		if text == "" {
			continue
		}

		lines = append(lines, ocr.TextLine{
			Text:       text,
			Confidence: 1,
			Box:        img.NormalizeRect(box.Rect()),
		})
	}

	return lines, nil
}

// transcribeLine asks the transcriber for the text of one line, retrying
// with a blunter prompt when the answer is empty or an apology.
func (h *HTR) transcribeLine(ctx context.Context, config ocr.Config, crop *ocr.Image) (string, error) {
	lineConfig := config
	if lineConfig.Prompt == "" {
		lineConfig.Prompt = linePrompt
	}

	var lastErr error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		result, err := h.transcriber.Transcribe(ctx, lineConfig, crop)
		lastErr = err
		if err == nil {
			result = strings.TrimSpace(result)
			if result != "" && !isApology(result) {
				return result, nil
			}
		} else if ctx.Err() != nil || errors.Is(err, ocr.ErrNotAvailable) {
			return "", err
		}
		lineConfig.Prompt = retryPrompt
	}

	return "", lastErr
}

func isApology(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "sorry") || strings.Contains(lower, "can't")
}

// cropLine extracts r plus padding from src as a PNG, scaling short lines
// up so the model can read them.
func (h *HTR) cropLine(src image.Image, r image.Rectangle) (*ocr.Image, error) {
	r = r.Inset(-h.padding).Intersect(src.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("invalid dimensions")
	}

	size := r.Size()
	if size.Y < minLineHeight {
		size = image.Pt(size.X*minLineHeight/size.Y, minLineHeight)
	}

	dst := image.NewRGBA(image.Rectangle{Max: size})
	if size == r.Size() {
		draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, r, draw.Src, nil)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode line image: %w", err)
	}
	return &ocr.Image{
		Data:   buf.Bytes(),
		Format: "png",
		Width:  size.X,
		Height: size.Y,
	}, nil
}
