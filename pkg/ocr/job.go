package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Result is the outcome of one recognition job.
type Result struct {
	Engine   string        `yaml:"engine"`
	Language string        `yaml:"language,omitempty"`
	Lines    []TextLine    `yaml:"lines"`
	Err      error         `yaml:"-"`
	Duration time.Duration `yaml:"duration"`
}

// AllText returns every line joined in reading order.
func (r *Result) AllText() (string, bool) {
	if r == nil || r.Err != nil || len(r.Lines) == 0 {
		return "", false
	}
	return JoinText(r.Lines), true
}

// Job is a single in-flight recognition. It resolves exactly once.
type Job struct {
	done   chan struct{}
	result *Result
}

// Recognize starts engine on img in the background. Cancelling ctx
// resolves the job with ctx's error.
func Recognize(ctx context.Context, engine Engine, img *Image, config Config) *Job {
	job := &Job{done: make(chan struct{})}
	go func() {
		job.result = run(ctx, engine, img, config)
		close(job.done)
	}()
	return job
}

// Done is closed once the result is available.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result returns the result, or nil while the job is still running.
func (j *Job) Result() *Result {
	select {
	case <-j.done:
		return j.result
	default:
		return nil
	}
}

// Wait blocks until the job resolves or ctx ends.
func (j *Job) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-j.done:
		return j.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func run(ctx context.Context, engine Engine, img *Image, config Config) *Result {
	start := time.Now()
	result := &Result{Language: config.Language}

	if engine == nil {
		result.Err = NotAvailable(config.Engine, "no engine configured")
		return result
	}
	result.Engine = engine.Name()

	if img == nil || len(img.Data) == 0 {
		result.Err = Unrecognized(result.Engine, errors.New("empty image"))
		return result
	}

	if err := engine.ValidateConfig(config); err != nil {
		var ocrErr *Error
		if errors.As(err, &ocrErr) {
			result.Err = err
		} else {
			result.Err = NoCreate(result.Engine, err)
		}
		return result
	}

	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	slog.Debug("Starting recognition", "engine", result.Engine, "language", config.Language, "width", img.Width, "height", img.Height)

	lines, err := engine.Recognize(ctx, img, config)
	result.Duration = time.Since(start)
	if err != nil {
		result.Err = classify(ctx, result.Engine, err)
		slog.Debug("Recognition failed", "engine", result.Engine, "err", result.Err)
		return result
	}

	kept := lines[:0:0]
	for _, line := range lines {
		if strings.TrimSpace(line.Text) == "" {
			continue
		}
		if line.Confidence < config.MinConfidence {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) == 0 {
		result.Err = Unrecognized(result.Engine, nil)
		return result
	}

	SortReadingOrder(kept)
	result.Lines = kept
	slog.Debug("Recognition finished", "engine", result.Engine, "lines", len(kept), "dropped", len(lines)-len(kept), "duration", result.Duration)
	return result
}

func classify(ctx context.Context, engine string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(err, ctxErr) {
			return err
		}
		return fmt.Errorf("recognition stopped: %w", ctxErr)
	}
	var ocrErr *Error
	if errors.As(err, &ocrErr) {
		return err
	}
	return Unrecognized(engine, err)
}
