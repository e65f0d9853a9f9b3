package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	yaml "go.yaml.in/yaml/v3"

	"github.com/lehigh-university-libraries/quadocr/pkg/hocr"
	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize",
	Short: "Recognize the text lines of an image",
	Long: `Recognize the text lines of an image with one of the OCR engines.

Each line is reported with its text, confidence and the quadrilateral it
occupies in the image's normalized space. The result can be written as
YAML (readable by "select --lines"), as an hOCR document, or as plain text.`,
	RunE: runRecognize,
}

var (
	imagePath  string
	engineName string
	language   string
	format     string
	outputPath string
)

func init() {
	RootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().StringVar(&imagePath, "image", "", "Path to input image file (required)")
	recognizeCmd.Flags().StringVar(&engineName, "engine", "", "Engine to use: tesseract, vision, azure, hocr, htr-ollama, htr-openai, htr-claude, htr-gemini (default from settings)")
	recognizeCmd.Flags().StringVar(&language, "language", "", "BCP 47 language tag to recognize (default from settings)")
	recognizeCmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml, hocr, text")
	recognizeCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output path (prints to stdout if not specified)")

	err := recognizeCmd.MarkFlagRequired("image")
	if err != nil {
		slog.Error("Unable to mark image as required", "err", err)
		os.Exit(1)
	}
}

func runRecognize(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		return fmt.Errorf("input image file does not exist: %s", imagePath)
	}

	img, err := ocr.LoadImage(imagePath)
	if err != nil {
		return err
	}

	res, err := recognize(cmd.Context(), newRegistry(), img, engineName, language)
	if err != nil {
		return err
	}

	out, err := render(res, img, format)
	if err != nil {
		return err
	}
	return outputResult(out)
}

// recognize runs one engine over img and waits for the result.
func recognize(ctx context.Context, registry *ocr.Registry, img *ocr.Image, engine, lang string) (*ocr.Result, error) {
	e, err := engineFor(registry, engine)
	if err != nil {
		return nil, err
	}

	langs := engineLanguages(ctx, e, settings)
	if err := langs.SetCurrent(lang); err != nil {
		return nil, err
	}
	config := settings.ocrConfig(e.Name(), langs.Current())

	slog.Info("Recognizing image", "image", img.Path, "engine", e.Name(), "language", config.Language)

	res, err := ocr.Recognize(ctx, e, img, config).Wait(ctx)
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}

	slog.Info("Recognition completed", "lines", len(res.Lines), "duration", res.Duration)
	return res, nil
}

func render(res *ocr.Result, img *ocr.Image, format string) (string, error) {
	switch format {
	case "yaml":
		data, err := yaml.Marshal(res)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case "hocr":
		content := hocr.Write(res.Lines, img.Width, img.Height)
		return hocr.WrapInHOCRDocument(content, img.Width, img.Height), nil
	case "text":
		text, _ := res.AllText()
		return text + "\n", nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// loadResult reads lines written by recognize --format yaml.
func loadResult(path string) (*ocr.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var res ocr.Result
	if err := yaml.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse result %s: %w", path, err)
	}
	return &res, nil
}

func outputResult(s string) error {
	if outputPath != "" {
		return os.WriteFile(outputPath, []byte(s), 0644)
	}
	fmt.Print(s)
	return nil
}
