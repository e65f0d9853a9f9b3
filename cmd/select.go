package cmd

import (
	"fmt"
	"image"
	"log/slog"
	"os"

	"github.com/gogpu/gg"
	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
	"github.com/lehigh-university-libraries/quadocr/pkg/overlay"
	"github.com/lehigh-university-libraries/quadocr/pkg/quad"
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Select recognized text with a drag gesture over a displayed page",
	Long: `Select recognized text with a drag gesture over a page displayed in a quadrilateral.

The page is drawn into --quad (image pixels by default, covering the whole
image). The drag runs from --from to --to in view space, which
--view-transform maps into the quad's space. Lines come from a result
file written by "recognize --format yaml", or from running an engine.`,
	RunE: runSelect,
}

var (
	selectImage     string
	selectLines     string
	selectEngine    string
	selectLanguage  string
	selectQuad      string
	selectFrom      string
	selectTo        string
	selectView      string
	selectHighlight string
)

func init() {
	RootCmd.AddCommand(selectCmd)

	selectCmd.Flags().StringVar(&selectImage, "image", "", "Path to the page image")
	selectCmd.Flags().StringVar(&selectLines, "lines", "", "Result file from recognize --format yaml")
	selectCmd.Flags().StringVar(&selectEngine, "engine", "", "Engine to recognize the image with when --lines is not given")
	selectCmd.Flags().StringVar(&selectLanguage, "language", "", "BCP 47 language tag to recognize")
	selectCmd.Flags().StringVar(&selectQuad, "quad", "", `Display quad "x,y x,y x,y x,y", top left then clockwise`)
	selectCmd.Flags().StringVar(&selectFrom, "from", "", "Drag start x,y in view space (required)")
	selectCmd.Flags().StringVar(&selectTo, "to", "", "Drag end x,y in view space (required)")
	selectCmd.Flags().StringVar(&selectView, "view-transform", "", "View to display matrix a,b,c,d,e,f")
	selectCmd.Flags().StringVar(&selectHighlight, "highlight", "", "Write the image with the highlight drawn over it to this PNG")

	selectCmd.MarkFlagsOneRequired("lines", "image")
	for _, f := range []string{"from", "to"} {
		if err := selectCmd.MarkFlagRequired(f); err != nil {
			slog.Error("Unable to mark flag as required", "flag", f, "err", err)
			os.Exit(1)
		}
	}
}

func runSelect(cmd *cobra.Command, args []string) error {
	from, err := parsePoint(selectFrom)
	if err != nil {
		return err
	}
	to, err := parsePoint(selectTo)
	if err != nil {
		return err
	}
	view, err := parseMatrix(selectView)
	if err != nil {
		return err
	}

	var img *ocr.Image
	if selectImage != "" {
		img, err = ocr.LoadImage(selectImage)
		if err != nil {
			return err
		}
	}

	q, err := displayQuad(selectQuad, img)
	if err != nil {
		return err
	}

	var lines []ocr.TextLine
	if selectLines != "" {
		res, err := loadResult(selectLines)
		if err != nil {
			return err
		}
		lines = res.Lines
	} else {
		res, err := recognize(cmd.Context(), newRegistry(), img, selectEngine, selectLanguage)
		if err != nil {
			return err
		}
		lines = res.Lines
	}

	o := overlay.New(q, overlay.WithViewTransform(view))
	o.SetTextResult(lines)

	highlight := o.UpdateSelection(from, to)
	if highlight == nil {
		fmt.Println("No text available")
		return nil
	}

	sel := o.Selection()
	fmt.Printf("Interval: [%.4f, %.4f]\n", sel.Interval.Lo, sel.Interval.Hi)
	fmt.Printf("Highlight: %s\n", formatQuad(q.Inset(sel.Interval.Lo, sel.Interval.Hi)))
	if text, ok := o.CurrentSelectionText(); ok {
		fmt.Printf("Selected %d line(s):\n%s\n", len(sel.Fragments), text)
	} else {
		fmt.Println("No text selected")
	}

	if selectHighlight == "" {
		return nil
	}
	if img == nil {
		return fmt.Errorf("--highlight needs --image")
	}
	page, err := img.Decode()
	if err != nil {
		return err
	}
	return saveHighlight(selectHighlight, page, highlight, sel.Fragments)
}

// displayQuad parses s, defaulting to the image's own pixel rectangle.
func displayQuad(s string, img *ocr.Image) (quad.Quad, error) {
	if s != "" {
		return parseQuad(s)
	}
	if img == nil {
		return quad.Unit, nil
	}
	return quad.FromRect(gg.NewRect(gg.Pt(0, 0), gg.Pt(float64(img.Width), float64(img.Height)))), nil
}

func saveHighlight(path string, page image.Image, slab *gg.Path, fragments []overlay.Fragment) error {
	dc, err := drawHighlight(page, slab, fragments)
	if err != nil {
		return err
	}
	defer dc.Close()
	if err := dc.SavePNG(path); err != nil {
		return fmt.Errorf("failed to save highlight: %w", err)
	}
	slog.Info("Highlight written", "path", path)
	return nil
}

// drawHighlight shades the selected slab of the page and outlines the
// selected part of each line.
func drawHighlight(page image.Image, slab *gg.Path, fragments []overlay.Fragment) (*gg.Context, error) {
	dc := gg.NewContextForImage(page)

	appendPath(dc, slab)
	dc.SetRGBA(1, 0.85, 0, 0.3)
	if err := dc.Fill(); err != nil {
		dc.Close()
		return nil, err
	}

	dc.SetRGBA(0, 0.4, 1, 0.9)
	dc.SetLineWidth(2)
	for _, f := range fragments {
		appendPath(dc, f.HighlightPath())
		if err := dc.Stroke(); err != nil {
			dc.Close()
			return nil, err
		}
	}
	return dc, nil
}

func appendPath(dc *gg.Context, p *gg.Path) {
	for _, el := range p.Elements() {
		switch el := el.(type) {
		case gg.MoveTo:
			dc.MoveTo(el.Point.X, el.Point.Y)
		case gg.LineTo:
			dc.LineTo(el.Point.X, el.Point.Y)
		case gg.Close:
			dc.ClosePath()
		}
	}
}
