package hocr

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
)

// Write renders lines as an hOCR document for a page of width x height
// pixels. Word boxes are estimated by splitting each line box in
// proportion to the length of its words.
func Write(lines []ocr.TextLine, width, height int) string {
	var spans []string

	wordIndex := 0
	for i, line := range lines {
		b := line.Bounds()
		x0, y0 := scale(b.X.Lo, width), scale(b.Y.Lo, height)
		x1, y1 := scale(b.X.Hi, width), scale(b.Y.Hi, height)
		conf := int(math.Round(line.Confidence * 100))

		words := strings.Fields(line.Text)
		total := 0
		for _, w := range words {
			total += utf8.RuneCountInString(w)
		}

		var wordSpans []string
		seen := 0
		for _, w := range words {
			n := utf8.RuneCountInString(w)
			wx0 := x0 + (x1-x0)*seen/max(total, 1)
			wx1 := x0 + (x1-x0)*(seen+n)/max(total, 1)
			seen += n
			wordIndex++
			wordSpans = append(wordSpans, fmt.Sprintf(`<span class='ocrx_word' id='word_%d' title='bbox %d %d %d %d; x_wconf %d'>%s</span>`,
				wordIndex, wx0, y0, wx1, y1, conf, html.EscapeString(w)))
		}

		spans = append(spans, fmt.Sprintf(`<span class='ocr_line' id='line_%d' title='bbox %d %d %d %d; x_wconf %d'>%s</span>`,
			i+1, x0, y0, x1, y1, conf, strings.Join(wordSpans, " ")))
	}

	return WrapInHOCRDocument(strings.Join(spans, "\n"), width, height)
}

func scale(v float64, size int) int {
	return int(math.Round(v * float64(size)))
}

// WrapInHOCRDocument wraps content in a complete hOCR HTML document
func WrapInHOCRDocument(content string, width, height int) string {
	return fmt.Sprintf(`<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="en" lang="en">
<head>
<title></title>
<meta http-equiv="Content-Type" content="text/html;charset=utf-8" />
<meta name='ocr-system' content='quadocr' />
<meta name='ocr-capabilities' content='ocr_page ocr_line ocrx_word' />
</head>
<body>
<div class='ocr_page' id='page_1' title='bbox 0 0 %d %d'>
%s
</div>
</body>
</html>`, width, height, content)
}
