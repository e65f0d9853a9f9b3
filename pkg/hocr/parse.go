package hocr

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gogpu/gg"
	"golang.org/x/net/html"
	"golang.org/x/text/encoding/charmap"

	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
	"github.com/lehigh-university-libraries/quadocr/pkg/quad"
)

// lineClasses are the hOCR classes Tesseract and friends use for lines.
var lineClasses = []string{"ocr_line", "ocr_header", "ocr_caption", "ocr_textfloat"}

// Parse reads the first page of an hOCR document. Line boxes are
// normalized by the page bbox.
func Parse(data []byte) ([]ocr.TextLine, error) {
	decoded, err := toUTF8(data)
	if err != nil {
		return nil, err
	}

	doc, err := html.Parse(bytes.NewReader(decoded))
	if err != nil {
		return nil, fmt.Errorf("failed to parse hOCR: %w", err)
	}

	pageNode := findFirst(doc, func(n *html.Node) bool {
		return hasClass(n, "ocr_page")
	})
	if pageNode == nil {
		return nil, fmt.Errorf("no ocr_page elements found in hOCR data")
	}

	var width, height float64
	if bbox, ok := parseBBox(getAttrVal(pageNode, "title")); ok {
		width, height = bbox[2]-bbox[0], bbox[3]-bbox[1]
	}

	var lineNodes []*html.Node
	walk(pageNode, func(n *html.Node) bool {
		if slices.ContainsFunc(lineClasses, func(c string) bool { return hasClass(n, c) }) {
			lineNodes = append(lineNodes, n)
			return false
		}
		return true
	})

	var lines []ocr.TextLine
	for _, n := range lineNodes {
		line, ok := processLine(n)
		if !ok {
			continue
		}
		lines = append(lines, line)
		width = max(width, line.Box.BR.X)
		height = max(height, line.Box.BR.Y)
	}

	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("hOCR page has no size")
	}
	for i := range lines {
		lines[i].Box = lines[i].Box.Transform(gg.Scale(1/width, 1/height))
	}
	return lines, nil
}

// processLine returns the line in pixel coordinates.
func processLine(n *html.Node) (ocr.TextLine, bool) {
	bbox, ok := parseBBox(getAttrVal(n, "title"))
	if !ok {
		return ocr.TextLine{}, false
	}

	var words []string
	var confSum float64
	var confCount int
	walk(n, func(c *html.Node) bool {
		if !hasClass(c, "ocrx_word") {
			return true
		}
		if text := extractTextContent(c); text != "" {
			words = append(words, text)
		}
		if conf, ok := ParseTitle(getAttrVal(c, "title"))["x_wconf"]; ok && len(conf) > 0 {
			if v, err := strconv.ParseFloat(conf[0], 64); err == nil {
				confSum += v
				confCount++
			}
		}
		return false
	})

	text := strings.Join(words, " ")
	if len(words) == 0 {
		text = strings.Join(strings.Fields(extractTextContent(n)), " ")
	}
	if text == "" {
		return ocr.TextLine{}, false
	}

	confidence := 1.0
	if confCount > 0 {
		confidence = confSum / float64(confCount) / 100
	}

	return ocr.TextLine{
		Text:       text,
		Confidence: confidence,
		Box:        quad.FromRect(gg.NewRect(gg.Pt(bbox[0], bbox[1]), gg.Pt(bbox[2], bbox[3]))),
	}, true
}

// toUTF8 converts Latin-1 documents to UTF-8 based on the declared charset.
func toUTF8(data []byte) ([]byte, error) {
	content := strings.ToLower(string(data[:min(len(data), 2048)]))
	idx := strings.Index(content, "charset=")
	if idx < 0 {
		return data, nil
	}
	enc := strings.FieldsFunc(content[idx+len("charset="):], func(r rune) bool {
		return r == '"' || r == ';' || r == '\'' || r == '>' || r == ' ' || r == '/'
	})
	if len(enc) == 0 || enc[0] == "utf-8" || enc[0] == "utf8" {
		return data, nil
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", enc[0], err)
	}
	return decoded, nil
}

// ParseTitle breaks down an hOCR title attribute into its components
// Example input: "bbox 100 200 300 400; x_wconf 95"
func ParseTitle(title string) map[string][]string {
	result := make(map[string][]string)
	for _, part := range strings.Split(title, ";") {
		items := strings.Fields(part)
		if len(items) > 0 {
			result[items[0]] = items[1:]
		}
	}
	return result
}

func parseBBox(title string) ([4]float64, bool) {
	var out [4]float64
	bbox, ok := ParseTitle(title)["bbox"]
	if !ok || len(bbox) < 4 {
		return out, false
	}
	for i := range out {
		v, err := strconv.ParseFloat(bbox[i], 64)
		if err != nil {
			return out, false
		}
		out[i] = v
	}
	return out, true
}

// walk visits n's descendants depth first. Returning false from visit
// skips the node's children.
func walk(n *html.Node, visit func(*html.Node) bool) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && !visit(c) {
			continue
		}
		walk(c, visit)
	}
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if match(c) {
			found = c
			return false
		}
		return true
	})
	return found
}

func hasClass(n *html.Node, class string) bool {
	return slices.Contains(strings.Fields(getAttrVal(n, "class")), class)
}

// extractTextContent gets all text from a node and its children
func extractTextContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return strings.TrimSpace(n.Data)
	}

	var parts []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if text := extractTextContent(c); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Get the value of a specific attribute from a node
func getAttrVal(n *html.Node, attrName string) string {
	for _, attr := range n.Attr {
		if attr.Key == attrName {
			return attr.Val
		}
	}
	return ""
}
