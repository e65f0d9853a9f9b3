package hocr

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sort"
)

// DetectLines finds the text lines in img by connected component analysis.
// Returned boxes are in img's pixel space, relative to img.Bounds().Min.
func DetectLines(img image.Image) []LineBox {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil
	}

	m := closeMask(textMask(img), 2)
	components := findWordComponents(m)
	words := refineComponentsToWords(components, width, height)
	slog.Debug("Word detection completed", "word_count", len(words), "image_size", fmt.Sprintf("%dx%d", width, height))

	lines := groupWordsIntoLines(words)
	slog.Debug("Grouped words into lines", "line_count", len(lines))
	return lines
}

// mask is a binarized image; true marks ink.
type mask struct {
	width, height int
	ink           []bool
}

func (m *mask) at(x, y int) bool {
	return x >= 0 && x < m.width && y >= 0 && y < m.height && m.ink[y*m.width+x]
}

func textMask(img image.Image) *mask {
	bounds := img.Bounds()
	m := &mask{
		width:  bounds.Dx(),
		height: bounds.Dy(),
		ink:    make([]bool, bounds.Dx()*bounds.Dy()),
	}
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			m.ink[y*m.width+x] = isTextPixel(img.At(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}
	return m
}

// closeMask bridges horizontal gaps of up to 2*radius pixels, joining the
// letters of a word into one component.
func closeMask(m *mask, radius int) *mask {
	out := &mask{width: m.width, height: m.height, ink: make([]bool, len(m.ink))}
	for y := 0; y < m.height; y++ {
		row := y * m.width
		for x := 0; x < m.width; x++ {
			if m.ink[row+x] {
				out.ink[row+x] = true
				continue
			}
			left, right := false, false
			for d := 1; d <= radius; d++ {
				left = left || m.at(x-d, y)
				right = right || m.at(x+d, y)
			}
			out.ink[row+x] = left && right
		}
	}
	return out
}

func findWordComponents(m *mask) []WordBox {
	visited := make([]bool, len(m.ink))
	var components []WordBox

	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			if visited[y*m.width+x] || !m.ink[y*m.width+x] {
				continue
			}
			minX, minY, maxX, maxY := floodFillComponent(m, visited, x, y)

			w := maxX - minX + 1
			h := maxY - minY + 1
			if isValidWordSize(w, h, m.width, m.height) {
				components = append(components, WordBox{
					X:      minX,
					Y:      minY,
					Width:  w,
					Height: h,
					Text:   fmt.Sprintf("word_%d", len(components)+1),
				})
			}
		}
	}

	return components
}

// floodFillComponent marks the 8-connected component at (x, y) and returns
// its extent. It uses an explicit stack so large blobs cannot overflow.
func floodFillComponent(m *mask, visited []bool, x, y int) (minX, minY, maxX, maxY int) {
	minX, minY, maxX, maxY = x, y, x, y
	stack := []image.Point{{X: x, Y: y}}
	visited[y*m.width+x] = true

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		minX = min(minX, p.X)
		maxX = max(maxX, p.X)
		minY = min(minY, p.Y)
		maxY = max(maxY, p.Y)

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := p.X+dx, p.Y+dy
				if !m.at(nx, ny) || visited[ny*m.width+nx] {
					continue
				}
				visited[ny*m.width+nx] = true
				stack = append(stack, image.Point{X: nx, Y: ny})
			}
		}
	}
	return minX, minY, maxX, maxY
}

func isTextPixel(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	gray := (r + g + b) / 3
	return gray < 32768
}

func isValidWordSize(w, h, imgWidth, imgHeight int) bool {
	minWidth, minHeight := 8, 10
	maxWidth := imgWidth / 2
	maxHeight := imgHeight / 5
	return w >= minWidth && h >= minHeight && w <= maxWidth && h <= maxHeight
}

func refineComponentsToWords(components []WordBox, imgWidth, imgHeight int) []WordBox {
	if len(components) == 0 {
		return components
	}

	sort.Slice(components, func(i, j int) bool {
		if abs(components[i].Y-components[j].Y) < 10 {
			return components[i].X < components[j].X
		}
		return components[i].Y < components[j].Y
	})

	return mergeNearbyComponents(components)
}

func mergeNearbyComponents(components []WordBox) []WordBox {
	if len(components) <= 1 {
		return components
	}

	var mergedWords []WordBox
	currentGroup := []WordBox{components[0]}

	for _, component := range components[1:] {
		lastInGroup := currentGroup[len(currentGroup)-1]

		if shouldMergeComponents(lastInGroup, component) {
			currentGroup = append(currentGroup, component)
		} else {
			mergedWords = append(mergedWords, mergeComponentGroup(currentGroup))
			currentGroup = []WordBox{component}
		}
	}

	return append(mergedWords, mergeComponentGroup(currentGroup))
}

func shouldMergeComponents(a, b WordBox) bool {
	horizontalGap := b.X - (a.X + a.Width)
	verticalOverlap := b.Y+b.Height >= a.Y && b.Y <= a.Y+a.Height
	maxGap := max(a.Height, b.Height) / 3
	return horizontalGap >= 0 && horizontalGap <= maxGap && verticalOverlap
}

func mergeComponentGroup(group []WordBox) WordBox {
	if len(group) == 1 {
		return group[0]
	}

	r := group[0].Rect()
	for _, comp := range group[1:] {
		r = r.Union(comp.Rect())
	}

	return WordBox{
		X:      r.Min.X,
		Y:      r.Min.Y,
		Width:  r.Dx(),
		Height: r.Dy(),
		Text:   fmt.Sprintf("merged_word_%d", len(group)),
	}
}

func groupWordsIntoLines(words []WordBox) []LineBox {
	if len(words) == 0 {
		return nil
	}

	sort.Slice(words, func(i, j int) bool {
		if abs(words[i].Y-words[j].Y) < words[i].Height/2 {
			return words[i].X < words[j].X
		}
		return words[i].Y < words[j].Y
	})

	var lines []LineBox
	var currentLineWords []WordBox

	for _, word := range words {
		if len(currentLineWords) == 0 || wordsOnSameLine(currentLineWords, word) {
			currentLineWords = append(currentLineWords, word)
			continue
		}
		lines = append(lines, createLineFromWords(currentLineWords))
		currentLineWords = []WordBox{word}
	}

	if len(currentLineWords) > 0 {
		lines = append(lines, createLineFromWords(currentLineWords))
	}

	return lines
}

func wordsOnSameLine(currentLineWords []WordBox, newWord WordBox) bool {
	if len(currentLineWords) == 0 {
		return true
	}

	avgHeight := 0
	minY, maxY := currentLineWords[0].Y, currentLineWords[0].Y+currentLineWords[0].Height
	for _, word := range currentLineWords {
		avgHeight += word.Height
		minY = min(minY, word.Y)
		maxY = max(maxY, word.Y+word.Height)
	}
	avgHeight /= len(currentLineWords)

	tolerance := avgHeight / 3
	return newWord.Y+newWord.Height >= minY-tolerance && newWord.Y <= maxY+tolerance
}

func createLineFromWords(words []WordBox) LineBox {
	if len(words) == 0 {
		return LineBox{}
	}

	r := words[0].Rect()
	for _, word := range words[1:] {
		r = r.Union(word.Rect())
	}

	return LineBox{
		Words:  words,
		X:      r.Min.X,
		Y:      r.Min.Y,
		Width:  r.Dx(),
		Height: r.Dy(),
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
