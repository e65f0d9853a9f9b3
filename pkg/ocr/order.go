package ocr

import (
	"sort"
	"strings"

	"github.com/golang/geo/r1"
)

// SortReadingOrder sorts lines top to bottom, then left to right within
// each row. Two lines share a row when their vertical extents overlap by
// more than half the height of the shorter one.
func SortReadingOrder(lines []TextLine) {
	if len(lines) < 2 {
		return
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Bounds().Y.Lo < lines[j].Bounds().Y.Lo
	})

	var rows [][]TextLine
	var extents []r1.Interval
	for _, line := range lines {
		y := line.Bounds().Y
		last := len(rows) - 1
		if last >= 0 && sameRow(extents[last], y) {
			rows[last] = append(rows[last], line)
			extents[last] = extents[last].Union(y)
			continue
		}
		rows = append(rows, []TextLine{line})
		extents = append(extents, y)
	}

	i := 0
	for _, row := range rows {
		sort.SliceStable(row, func(a, b int) bool {
			return row[a].Bounds().X.Lo < row[b].Bounds().X.Lo
		})
		i += copy(lines[i:], row)
	}
}

func sameRow(row, line r1.Interval) bool {
	overlap := row.Intersection(line)
	if overlap.IsEmpty() {
		return false
	}
	shorter := min(row.Length(), line.Length())
	if shorter <= 0 {
		return row.Intersects(line)
	}
	return overlap.Length() > shorter/2
}

// JoinText joins line texts with newlines.
func JoinText(lines []TextLine) string {
	texts := make([]string, 0, len(lines))
	for _, line := range lines {
		texts = append(texts, line.Text)
	}
	return strings.Join(texts, "\n")
}
