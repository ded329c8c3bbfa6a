package extract

import (
	"strings"

	"github.com/feichai0017/casefolio/internal/layout"
	"github.com/feichai0017/casefolio/internal/models"
)

// positionedSpan is a span with its [start, end) byte range in the block string.
type positionedSpan struct {
	start int
	end   int
	box   models.BoundingBox
}

type block struct {
	text  string
	spans []positionedSpan
}

// buildBlocks groups spans by block index in order of first appearance and renders each block as one string:
// spans of a line are concatenated exactly as given, lines are joined by a single space.
func buildBlocks(spans []layout.Span) []block {
	var order []int
	byBlock := map[int][]layout.Span{}
	for _, s := range spans {
		if _, seen := byBlock[s.BlockIndex]; !seen {
			order = append(order, s.BlockIndex)
		}
		byBlock[s.BlockIndex] = append(byBlock[s.BlockIndex], s)
	}

	blocks := make([]block, 0, len(order))
	for _, idx := range order {
		blocks = append(blocks, renderBlock(byBlock[idx]))
	}
	return blocks
}

func renderBlock(spans []layout.Span) block {
	var lineOrder []int
	byLine := map[int][]layout.Span{}
	for _, s := range spans {
		if _, seen := byLine[s.LineIndex]; !seen {
			lineOrder = append(lineOrder, s.LineIndex)
		}
		byLine[s.LineIndex] = append(byLine[s.LineIndex], s)
	}

	var (
		b      strings.Builder
		placed []positionedSpan
	)
	for li, line := range lineOrder {
		if li > 0 {
			b.WriteByte(' ')
		}
		for _, s := range byLine[line] {
			start := b.Len()
			b.WriteString(s.Text)
			placed = append(placed, positionedSpan{start: start, end: b.Len(), box: s.BBox})
		}
	}
	return block{text: b.String(), spans: placed}
}

// matchBox is the union of the boxes of every span overlapping [start, end).
func matchBox(spans []positionedSpan, start, end int) (models.BoundingBox, bool) {
	var (
		box   models.BoundingBox
		found bool
	)
	for _, s := range spans {
		if s.end <= start || s.start >= end {
			continue
		}
		if !found {
			box, found = s.box, true
			continue
		}
		box = box.Union(s.box)
	}
	return box, found
}
