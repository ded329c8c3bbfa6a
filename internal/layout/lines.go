package layout

import (
	"math"
	"sort"
	"strings"

	"github.com/feichai0017/casefolio/internal/models"
)

// word is a positioned token before line and block assignment.
type word struct {
	text string
	box  models.BoundingBox
}

func (w word) height() float64  { return w.box.Y1() - w.box.Y0() }
func (w word) centerY() float64 { return (w.box.Y0() + w.box.Y1()) / 2 }

// groupWords orders words top-to-bottom, left-to-right and assigns line and block indexes. Every word but the last
// of its line carries a trailing space, so a line reads correctly when its spans are concatenated.
// A new line starts when the vertical center moves by more than half a line height; a new block starts when the
// gap to the previous line exceeds one line height.
func groupWords(words []word) []Span {
	if len(words) == 0 {
		return nil
	}

	sorted := make([]word, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool {
		if math.Abs(sorted[i].centerY()-sorted[j].centerY()) > 0.5*math.Max(sorted[i].height(), 1) {
			return sorted[i].centerY() < sorted[j].centerY()
		}
		return sorted[i].box.X0() < sorted[j].box.X0()
	})

	var lines [][]word
	for _, w := range sorted {
		if n := len(lines); n > 0 {
			last := lines[n-1]
			ref := last[0]
			if math.Abs(w.centerY()-ref.centerY()) <= 0.5*math.Max(ref.height(), 1) {
				lines[n-1] = append(last, w)
				continue
			}
		}
		lines = append(lines, []word{w})
	}

	spans := make([]Span, 0, len(words))
	block := 0
	var prevBottom, prevHeight float64
	for li, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].box.X0() < line[j].box.X0() })
		top, bottom, height := lineExtent(line)
		if li > 0 && top-prevBottom > math.Max(prevHeight, height) {
			block++
		}
		for wi, w := range line {
			spans = append(spans, Span{Text: spaced(w.text, wi < len(line)-1), BBox: w.box, LineIndex: li, BlockIndex: block})
		}
		prevBottom, prevHeight = bottom, height
	}
	return spans
}

func lineExtent(line []word) (top, bottom, height float64) {
	top, bottom = math.Inf(1), math.Inf(-1)
	for _, w := range line {
		top = math.Min(top, w.box.Y0())
		bottom = math.Max(bottom, w.box.Y1())
	}
	return top, bottom, bottom - top
}

func spaced(text string, more bool) string {
	if more {
		return text + " "
	}
	return text
}

// plainText renders spans line by line.
func plainText(spans []Span) string {
	var b strings.Builder
	line := -1
	for _, s := range spans {
		if s.LineIndex != line {
			if line >= 0 {
				b.WriteByte('\n')
			}
			line = s.LineIndex
		}
		b.WriteString(s.Text)
	}
	return b.String()
}

func clampBox(x0, y0, x1, y1 float64) models.BoundingBox {
	c := func(v float64) float64 {
		if v < 0 || math.IsNaN(v) {
			return 0
		}
		return v
	}
	x0, y0, x1, y1 = c(x0), c(y0), c(x1), c(y1)
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	return models.BoundingBox{x0, y0, x1, y1}
}

