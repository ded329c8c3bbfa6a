package layout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/feichai0017/casefolio/internal/models"
)

// PageBreak splits pages explicitly in plain-text input.
const PageBreak = "\f"

// Simulated letter-size geometry for plain text.
const (
	textMargin     = 72.0
	textLineHeight = 12.0
	textLineStep   = 14.0
	textCharWidth  = 7.0
	textWordGap    = 5.0
	textMaxLines   = int((letterHeight - 2*textMargin) / textLineHeight)
)

// TextProvider lays out plain text on simulated letter pages: 7pt per character, 14pt line step, 72pt margins.
// Blank lines separate blocks. It gives text documents and tests a deterministic coordinate space.
type TextProvider struct{}

func NewTextProvider() *TextProvider { return &TextProvider{} }

func (p *TextProvider) Name() string { return "text" }

func (p *TextProvider) CanDecode(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/plain")
}

func (p *TextProvider) Decode(_ context.Context, name string, r io.Reader) (*Document, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read text: %w", err)
	}
	doc := LayoutText(name, string(content))
	hash := sha256.Sum256(content)
	doc.Metadata.FileSize = int64(len(content))
	doc.Metadata.Hash = hex.EncodeToString(hash[:])
	return doc, nil
}

// LayoutText is the pure layout function behind TextProvider.
func LayoutText(name, text string) *Document {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var pages [][]string
	for _, chunk := range strings.Split(text, PageBreak) {
		var current []string
		for _, line := range strings.Split(chunk, "\n") {
			if len(current) >= textMaxLines {
				pages = append(pages, current)
				current = nil
			}
			current = append(current, line)
		}
		pages = append(pages, current)
	}

	doc := &Document{
		Name: name,
		Metadata: models.DocumentMetadata{
			FileType:   models.Text,
			MimeType:   "text/plain",
			Properties: map[string]interface{}{"decoder": "text"},
		},
	}
	for i, lines := range pages {
		doc.Pages = append(doc.Pages, layoutPage(i+1, lines))
	}
	doc.Metadata.Pages = len(doc.Pages)
	return doc
}

func layoutPage(number int, lines []string) Page {
	var spans []Span
	block, lineIndex := 0, 0
	blankRun := false
	y := textMargin
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			if len(spans) > 0 && !blankRun {
				block++
			}
			blankRun = true
			y += textLineStep
			continue
		}
		blankRun = false
		x := textMargin
		for fi, f := range fields {
			width := float64(len([]rune(f))) * textCharWidth
			spans = append(spans, Span{
				Text:       spaced(f, fi < len(fields)-1),
				BBox:       models.BoundingBox{x, y, x + width, y + textLineHeight},
				LineIndex:  lineIndex,
				BlockIndex: block,
			})
			x += width + textWordGap
		}
		lineIndex++
		y += textLineStep
	}
	return Page{
		PageNumber: number,
		PlainText:  strings.Join(lines, "\n"),
		Spans:      spans,
		Dimensions: Dimensions{Width: letterWidth, Height: letterHeight},
	}
}
