package layout

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/pkg/logger"
)

const (
	letterWidth  = 612.0
	letterHeight = 792.0
)

// PDFProvider decodes text-layer PDFs with github.com/ledongthuc/pdf. Coordinates are PDF points with the origin
// moved to the top-left corner of the page.
type PDFProvider struct {
	logger     logger.Logger
	maxWorkers int
}

func NewPDFProvider(log logger.Logger, maxWorkers int) *PDFProvider {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &PDFProvider{
		logger:     log,
		maxWorkers: maxWorkers,
	}
}

func (p *PDFProvider) Name() string { return "pdf" }

func (p *PDFProvider) CanDecode(mimeType string) bool {
	return mimeType == "application/pdf"
}

func (p *PDFProvider) Decode(ctx context.Context, name string, file io.Reader) (*Document, error) {
	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}

	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf %s: %w", name, err)
	}

	numPages := pdfReader.NumPage()
	pages := make([]*Page, numPages)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)

	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			page, err := p.decodePage(pdfReader.Page(pageNum), pageNum)
			if err != nil {
				return err
			}
			pages[pageNum-1] = page
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	doc := &Document{
		Name:     name,
		Pages:    make([]Page, 0, numPages),
		Metadata: p.metadata(pdfReader, content),
	}
	for _, page := range pages {
		if page != nil {
			doc.Pages = append(doc.Pages, *page)
		}
	}

	p.logger.Debug("Decoded pdf",
		logger.String("document", name),
		logger.Int("pages", len(doc.Pages)),
	)
	return doc, nil
}

func (p *PDFProvider) decodePage(page pdf.Page, pageNum int) (result *Page, err error) {
	if page.V.IsNull() {
		return nil, nil
	}

	// the decoder panics on some malformed content streams
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to decode page %d: %v", pageNum, r)
		}
	}()

	width, height := mediaBox(page.V)
	words := glyphWords(page.Content().Text, height)
	spans := groupWords(words)

	text, err := page.GetPlainText(nil)
	if err != nil || strings.TrimSpace(text) == "" {
		text = plainText(spans)
	}

	return &Page{
		PageNumber: pageNum,
		PlainText:  text,
		Spans:      spans,
		Dimensions: Dimensions{Width: width, Height: height},
	}, nil
}

// glyphWords merges glyph runs into words. Runs on the same baseline that touch horizontally join.
func glyphWords(texts []pdf.Text, pageHeight float64) []word {
	var (
		words   []word
		current strings.Builder
		box     models.BoundingBox
		lastX1  float64
		lastY   float64
		open    bool
	)

	flush := func() {
		if open && strings.TrimSpace(current.String()) != "" {
			words = append(words, word{text: strings.TrimSpace(current.String()), box: box})
		}
		current.Reset()
		open = false
	}

	for _, t := range texts {
		size := t.FontSize
		if size <= 0 {
			size = 10
		}
		if strings.TrimSpace(t.S) == "" {
			flush()
			continue
		}
		glyph := clampBox(t.X, pageHeight-(t.Y+size), t.X+t.W, pageHeight-t.Y)
		if open && (math.Abs(t.Y-lastY) > size*0.5 || t.X-lastX1 > size*0.3 || t.X < lastX1-size) {
			flush()
		}
		if !open {
			box = glyph
			open = true
		} else {
			box = box.Union(glyph)
		}
		current.WriteString(t.S)
		lastX1 = t.X + t.W
		lastY = t.Y
	}
	flush()
	return words
}

func mediaBox(v pdf.Value) (float64, float64) {
	for node := v; !node.IsNull(); node = node.Key("Parent") {
		box := node.Key("MediaBox")
		if box.IsNull() || box.Len() < 4 {
			continue
		}
		w := box.Index(2).Float64() - box.Index(0).Float64()
		h := box.Index(3).Float64() - box.Index(1).Float64()
		if w > 0 && h > 0 {
			return w, h
		}
	}
	return letterWidth, letterHeight
}

func (p *PDFProvider) metadata(r *pdf.Reader, content []byte) models.DocumentMetadata {
	hash := sha256.Sum256(content)
	meta := models.DocumentMetadata{
		FileType:   models.PDF,
		FileSize:   int64(len(content)),
		MimeType:   "application/pdf",
		Pages:      r.NumPage(),
		Hash:       hex.EncodeToString(hash[:]),
		Properties: map[string]interface{}{"decoder": p.Name()},
	}

	trailer := r.Trailer()
	if !trailer.IsNull() {
		info := trailer.Key("Info")
		if !info.IsNull() {
			if title := info.Key("Title"); !title.IsNull() {
				meta.Title = title.Text()
			}
			if author := info.Key("Author"); !author.IsNull() {
				meta.Author = author.Text()
			}
		}
	}
	return meta
}
