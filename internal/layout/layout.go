// Package layout is the boundary to text-layout decoders. A decoder turns a document byte stream into pages of
// positioned text spans; it never interprets the text.
package layout

import (
	"context"
	"io"

	"github.com/feichai0017/casefolio/internal/models"
)

// Span is a run of text with its box on the page.
type Span struct {
	Text       string             `json:"text"`
	BBox       models.BoundingBox `json:"bbox"`
	LineIndex  int                `json:"line_index"`
	BlockIndex int                `json:"block_index"`
}

// Dimensions of a page in the decoder's coordinate space.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Page is the per-page output of a decoder. Bounding boxes share one coordinate space per page.
type Page struct {
	PageNumber int        `json:"page_number"`
	PlainText  string     `json:"plain_text"`
	Spans      []Span     `json:"spans"`
	Dimensions Dimensions `json:"page_dimensions"`
}

// Document is a decoded document.
type Document struct {
	Name     string                  `json:"name"`
	Pages    []Page                  `json:"pages"`
	Metadata models.DocumentMetadata `json:"metadata"`
}

// Provider decodes a document stream into positioned text.
type Provider interface {
	// Name identifies the decoder in logs
	Name() string

	// CanDecode checks whether the decoder handles the given MIME type
	CanDecode(mimeType string) bool

	// Decode reads the whole stream and returns every page
	Decode(ctx context.Context, name string, r io.Reader) (*Document, error)
}
