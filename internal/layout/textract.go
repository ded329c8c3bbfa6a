package layout

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	_ "golang.org/x/image/tiff"

	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/pkg/logger"
)

// TextractAPI is the part of the Textract client the decoder uses.
type TextractAPI interface {
	DetectDocumentText(ctx context.Context, params *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

type TextractConfig struct {
	Region        string
	AccessKey     string
	SecretKey     string
	MinConfidence float32
}

// TextractProvider decodes page images (and single-page PDFs) with AWS Textract. Textract returns geometry as
// ratios of the page; boxes are scaled to pixels for images and to points for PDFs.
type TextractProvider struct {
	client TextractAPI
	config *TextractConfig
	logger logger.Logger
}

func NewTextractProvider(ctx context.Context, cfg *TextractConfig, log logger.Logger) (*TextractProvider, error) {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKey,
		cfg.SecretKey,
		"",
	)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return NewTextractProviderWithClient(textract.NewFromConfig(awsCfg), cfg, log), nil
}

// NewTextractProviderWithClient wires a prepared client.
func NewTextractProviderWithClient(client TextractAPI, cfg *TextractConfig, log logger.Logger) *TextractProvider {
	return &TextractProvider{client: client, config: cfg, logger: log}
}

func (p *TextractProvider) Name() string { return "textract" }

func (p *TextractProvider) CanDecode(mimeType string) bool {
	supportedTypes := map[string]bool{
		"image/jpeg":      true,
		"image/jpg":       true,
		"image/png":       true,
		"image/tiff":      true,
		"application/pdf": true,
	}
	return supportedTypes[strings.ToLower(mimeType)]
}

func (p *TextractProvider) Decode(ctx context.Context, name string, reader io.Reader) (*Document, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	dims := Dimensions{Width: letterWidth, Height: letterHeight}
	fileType := models.PDF
	mimeType := "application/pdf"
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		dims = Dimensions{Width: float64(cfg.Width), Height: float64(cfg.Height)}
		fileType = models.Image
		mimeType = "image/" + format
	}

	result, err := p.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: data},
	})
	if err != nil {
		return nil, &models.ExternalServiceError{Service: "textract", Op: "DetectDocumentText", Err: err}
	}

	pages := p.pagesFromBlocks(result.Blocks, dims)
	hash := sha256.Sum256(data)
	doc := &Document{
		Name:  name,
		Pages: pages,
		Metadata: models.DocumentMetadata{
			FileType:   fileType,
			FileSize:   int64(len(data)),
			MimeType:   mimeType,
			Pages:      len(pages),
			Hash:       hex.EncodeToString(hash[:]),
			Properties: map[string]interface{}{"decoder": p.Name()},
		},
	}

	p.logger.Debug("Decoded document with textract",
		logger.String("document", name),
		logger.Int("pages", len(pages)),
		logger.Int("blocks", len(result.Blocks)),
	)
	return doc, nil
}

// pagesFromBlocks keeps WORD blocks above the confidence floor and groups them per page.
func (p *TextractProvider) pagesFromBlocks(blocks []types.Block, dims Dimensions) []Page {
	wordsByPage := map[int][]word{}
	maxPage := 1
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeWord || block.Text == nil {
			continue
		}
		if block.Confidence != nil && *block.Confidence < p.config.MinConfidence {
			continue
		}
		if block.Geometry == nil || block.Geometry.BoundingBox == nil {
			continue
		}
		page := 1
		if block.Page != nil && *block.Page > 0 {
			page = int(*block.Page)
		}
		if page > maxPage {
			maxPage = page
		}
		bb := block.Geometry.BoundingBox
		left, top := float64(bb.Left), float64(bb.Top)
		width, height := float64(bb.Width), float64(bb.Height)
		wordsByPage[page] = append(wordsByPage[page], word{
			text: *block.Text,
			box: clampBox(
				left*dims.Width,
				top*dims.Height,
				(left+width)*dims.Width,
				(top+height)*dims.Height,
			),
		})
	}

	pages := make([]Page, 0, maxPage)
	for n := 1; n <= maxPage; n++ {
		spans := groupWords(wordsByPage[n])
		pages = append(pages, Page{
			PageNumber: n,
			PlainText:  plainText(spans),
			Spans:      spans,
			Dimensions: dims,
		})
	}
	return pages
}
