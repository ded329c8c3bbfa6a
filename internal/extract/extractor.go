// Package extract finds dates, monetary amounts and person names in decoded pages and ties each one to the union
// of the span boxes it was read from. Extraction is a pure function of its input.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/casefolio/internal/layout"
	"github.com/feichai0017/casefolio/internal/models"
)

var (
	datePattern   = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	amountPattern = regexp.MustCompile(`\$(\d{1,3}(?:,\d{3})*(?:\.\d{2})?)`)
	namePattern   = regexp.MustCompile(`\b(Dr\.|Mr\.|Mrs\.|Ms\.)?\s*([A-Z][a-z]+(?:\s+[A-Z][a-z]+)+)(?:,\s*(?:MD|JD|PhD|RN|Esq\.))?`)
)

// factNamespace seeds deterministic fact ids.
var factNamespace = uuid.MustParse("6f1c2a4e-8d3b-5e7f-9a0b-1c2d3e4f5a6b")

// Extractor holds no state; the zero value is ready to use.
type Extractor struct{}

func New() *Extractor { return &Extractor{} }

// Extract returns the facts of every page, keyed by document name.
func (e *Extractor) Extract(pages []layout.Page, documentName string) []models.ExtractedFact {
	return extract("", documentName, pages)
}

// ExtractDocument extracts a decoded document and stamps every fact with documentID.
func (e *Extractor) ExtractDocument(documentID string, doc *layout.Document) []models.ExtractedFact {
	if doc == nil {
		return nil
	}
	return extract(documentID, doc.Name, doc.Pages)
}

func extract(documentID, documentName string, pages []layout.Page) []models.ExtractedFact {
	seed := documentID
	if seed == "" {
		seed = documentName
	}

	var facts []models.ExtractedFact
	for _, page := range pages {
		for bi, b := range buildBlocks(page.Spans) {
			pe := pageExtraction{
				seed:         seed,
				documentID:   documentID,
				documentName: documentName,
				page:         page.PageNumber,
				block:        bi,
				text:         b.text,
				spans:        b.spans,
			}
			facts = append(facts, pe.dates()...)
			facts = append(facts, pe.amounts()...)
			facts = append(facts, pe.names()...)
		}
	}
	return facts
}

type pageExtraction struct {
	seed         string
	documentID   string
	documentName string
	page         int
	block        int
	text         string
	spans        []positionedSpan
}

func (p pageExtraction) dates() []models.ExtractedFact {
	var facts []models.ExtractedFact
	for _, m := range datePattern.FindAllStringSubmatchIndex(p.text, -1) {
		month, _ := strconv.Atoi(p.text[m[2]:m[3]])
		day, _ := strconv.Atoi(p.text[m[4]:m[5]])
		year, _ := strconv.Atoi(p.text[m[6]:m[7]])
		d, err := models.NewDate(year, time.Month(month), day)
		if err != nil {
			continue
		}
		if f, ok := p.fact(models.DateValue{Date: d}, m[0], m[1]); ok {
			facts = append(facts, f)
		}
	}
	return facts
}

func (p pageExtraction) amounts() []models.ExtractedFact {
	var facts []models.ExtractedFact
	for _, m := range amountPattern.FindAllStringSubmatchIndex(p.text, -1) {
		amount, err := strconv.ParseFloat(strings.ReplaceAll(p.text[m[2]:m[3]], ",", ""), 64)
		if err != nil {
			continue
		}
		if f, ok := p.fact(models.AmountValue{Amount: amount}, m[0], m[1]); ok {
			facts = append(facts, f)
		}
	}
	return facts
}

func (p pageExtraction) names() []models.ExtractedFact {
	var facts []models.ExtractedFact
	for _, m := range namePattern.FindAllStringIndex(p.text, -1) {
		start, end := trimRange(p.text, m[0], m[1])
		if start >= end {
			continue
		}
		if f, ok := p.fact(models.NameValue{Name: p.text[start:end]}, start, end); ok {
			facts = append(facts, f)
		}
	}
	return facts
}

func (p pageExtraction) fact(value models.FactValue, start, end int) (models.ExtractedFact, bool) {
	box, ok := matchBox(p.spans, start, end)
	if !ok {
		return models.ExtractedFact{}, false
	}
	source, err := models.NewSourceLink(p.documentName, p.page, box)
	if err != nil {
		return models.ExtractedFact{}, false
	}
	key := fmt.Sprintf("%s|%d|%d|%d|%s", p.seed, p.page, p.block, start, value.Type())
	return models.ExtractedFact{
		ID:         uuid.NewSHA1(factNamespace, []byte(key)).String(),
		DocumentID: p.documentID,
		Value:      value,
		Source:     source,
		Confidence: models.DeterministicConfidence,
		TextMatch:  p.text[start:end],
	}, true
}

func trimRange(s string, start, end int) (int, int) {
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return start, end
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}
