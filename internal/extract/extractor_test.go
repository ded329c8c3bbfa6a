package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/casefolio/internal/layout"
	"github.com/feichai0017/casefolio/internal/models"
)

func pagesOf(text string) []layout.Page {
	return layout.LayoutText("records.txt", text).Pages
}

func TestExtractSingleLine(t *testing.T) {
	pages := pagesOf("Visit on 01/10/2024 at Mercy Hospital Emergency Room cost $3,450.00")
	facts := New().Extract(pages, "records.txt")
	require.Len(t, facts, 3)

	date, amount, name := facts[0], facts[1], facts[2]

	assert.Equal(t, models.FactTypeDate, date.Type())
	d, ok := date.DateValue()
	require.True(t, ok)
	assert.Equal(t, models.Date{Year: 2024, Month: time.January, Day: 10}, d)
	assert.Equal(t, models.BoundingBox{131, 72, 201, 84}, date.Source.BoundingBox)
	assert.Equal(t, "01/10/2024", date.TextMatch)

	assert.Equal(t, models.AmountValue{Amount: 3450}, amount.Value)
	assert.Equal(t, models.BoundingBox{460, 72, 523, 84}, amount.Source.BoundingBox)

	assert.Equal(t, models.NameValue{Name: "Mercy Hospital Emergency Room"}, name.Value)
	assert.Equal(t, models.BoundingBox{225, 72, 422, 84}, name.Source.BoundingBox)

	for _, f := range facts {
		assert.Equal(t, "records.txt", f.Source.DocumentName)
		assert.Equal(t, 1, f.Source.PageNumber)
		assert.Equal(t, models.DeterministicConfidence, f.Confidence)
		assert.NoError(t, f.Source.BoundingBox.Validate())
	}
}

func TestExtractIsPure(t *testing.T) {
	pages := pagesOf("On 03/15/2024 Dr. Sarah Johnson billed $8,200.00\n\nPaid $45 on 4/2/2024")
	first := New().Extract(pages, "a.txt")
	second := New().Extract(pages, "a.txt")
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestExtractDropsCalendarInvalidDates(t *testing.T) {
	facts := New().Extract(pagesOf("13/01/2024 02/30/2024 00/15/2024 01/15/0000 2/29/2024"), "dates.txt")
	require.Len(t, facts, 1)
	d, ok := facts[0].DateValue()
	require.True(t, ok)
	assert.Equal(t, "2024-02-29", d.String())
}

func TestExtractAmounts(t *testing.T) {
	facts := New().Extract(pagesOf("Charges $3,450.00 and $8,200.00 plus $45"), "bill.txt")
	var amounts []float64
	for _, f := range facts {
		if v, ok := f.Value.(models.AmountValue); ok {
			amounts = append(amounts, v.Amount)
		}
	}
	assert.Equal(t, []float64{3450, 8200, 45}, amounts)
}

func TestExtractNameWithTitleAndCredential(t *testing.T) {
	facts := New().Extract(pagesOf("Provider: Dr. Sarah Johnson, MD"), "bill.txt")
	require.Len(t, facts, 1)
	assert.Equal(t, models.NameValue{Name: "Dr. Sarah Johnson, MD"}, facts[0].Value)
	// "Dr." starts after "Provider:" and one word gap
	assert.Equal(t, 72.0+9*7+5, facts[0].Source.BoundingBox.X0())
}

func TestExtractNameAcrossLines(t *testing.T) {
	facts := New().Extract(pagesOf("seen by Sarah\nJohnson today"), "note.txt")
	require.Len(t, facts, 1)
	assert.Equal(t, "Sarah Johnson", facts[0].Value.String())
	box := facts[0].Source.BoundingBox
	assert.Equal(t, 72.0, box.Y0())
	assert.Equal(t, 72.0+14+12, box.Y1())
}

func TestExtractOrderPerBlock(t *testing.T) {
	pages := pagesOf("Paid $10.00 to John Smith on 01/02/2024\n\nOn 02/03/2024 paid $20.00")
	facts := New().Extract(pages, "order.txt")

	var kinds []models.FactType
	for _, f := range facts {
		kinds = append(kinds, f.Type())
	}
	assert.Equal(t, []models.FactType{
		models.FactTypeDate, models.FactTypeAmount, models.FactTypePersonName,
		models.FactTypeDate, models.FactTypeAmount,
	}, kinds)
}

func TestExtractDocumentStableIDs(t *testing.T) {
	doc := layout.LayoutText("records.txt", "On 01/10/2024 paid $100.00\fOn 01/11/2024 paid $200.00")
	e := New()

	a := e.ExtractDocument("doc-1", doc)
	b := e.ExtractDocument("doc-1", doc)
	c := e.ExtractDocument("doc-2", doc)
	require.Len(t, a, 4)

	ids := map[string]bool{}
	for i := range a {
		assert.Equal(t, "doc-1", a[i].DocumentID)
		assert.Equal(t, a[i].ID, b[i].ID)
		assert.NotEqual(t, a[i].ID, c[i].ID)
		ids[a[i].ID] = true
	}
	assert.Len(t, ids, 4)
	assert.Equal(t, 2, a[2].Source.PageNumber)
}

func TestExtractEmptyInput(t *testing.T) {
	assert.Empty(t, New().Extract(nil, "none"))
	assert.Empty(t, New().ExtractDocument("x", nil))
}

func TestExtractJoinsSplitSpansVerbatim(t *testing.T) {
	span := func(text string, x0, x1 float64) layout.Span {
		return layout.Span{Text: text, BBox: models.BoundingBox{x0, 10, x1, 20}}
	}
	pages := []layout.Page{{
		PageNumber: 1,
		Spans: []layout.Span{
			span("Charges: $", 0, 60),
			span("3,450.00", 60, 110),
			span(" on 01/15/", 110, 170),
			span("2024", 170, 200),
		},
	}}

	facts := New().Extract(pages, "styled.pdf")
	require.Len(t, facts, 2)

	d, ok := facts[0].DateValue()
	require.True(t, ok)
	assert.Equal(t, "2024-01-15", d.String())
	assert.Equal(t, models.BoundingBox{110, 10, 200, 20}, facts[0].Source.BoundingBox)

	assert.Equal(t, models.AmountValue{Amount: 3450}, facts[1].Value)
	assert.Equal(t, models.BoundingBox{0, 10, 110, 20}, facts[1].Source.BoundingBox)
}
