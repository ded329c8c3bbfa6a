package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/casefolio/internal/models"
)

func amount(v float64) FactSummary { return FactSummary{Type: models.FactTypeAmount, Value: models.AmountValue{Amount: v}} }

func name(n string) FactSummary {
	return FactSummary{Type: models.FactTypePersonName, Value: models.NameValue{Name: n}, Role: RoleOf(n)}
}

func TestFallbackDescriptionTemplates(t *testing.T) {
	tests := []struct {
		facts []FactSummary
		want  string
	}{
		{
			facts: []FactSummary{amount(3450), name("Mercy Hospital Emergency Room")},
			want:  "Emergency medical treatment provided by Mercy Hospital Emergency Room with charges of $3,450.00.",
		},
		{
			facts: []FactSummary{name("Valley Radiology Center"), amount(1200.5)},
			want:  "Medical imaging services performed at Valley Radiology Center for $1,200.50.",
		},
		{
			facts: []FactSummary{amount(90), name("Core Physical Therapy")},
			want:  "Physical therapy treatment by Core Physical Therapy totaling $90.00.",
		},
		{
			facts: []FactSummary{amount(8200), name("Dr. Sarah Johnson, MD")},
			want:  "Medical service provided by Dr. Sarah Johnson, MD with charges of $8,200.00.",
		},
		{facts: []FactSummary{amount(10)}, want: "Financial transaction recorded."},
		{facts: []FactSummary{name("John Smith")}, want: "Professional service or consultation noted."},
		{facts: nil, want: "Event recorded in case file."},
	}
	for _, tt := range tests {
		got, err := Fallback{}.Describe(context.Background(), DescribeRequest{Facts: tt.facts})
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestFallbackDescriptionIsDeterministic(t *testing.T) {
	req := DescribeRequest{Facts: []FactSummary{amount(3450), name("Mercy Hospital Emergency Room")}}
	first := FallbackDescription(req)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, FallbackDescription(req))
	}
	assert.Contains(t, first, "$3,450.00")
	assert.Contains(t, first, "Emergency")
}

func TestRoleOf(t *testing.T) {
	assert.Equal(t, "medical provider", RoleOf("Dr. Sarah Johnson"))
	assert.Equal(t, "medical provider", RoleOf("Sarah Johnson, MD"))
	assert.Equal(t, "physical therapist", RoleOf("Mark Lee PT"))
	assert.Equal(t, "medical facility", RoleOf("Mercy Hospital"))
	assert.Equal(t, "", RoleOf("John Smith"))
}

func TestFallbackConfirm(t *testing.T) {
	ctx := context.Background()

	c, err := Fallback{}.Confirm(ctx, ConfirmRequest{
		Event1Description: "Treated for injury after the accident.",
		Event2Description: "Plaintiff reported no pain and felt fine.",
		PatternType:       models.PatternInjuryDenial,
	})
	require.NoError(t, err)
	assert.True(t, c.IsContradiction)
	assert.Equal(t, "high", c.Severity)
	assert.Equal(t, 0.92, c.Confidence)

	c, err = Fallback{}.Confirm(ctx, ConfirmRequest{
		Event1Description: "Patient refused care at the scene.",
		Event2Description: "Physical treatment began.",
		PatternType:       models.PatternTreatmentInconsistency,
	})
	require.NoError(t, err)
	assert.True(t, c.IsContradiction)
	assert.Equal(t, "medium", c.Severity)

	c, err = Fallback{}.Confirm(ctx, ConfirmRequest{
		Event1Description: "Visit before surgery.",
		Event2Description: "Visit after surgery.",
		PatternType:       models.PatternTimelineConflict,
	})
	require.NoError(t, err)
	assert.False(t, c.IsContradiction)
}

func TestDescribePrompt(t *testing.T) {
	d, err := models.NewDate(2024, 1, 10)
	require.NoError(t, err)
	prompt := DescribePrompt(DescribeRequest{Date: d, Facts: []FactSummary{amount(3450), name("Dr. Sarah Johnson, MD")}})
	assert.Contains(t, prompt, "January 10, 2024")
	assert.Contains(t, prompt, "- amount: 3450.00")
	assert.Contains(t, prompt, "- person name: Dr. Sarah Johnson, MD (medical provider)")
}

func TestSummarizeSkipsDates(t *testing.T) {
	d, _ := models.NewDate(2024, 1, 10)
	facts := []models.ExtractedFact{
		{Value: models.DateValue{Date: d}},
		{Value: models.AmountValue{Amount: 5}},
		{Value: models.NameValue{Name: "Mercy Hospital"}},
	}
	got := Summarize(facts)
	require.Len(t, got, 2)
	assert.Equal(t, models.FactTypeAmount, got[0].Type)
	assert.Equal(t, "medical facility", got[1].Role)
}
