package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/casefolio/internal/llm"
	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/pkg/logger"
)

func event(t *testing.T, id string, day int, desc string) models.SynthesizedEvent {
	t.Helper()
	d, err := models.NewDate(2024, time.January, day)
	require.NoError(t, err)
	return models.SynthesizedEvent{ID: id, CaseID: "case-1", EventDate: d, Description: desc}
}

func injuryPair(t *testing.T) []models.SynthesizedEvent {
	return []models.SynthesizedEvent{
		event(t, "e1", 10, "Plaintiff suffered an injury in the accident."),
		event(t, "e2", 20, "Plaintiff stated there was no pain and felt fine."),
	}
}

func TestInjuryDenialCandidate(t *testing.T) {
	candidates := Candidates(injuryPair(t))
	require.Len(t, candidates, 1)
	assert.Equal(t, models.PatternInjuryDenial, candidates[0].Pattern.Type)
	assert.Equal(t, "e1", candidates[0].Event1.ID)
}

func TestInjuryDenialConfirmedInFallback(t *testing.T) {
	got := New(llm.Fallback{}, logger.NewTestLogger()).Analyze(context.Background(), injuryPair(t))
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, models.SeverityHigh, c.Severity)
	assert.Equal(t, 0.92, c.Confidence)
	assert.Equal(t, models.PatternInjuryDenial, c.PatternType)
	assert.Equal(t, "e1", c.Event1.ID)
	assert.Equal(t, "e2", c.Event2.ID)
	assert.Equal(t, "case-1", c.CaseID)
	assert.NotEmpty(t, c.Explanation)
}

func TestCandidatesEitherDirection(t *testing.T) {
	events := []models.SynthesizedEvent{
		event(t, "e1", 1, "Patient declined the offered care."),
		event(t, "e2", 2, "Started physical therapy."),
	}
	candidates := Candidates(events)
	require.Len(t, candidates, 1)
	assert.Equal(t, models.PatternTreatmentInconsistency, candidates[0].Pattern.Type)
}

func TestCandidatesDeterministicOrder(t *testing.T) {
	events := []models.SynthesizedEvent{
		event(t, "e1", 1, "Injury treatment began before surgery."),
		event(t, "e2", 2, "No pain reported after therapy; medication declined."),
		event(t, "e3", 3, "Routine visit."),
	}
	first := Candidates(events)
	second := Candidates(events)
	require.Len(t, first, 3)
	assert.Equal(t, first, second)
	assert.Equal(t, models.PatternInjuryDenial, first[0].Pattern.Type)
	assert.Equal(t, models.PatternTimelineConflict, first[1].Pattern.Type)
	assert.Equal(t, models.PatternTreatmentInconsistency, first[2].Pattern.Type)
}

func TestNoCandidatesForConsistentNarrative(t *testing.T) {
	events := []models.SynthesizedEvent{
		event(t, "e1", 10, "Emergency medical treatment provided by Dr. Sarah Johnson, MD with charges of $3,450.00."),
	}
	assert.Empty(t, Candidates(events))
	assert.Empty(t, New(nil, logger.NewTestLogger()).Analyze(context.Background(), events))
}

type erroringConfirmer struct{}

func (erroringConfirmer) Confirm(context.Context, llm.ConfirmRequest) (*llm.Confirmation, error) {
	return nil, errors.New("reasoning service down")
}

type rejectingConfirmer struct{}

func (rejectingConfirmer) Confirm(context.Context, llm.ConfirmRequest) (*llm.Confirmation, error) {
	return &llm.Confirmation{IsContradiction: false, Confidence: 0.9}, nil
}

func TestConfirmerErrorFallsBackPerPair(t *testing.T) {
	log := logger.NewTestLogger()
	got := New(erroringConfirmer{}, log).Analyze(context.Background(), injuryPair(t))
	require.Len(t, got, 1)
	assert.Equal(t, models.SeverityHigh, got[0].Severity)
	assert.Len(t, log.Messages("WARN"), 1)
}

func TestRejectedCandidatesAreDropped(t *testing.T) {
	assert.Empty(t, New(rejectingConfirmer{}, logger.NewTestLogger()).Analyze(context.Background(), injuryPair(t)))
}

func TestSummarize(t *testing.T) {
	empty := Summarize(nil)
	assert.Equal(t, 0, empty.Total)
	assert.Equal(t, "No contradictions detected", empty.RiskAssessment)

	mediums := Summarize([]models.Contradiction{{Severity: models.SeverityMedium}, {Severity: models.SeverityMedium}})
	assert.Equal(t, "medium", mediums.RiskLevel)
	assert.Equal(t, 0, mediums.HighPriorityCount)

	one := Summarize([]models.Contradiction{{Severity: models.SeverityMedium}, {Severity: models.SeverityLow}})
	assert.Equal(t, "low", one.RiskLevel)

	high := Summarize([]models.Contradiction{{Severity: models.SeverityHigh}, {Severity: models.SeverityLow}})
	assert.Equal(t, "high", high.RiskLevel)
	assert.Equal(t, 1, high.HighPriorityCount)
	assert.Equal(t, 2, high.Total)
	assert.Equal(t, "Case has high risk due to contradictions", high.RiskAssessment)
}
