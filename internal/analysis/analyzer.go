// Package analysis flags contradictory event pairs with keyword patterns and asks a confirmer to rule on each.
package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/casefolio/internal/llm"
	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/pkg/logger"
)

var contradictionNamespace = uuid.MustParse("3d5a9e21-4c6b-5f80-a1d2-7e3b9c0f4a18")

// Candidate is an event pair flagged by one pattern. Event1 precedes Event2 in the input order.
type Candidate struct {
	Event1  models.SynthesizedEvent
	Event2  models.SynthesizedEvent
	Pattern Pattern
}

type Analyzer struct {
	confirmer llm.Confirmer
	fallback  llm.Fallback
	logger    logger.Logger
	now       func() time.Time
}

func New(confirmer llm.Confirmer, log logger.Logger) *Analyzer {
	if confirmer == nil {
		confirmer = llm.Fallback{}
	}
	return &Analyzer{
		confirmer: confirmer,
		logger:    log,
		now:       time.Now,
	}
}

// Candidates checks every unordered pair against every pattern. Output order follows (i, j, pattern).
func Candidates(events []models.SynthesizedEvent) []Candidate {
	var out []Candidate
	for i := 0; i < len(events); i++ {
		for j := i + 1; j < len(events); j++ {
			for _, p := range Patterns {
				if p.Matches(events[i].Description, events[j].Description) {
					out = append(out, Candidate{Event1: events[i], Event2: events[j], Pattern: p})
				}
			}
		}
	}
	return out
}

// Analyze confirms every candidate. A confirmer error on one pair falls back to the deterministic checks for that
// pair only; the stage itself does not fail.
func (a *Analyzer) Analyze(ctx context.Context, events []models.SynthesizedEvent) []models.Contradiction {
	candidates := Candidates(events)
	var out []models.Contradiction
	now := a.now().UTC()

	for _, c := range candidates {
		req := llm.ConfirmRequest{
			Event1Description:  c.Event1.Description,
			Event1Date:         c.Event1.EventDate.String(),
			Event2Description:  c.Event2.Description,
			Event2Date:         c.Event2.EventDate.String(),
			PatternType:        c.Pattern.Type,
			PatternDescription: c.Pattern.Description,
		}
		verdict, err := a.confirmer.Confirm(ctx, req)
		if err != nil || verdict == nil {
			a.logger.Warn("Contradiction confirmation failed, using known patterns",
				logger.String("pattern", string(c.Pattern.Type)),
				logger.String("event1", c.Event1.ID),
				logger.String("event2", c.Event2.ID),
				logger.Error(err),
			)
			verdict, _ = a.fallback.Confirm(ctx, req)
		}
		if !verdict.IsContradiction {
			continue
		}
		out = append(out, a.contradiction(c, verdict, now))
	}

	a.logger.Debug("Analyzed events",
		logger.Int("events", len(events)),
		logger.Int("candidates", len(candidates)),
		logger.Int("contradictions", len(out)),
	)
	return out
}

func (a *Analyzer) contradiction(c Candidate, v *llm.Confirmation, now time.Time) models.Contradiction {
	explanation := v.Explanation
	if explanation == "" {
		explanation = "Conflicting information detected"
	}
	impact := v.Impact
	if impact == "" {
		impact = "May affect case credibility"
	}
	confidence := v.Confidence
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}
	key := c.Event1.ID + "|" + c.Event2.ID + "|" + string(c.Pattern.Type)
	return models.Contradiction{
		ID:          uuid.NewSHA1(contradictionNamespace, []byte(key)).String(),
		CaseID:      c.Event1.CaseID,
		DocumentID:  c.Event1.DocumentID,
		Event1:      c.Event1.Ref(),
		Event2:      c.Event2.Ref(),
		PatternType: c.Pattern.Type,
		Severity:    models.ParseSeverity(v.Severity),
		Confidence:  confidence,
		Explanation: explanation,
		Impact:      impact,
		DetectedAt:  now,
	}
}
