// Package synthesis turns extracted facts into one described event per date.
package synthesis

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/casefolio/internal/llm"
	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/pkg/logger"
)

var eventNamespace = uuid.MustParse("0b8e6c52-7f0e-5d1a-8c3b-2e9f4a6d1c07")

// Scope names the case and (optionally) the document the events belong to.
type Scope struct {
	CaseID     string
	DocumentID string
}

func (s Scope) key() string {
	if s.DocumentID != "" {
		return "doc:" + s.DocumentID
	}
	return "case:" + s.CaseID
}

type Synthesizer struct {
	describer llm.Describer
	logger    logger.Logger
	now       func() time.Time
}

func New(describer llm.Describer, log logger.Logger) *Synthesizer {
	if describer == nil {
		describer = llm.Fallback{}
	}
	return &Synthesizer{
		describer: describer,
		logger:    log,
		now:       time.Now,
	}
}

// Bucket collects the facts associated with one date, in association order.
type Bucket struct {
	Date  models.Date
	Facts []models.ExtractedFact
}

// Synthesize groups facts by date and describes every qualifying bucket. Events come back ordered by date; a
// delegate failure only switches the description to the deterministic template.
func (s *Synthesizer) Synthesize(ctx context.Context, scope Scope, facts []models.ExtractedFact) []models.SynthesizedEvent {
	buckets := Group(facts)
	events := make([]models.SynthesizedEvent, 0, len(buckets))
	now := s.now().UTC()

	for _, b := range buckets {
		if !qualifies(b) {
			continue
		}
		description, generator := s.describe(ctx, b)
		ids := make([]string, len(b.Facts))
		for i, f := range b.Facts {
			ids[i] = f.ID
		}
		events = append(events, models.SynthesizedEvent{
			ID:            uuid.NewSHA1(eventNamespace, []byte(scope.key()+"|"+b.Date.String())).String(),
			CaseID:        scope.CaseID,
			DocumentID:    scope.DocumentID,
			EventDate:     b.Date,
			Description:   description,
			Category:      Categorize(description),
			SourceFactIDs: ids,
			SourceFacts:   b.Facts,
			Generator:     generator,
			CreatedAt:     now,
		})
	}

	s.logger.Debug("Synthesized events",
		logger.Int("facts", len(facts)),
		logger.Int("dates", len(buckets)),
		logger.Int("events", len(events)),
	)
	return events
}

func (s *Synthesizer) describe(ctx context.Context, b Bucket) (string, string) {
	req := llm.DescribeRequest{Date: b.Date, Facts: llm.Summarize(b.Facts)}
	desc, err := s.describer.Describe(ctx, req)
	if err == nil && strings.TrimSpace(desc) != "" {
		return strings.TrimSpace(desc), llm.NameOf(s.describer)
	}
	if err != nil {
		s.logger.Warn("Event description failed, using template",
			logger.String("date", b.Date.String()),
			logger.Error(err),
		)
	}
	return llm.FallbackDescription(req), llm.Fallback{}.Name()
}

// Group keys date facts by their own value and attaches every other fact to the first date fact found with the same
// page number. Pages are matched by number only, so in a whole-case run page 1 of one document can anchor facts on
// page 1 of another. Facts whose page number carries no date are dropped. Buckets are sorted by date.
func Group(facts []models.ExtractedFact) []Bucket {
	byDate := map[models.Date]*Bucket{}
	firstDateOnPage := map[int]models.Date{}

	for _, f := range facts {
		d, ok := f.DateValue()
		if !ok {
			continue
		}
		b, exists := byDate[d]
		if !exists {
			b = &Bucket{Date: d}
			byDate[d] = b
		}
		b.Facts = append(b.Facts, f)

		if _, seen := firstDateOnPage[f.Source.PageNumber]; !seen {
			firstDateOnPage[f.Source.PageNumber] = d
		}
	}

	for _, f := range facts {
		if f.Type() == models.FactTypeDate {
			continue
		}
		d, ok := firstDateOnPage[f.Source.PageNumber]
		if !ok {
			continue
		}
		byDate[d].Facts = append(byDate[d].Facts, f)
	}

	buckets := make([]Bucket, 0, len(byDate))
	for _, b := range byDate {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Date.Before(buckets[j].Date) })
	return buckets
}

// qualifies drops a bucket holding a single date fact and nothing else.
func qualifies(b Bucket) bool {
	return !(len(b.Facts) == 1 && b.Facts[0].Type() == models.FactTypeDate)
}
