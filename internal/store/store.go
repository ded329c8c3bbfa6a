// Package store is the persistence boundary of the pipeline. Every write is an idempotent upsert or a scoped
// replace so a redelivered job can re-apply it safely.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/feichai0017/casefolio/internal/models"
)

// Scope selects derived records: a single document, or a whole case when DocumentID is empty.
type Scope struct {
	CaseID     string
	DocumentID string
}

func (s Scope) String() string {
	if s.DocumentID != "" {
		return "document " + s.DocumentID
	}
	return "case " + s.CaseID
}

// JobStore persists ProcessingJob records.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ProcessingJob) error
	GetJob(ctx context.Context, id string) (*models.ProcessingJob, error)
	// UpdateJob stores job unless it would move the stored record backward or out of a terminal stage. The
	// cancel flag is sticky: once set in storage it survives updates from workers that have not seen it yet.
	UpdateJob(ctx context.Context, job *models.ProcessingJob) error
	RequestCancel(ctx context.Context, id string) error
	// DeleteJobsBefore removes terminal jobs completed before cutoff.
	DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// DocumentStore is the read side of the document registry plus the upload write.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	SaveDocument(ctx context.Context, doc *models.Document) error
}

// ResultStore persists facts, events and contradictions. Facts are never deleted by analysis.
type ResultStore interface {
	SaveFacts(ctx context.Context, documentID string, facts []models.ExtractedFact) error
	ListFacts(ctx context.Context, scope Scope) ([]models.ExtractedFact, error)

	ReplaceEvents(ctx context.Context, scope Scope, events []models.SynthesizedEvent) error
	ListEvents(ctx context.Context, scope Scope) ([]models.SynthesizedEvent, error)

	ReplaceContradictions(ctx context.Context, scope Scope, contradictions []models.Contradiction) error
	ListContradictions(ctx context.Context, scope Scope) ([]models.Contradiction, error)

	// DeleteAnalysis drops events and contradictions of the scope.
	DeleteAnalysis(ctx context.Context, scope Scope) error
}

// Store bundles everything a single backend provides.
type Store interface {
	JobStore
	DocumentStore
	ResultStore
	Ping(ctx context.Context) error
	Close() error
}

// CheckUpdate enforces the forward-only rule between the stored and incoming job.
func CheckUpdate(stored, next *models.ProcessingJob) error {
	if stored.Stage == next.Stage {
		return nil
	}
	if stored.Stage.IsTerminal() {
		return fmt.Errorf("%w: job %s is already %s", models.ErrIllegalTransition, stored.ID, stored.Stage)
	}
	if next.Stage != models.StageFailure && next.Stage < stored.Stage {
		return fmt.Errorf("%w: job %s cannot move from %s back to %s", models.ErrIllegalTransition, stored.ID, stored.Stage, next.Stage)
	}
	return nil
}

// Composite serves jobs from one backend and documents plus results from another.
type Composite struct {
	JobStore
	Data Store
}

var _ Store = (*Composite)(nil)

func (c *Composite) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return c.Data.GetDocument(ctx, id)
}

func (c *Composite) SaveDocument(ctx context.Context, doc *models.Document) error {
	return c.Data.SaveDocument(ctx, doc)
}

func (c *Composite) SaveFacts(ctx context.Context, documentID string, facts []models.ExtractedFact) error {
	return c.Data.SaveFacts(ctx, documentID, facts)
}

func (c *Composite) ListFacts(ctx context.Context, scope Scope) ([]models.ExtractedFact, error) {
	return c.Data.ListFacts(ctx, scope)
}

func (c *Composite) ReplaceEvents(ctx context.Context, scope Scope, events []models.SynthesizedEvent) error {
	return c.Data.ReplaceEvents(ctx, scope, events)
}

func (c *Composite) ListEvents(ctx context.Context, scope Scope) ([]models.SynthesizedEvent, error) {
	return c.Data.ListEvents(ctx, scope)
}

func (c *Composite) ReplaceContradictions(ctx context.Context, scope Scope, contradictions []models.Contradiction) error {
	return c.Data.ReplaceContradictions(ctx, scope, contradictions)
}

func (c *Composite) ListContradictions(ctx context.Context, scope Scope) ([]models.Contradiction, error) {
	return c.Data.ListContradictions(ctx, scope)
}

func (c *Composite) DeleteAnalysis(ctx context.Context, scope Scope) error {
	return c.Data.DeleteAnalysis(ctx, scope)
}

func (c *Composite) Ping(ctx context.Context) error {
	if p, ok := c.JobStore.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return c.Data.Ping(ctx)
}

func (c *Composite) Close() error { return c.Data.Close() }
