// Package memory is an in-process Store on top of go-cache. It backs tests, the local CLI and single-node demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/internal/store"
)

const (
	jobPrefix  = "job:"
	docPrefix  = "doc:"
	factPrefix = "facts:"

	eventsKey         = "events"
	contradictionsKey = "contradictions"
)

// Store keeps jobs with a retention TTL and everything else without expiry.
type Store struct {
	mu     sync.Mutex
	cache  *gocache.Cache
	jobTTL time.Duration
}

var _ store.Store = (*Store)(nil)

// New creates a store. jobTTL <= 0 keeps jobs until DeleteJobsBefore removes them.
func New(jobTTL time.Duration) *Store {
	ttl := jobTTL
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &Store{
		cache:  gocache.New(gocache.NoExpiration, 10*time.Minute),
		jobTTL: ttl,
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error {
	s.cache.Flush()
	return nil
}

func (s *Store) CreateJob(_ context.Context, job *models.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.Add(jobPrefix+job.ID, job.Clone(), s.jobTTL); err != nil {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (*models.ProcessingJob, error) {
	v, ok := s.cache.Get(jobPrefix + id)
	if !ok {
		return nil, models.NewNotFound("job", id)
	}
	return v.(*models.ProcessingJob).Clone(), nil
}

func (s *Store) UpdateJob(_ context.Context, job *models.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.cache.Get(jobPrefix + job.ID)
	if !ok {
		return models.NewNotFound("job", job.ID)
	}
	stored := v.(*models.ProcessingJob)
	if err := store.CheckUpdate(stored, job); err != nil {
		return err
	}
	next := job.Clone()
	next.CancelRequested = next.CancelRequested || stored.CancelRequested
	s.cache.Set(jobPrefix+job.ID, next, s.jobTTL)
	return nil
}

func (s *Store) RequestCancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.cache.Get(jobPrefix + id)
	if !ok {
		return models.NewNotFound("job", id)
	}
	next := v.(*models.ProcessingJob).Clone()
	next.CancelRequested = true
	s.cache.Set(jobPrefix+id, next, s.jobTTL)
	return nil
}

func (s *Store) DeleteJobsBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, item := range s.cache.Items() {
		if !strings.HasPrefix(key, jobPrefix) {
			continue
		}
		job := item.Object.(*models.ProcessingJob)
		if job.Stage.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			s.cache.Delete(key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) GetDocument(_ context.Context, id string) (*models.Document, error) {
	v, ok := s.cache.Get(docPrefix + id)
	if !ok {
		return nil, models.NewNotFound("document", id)
	}
	doc := *v.(*models.Document)
	return &doc, nil
}

func (s *Store) SaveDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := *doc
	s.cache.Set(docPrefix+doc.ID, &d, gocache.NoExpiration)
	return nil
}

// SaveFacts upserts by fact id and keeps first-insert order.
func (s *Store) SaveFacts(_ context.Context, documentID string, facts []models.ExtractedFact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing []models.ExtractedFact
	if v, ok := s.cache.Get(factPrefix + documentID); ok {
		existing = v.([]models.ExtractedFact)
	}
	index := make(map[string]int, len(existing))
	merged := make([]models.ExtractedFact, len(existing), len(existing)+len(facts))
	copy(merged, existing)
	for i, f := range merged {
		index[f.ID] = i
	}
	for _, f := range facts {
		f.DocumentID = documentID
		if i, ok := index[f.ID]; ok {
			merged[i] = f
			continue
		}
		index[f.ID] = len(merged)
		merged = append(merged, f)
	}
	s.cache.Set(factPrefix+documentID, merged, gocache.NoExpiration)
	return nil
}

func (s *Store) ListFacts(_ context.Context, scope store.Scope) ([]models.ExtractedFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var docIDs []string
	if scope.DocumentID != "" {
		docIDs = []string{scope.DocumentID}
	} else {
		docIDs = s.caseDocuments(scope.CaseID)
	}

	var out []models.ExtractedFact
	for _, id := range docIDs {
		if v, ok := s.cache.Get(factPrefix + id); ok {
			out = append(out, v.([]models.ExtractedFact)...)
		}
	}
	return out, nil
}

// caseDocuments lists document ids of a case in upload order.
func (s *Store) caseDocuments(caseID string) []string {
	var docs []*models.Document
	for key, item := range s.cache.Items() {
		if !strings.HasPrefix(key, docPrefix) {
			continue
		}
		if d := item.Object.(*models.Document); d.CaseID == caseID {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}

func inScope(scope store.Scope, caseID, documentID string) bool {
	if scope.DocumentID != "" {
		return documentID == scope.DocumentID
	}
	return caseID == scope.CaseID
}

func (s *Store) ReplaceEvents(_ context.Context, scope store.Scope, events []models.SynthesizedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events(func(e models.SynthesizedEvent) bool { return !inScope(scope, e.CaseID, e.DocumentID) })
	s.cache.Set(eventsKey, append(kept, events...), gocache.NoExpiration)
	return nil
}

func (s *Store) ListEvents(_ context.Context, scope store.Scope) ([]models.SynthesizedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.events(func(e models.SynthesizedEvent) bool { return inScope(scope, e.CaseID, e.DocumentID) })
	sort.SliceStable(out, func(i, j int) bool { return out[i].EventDate.Before(out[j].EventDate) })
	return out, nil
}

func (s *Store) events(keep func(models.SynthesizedEvent) bool) []models.SynthesizedEvent {
	v, ok := s.cache.Get(eventsKey)
	if !ok {
		return nil
	}
	var out []models.SynthesizedEvent
	for _, e := range v.([]models.SynthesizedEvent) {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) ReplaceContradictions(_ context.Context, scope store.Scope, contradictions []models.Contradiction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.contradictions(func(c models.Contradiction) bool { return !inScope(scope, c.CaseID, c.DocumentID) })
	s.cache.Set(contradictionsKey, append(kept, contradictions...), gocache.NoExpiration)
	return nil
}

func (s *Store) ListContradictions(_ context.Context, scope store.Scope) ([]models.Contradiction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contradictions(func(c models.Contradiction) bool { return inScope(scope, c.CaseID, c.DocumentID) }), nil
}

func (s *Store) contradictions(keep func(models.Contradiction) bool) []models.Contradiction {
	v, ok := s.cache.Get(contradictionsKey)
	if !ok {
		return nil
	}
	var out []models.Contradiction
	for _, c := range v.([]models.Contradiction) {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) DeleteAnalysis(_ context.Context, scope store.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Set(eventsKey, s.events(func(e models.SynthesizedEvent) bool { return !inScope(scope, e.CaseID, e.DocumentID) }), gocache.NoExpiration)
	s.cache.Set(contradictionsKey, s.contradictions(func(c models.Contradiction) bool { return !inScope(scope, c.CaseID, c.DocumentID) }), gocache.NoExpiration)
	return nil
}
