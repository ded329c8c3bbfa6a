package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/casefolio/internal/analysis"
	"github.com/feichai0017/casefolio/internal/layout"
	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/internal/notify"
	"github.com/feichai0017/casefolio/internal/store"
	"github.com/feichai0017/casefolio/internal/synthesis"
	"github.com/feichai0017/casefolio/pkg/logger"
)

// step is one working stage. load restores persisted output on resume; a nil load means the step is rerun
// whenever the next step still needs its output.
type step struct {
	stage  models.Stage
	status string
	work   func(ctx context.Context) error
	load   func(ctx context.Context) error
}

// run is the per-execution state of one job.
type run struct {
	o       *Orchestrator
	job     *models.ProcessingJob
	logger  logger.Logger
	current models.Stage

	scope          store.Scope
	document       *models.Document
	decoded        *layout.Document
	facts          []models.ExtractedFact
	events         []models.SynthesizedEvent
	contradictions []models.Contradiction
}

func (r *run) steps() ([]step, error) {
	switch r.job.Kind {
	case models.JobKindProcessDocument:
		return []step{
			{stage: models.StageParsing, status: "Parsing document", work: r.parse},
			{stage: models.StageExtracting, status: "Extracting facts", work: r.extractFacts, load: r.loadDocumentFacts},
			{stage: models.StageSynthesizing, status: "Synthesizing events", work: r.synthesize, load: r.loadEvents},
			{stage: models.StageAnalyzing, status: "Analyzing contradictions", work: r.analyze, load: r.loadContradictions},
		}, nil
	case models.JobKindReanalyzeCase:
		return []step{
			{stage: models.StageParsing, status: "Loading case facts", work: r.resetCase, load: r.loadCaseFacts},
			{stage: models.StageExtracting, status: "Facts already extracted", work: noop, load: noop},
			{stage: models.StageSynthesizing, status: "Synthesizing events", work: r.synthesize, load: r.loadEvents},
			{stage: models.StageAnalyzing, status: "Analyzing contradictions", work: r.analyze, load: r.loadContradictions},
		}, nil
	}
	return nil, fmt.Errorf("unknown job kind %q", r.job.Kind)
}

func noop(context.Context) error { return nil }

func (r *run) execute(ctx context.Context) error {
	steps, err := r.steps()
	if err != nil {
		return err
	}
	if err := r.prepare(ctx); err != nil {
		return err
	}

	for i, s := range steps {
		if r.job.StageCompleted(s.stage) {
			if s.load != nil {
				if err := s.load(ctx); err != nil {
					return err
				}
				r.logger.Debug("Resumed completed stage", logger.String("stage", s.stage.String()))
				continue
			}
			if i+1 < len(steps) && r.job.StageCompleted(steps[i+1].stage) {
				continue
			}
		}

		if err := r.enter(ctx, s.stage, s.status); err != nil {
			return err
		}
		if err := s.work(ctx); err != nil {
			return err
		}
		if err := r.complete(ctx, s.stage); err != nil {
			return err
		}
	}
	return r.succeed(ctx)
}

// prepare resolves the scope and, for documents, the document record.
func (r *run) prepare(ctx context.Context) error {
	if r.job.Result == nil {
		r.job.Result = &models.JobResult{StageCompletedAt: map[string]time.Time{}}
	}
	if r.job.Kind == models.JobKindReanalyzeCase {
		if r.job.CaseID == "" {
			return &models.ValidationError{Field: "case_id", Message: "reanalyze job has no case"}
		}
		r.scope = store.Scope{CaseID: r.job.CaseID}
		return nil
	}

	doc, err := r.o.store.GetDocument(ctx, r.job.DocumentRef)
	if err != nil {
		return err
	}
	r.document = doc
	if r.job.CaseID == "" {
		r.job.CaseID = doc.CaseID
	}
	r.scope = store.Scope{CaseID: doc.CaseID, DocumentID: doc.ID}
	return nil
}

// enter checks for cancellation, then persists progress for stage before any work starts. A job resumed past
// stage keeps its stored position. r.current moves only after the cancel check passes.
func (r *run) enter(ctx context.Context, stage models.Stage, status string) error {
	if err := r.checkCancel(ctx); err != nil {
		return err
	}
	r.current = stage

	now := r.o.now()
	switch {
	case r.job.Stage < stage:
		if err := r.job.Transition(stage, status, now); err != nil {
			return err
		}
	case r.job.Stage == stage:
		r.job.Progress.Status = status
		r.job.UpdatedAt = now
	default:
		return nil
	}

	if err := r.o.store.UpdateJob(ctx, r.job); err != nil {
		return fmt.Errorf("persist %s progress: %w", stage, err)
	}
	r.publish(ctx)
	r.logger.Info(status, logger.String("stage", stage.String()), logger.Int("progress", r.job.Progress.Current))
	return nil
}

func (r *run) checkCancel(ctx context.Context) error {
	stored, err := r.o.store.GetJob(ctx, r.job.ID)
	if err != nil {
		return err
	}
	if stored.CancelRequested {
		r.job.CancelRequested = true
		return models.ErrJobCancelled
	}
	return nil
}

func (r *run) complete(ctx context.Context, stage models.Stage) error {
	r.job.MarkStageCompleted(stage, r.o.now())
	if err := r.o.store.UpdateJob(ctx, r.job); err != nil {
		return fmt.Errorf("persist %s completion: %w", stage, err)
	}
	return nil
}

func (r *run) succeed(ctx context.Context) error {
	r.current = models.StageSuccess
	if r.document != nil {
		processed := r.o.now()
		r.document.ProcessedAt = &processed
		if err := r.o.store.SaveDocument(ctx, r.document); err != nil {
			return err
		}
	}

	result := r.job.Result
	result.CaseID = r.scope.CaseID
	result.DocumentID = r.scope.DocumentID
	result.FactsCount = len(r.facts)
	result.EventsCount = len(r.events)
	result.ContradictionsCount = len(r.contradictions)
	result.ContradictionSummary = analysis.Summarize(r.contradictions)
	r.job.Error = nil

	if err := r.job.Transition(models.StageSuccess, "Completed", r.o.now()); err != nil {
		return err
	}
	if err := r.o.store.UpdateJob(ctx, r.job); err != nil {
		return fmt.Errorf("persist success: %w", err)
	}
	r.publish(ctx)
	return nil
}

// fail records err on the job. A transient fault with retries left keeps the stage and is returned for backoff;
// anything else moves the job to Failure and is returned wrapped with asynq.SkipRetry.
func (r *run) fail(ctx context.Context, err error, final bool) error {
	stage := r.current
	if stage.IsTerminal() {
		stage = r.job.Stage
	}
	fault := models.NewPipelineFault(stage, err)
	now := r.o.now()

	r.job.Error = &models.JobError{
		Kind:      fault.Kind,
		Stage:     stage.String(),
		Message:   err.Error(),
		Transient: fault.Transient,
		Attempt:   r.job.Attempts,
		Timestamp: now,
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.config.PersistTimeout)
	defer cancel()

	if fault.Transient && !final {
		r.job.Progress.Status = "Retrying after error"
		r.job.UpdatedAt = now
		if perr := r.o.store.UpdateJob(persistCtx, r.job); perr != nil {
			r.logger.Error("Failed to record retryable error", logger.Error(perr))
		}
		r.logger.Warn("Stage failed, will retry",
			logger.String("stage", stage.String()),
			logger.Int("attempt", r.job.Attempts),
			logger.Error(err),
		)
		return fault
	}

	if r.job.Stage.IsTerminal() {
		return fmt.Errorf("%w: %w", fault, asynq.SkipRetry)
	}
	if terr := r.job.Transition(models.StageFailure, "Failed: "+fault.Kind, now); terr != nil {
		return errors.Join(fault, terr, asynq.SkipRetry)
	}
	if perr := r.o.store.UpdateJob(persistCtx, r.job); perr != nil {
		r.logger.Error("Failed to record job failure", logger.Error(perr))
	} else {
		r.publish(persistCtx)
	}

	r.logger.Error("Job failed",
		logger.String("stage", stage.String()),
		logger.String("kind", fault.Kind),
		logger.Bool("transient", fault.Transient),
		logger.Error(err),
	)
	return fmt.Errorf("%w: %w", fault, asynq.SkipRetry)
}

func (r *run) publish(ctx context.Context) {
	if err := r.o.publisher.Publish(ctx, notify.EventFor(r.job)); err != nil {
		r.logger.Warn("Failed to publish job event", logger.String("stage", r.job.Stage.String()), logger.Error(err))
	}
}

// Stage work.

func (r *run) parse(ctx context.Context) error {
	provider, err := r.provider()
	if err != nil {
		return err
	}

	body, err := r.o.blobs.Get(ctx, r.document.StorageKey)
	if err != nil {
		return &models.ExternalServiceError{Service: "storage", Op: "Get", Err: err}
	}
	defer body.Close()

	decodeCtx, cancel := context.WithTimeout(ctx, r.o.config.DecodeTimeout)
	defer cancel()

	decoded, err := provider.Decode(decodeCtx, r.document.FileName, body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &models.ExternalServiceError{Service: provider.Name(), Op: "Decode", Err: err}
		}
		return fmt.Errorf("decode %s: %w", r.document.FileName, err)
	}
	r.decoded = decoded
	r.job.Result.PagesParsed = len(decoded.Pages)
	r.document.PageCount = len(decoded.Pages)
	r.logger.Debug("Decoded document",
		logger.String("provider", provider.Name()),
		logger.Int("pages", len(decoded.Pages)),
	)
	return nil
}

func (r *run) provider() (layout.Provider, error) {
	if r.document.ContentType != "" {
		if p, err := r.o.layouts.ForMIME(r.document.ContentType); err == nil {
			return p, nil
		}
	}
	p, _, err := r.o.layouts.ForFile(r.document.FileName)
	if err != nil {
		return nil, &models.ValidationError{Field: "file_type", Message: err.Error()}
	}
	return p, nil
}

func (r *run) extractFacts(ctx context.Context) error {
	r.facts = r.o.extractor.ExtractDocument(r.document.ID, r.decoded)
	if err := r.o.store.SaveFacts(ctx, r.document.ID, r.facts); err != nil {
		return fmt.Errorf("save facts: %w", err)
	}
	r.job.Result.FactsCount = len(r.facts)
	return nil
}

func (r *run) loadDocumentFacts(ctx context.Context) error {
	facts, err := r.o.store.ListFacts(ctx, r.scope)
	if err != nil {
		return fmt.Errorf("load facts: %w", err)
	}
	r.facts = facts
	return nil
}

func (r *run) resetCase(ctx context.Context) error {
	if err := r.o.store.DeleteAnalysis(ctx, r.scope); err != nil {
		return fmt.Errorf("clear case analysis: %w", err)
	}
	return r.loadCaseFacts(ctx)
}

func (r *run) loadCaseFacts(ctx context.Context) error {
	facts, err := r.o.store.ListFacts(ctx, r.scope)
	if err != nil {
		return fmt.Errorf("load case facts: %w", err)
	}
	r.facts = facts
	r.job.Result.FactsCount = len(facts)
	return nil
}

func (r *run) synthesize(ctx context.Context) error {
	r.events = r.o.synthesizer.Synthesize(ctx, synthesis.Scope{CaseID: r.scope.CaseID, DocumentID: r.scope.DocumentID}, r.facts)
	if err := r.o.store.ReplaceEvents(ctx, r.scope, r.events); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	r.job.Result.EventsCount = len(r.events)
	return nil
}

func (r *run) loadEvents(ctx context.Context) error {
	events, err := r.o.store.ListEvents(ctx, r.scope)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	r.events = events
	return nil
}

func (r *run) analyze(ctx context.Context) error {
	r.contradictions = r.o.analyzer.Analyze(ctx, r.events)
	if err := r.o.store.ReplaceContradictions(ctx, r.scope, r.contradictions); err != nil {
		return fmt.Errorf("save contradictions: %w", err)
	}
	r.job.Result.ContradictionsCount = len(r.contradictions)
	return nil
}

func (r *run) loadContradictions(ctx context.Context) error {
	contradictions, err := r.o.store.ListContradictions(ctx, r.scope)
	if err != nil {
		return fmt.Errorf("load contradictions: %w", err)
	}
	r.contradictions = contradictions
	return nil
}
