// Package pipeline drives a ProcessingJob through Parsing, Extracting, Synthesizing and Analyzing. Progress is
// persisted before each stage and stage output after it, so a redelivered job resumes instead of starting over.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/casefolio/internal/analysis"
	"github.com/feichai0017/casefolio/internal/extract"
	"github.com/feichai0017/casefolio/internal/layout"
	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/internal/notify"
	"github.com/feichai0017/casefolio/internal/store"
	"github.com/feichai0017/casefolio/internal/synthesis"
	"github.com/feichai0017/casefolio/pkg/logger"
)

// Blobs returns the stored bytes of a document.
type Blobs interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

type Config struct {
	// DecodeTimeout bounds one layout decode
	DecodeTimeout time.Duration
	// PersistTimeout bounds the failure write made after the job context is gone
	PersistTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		DecodeTimeout:  2 * time.Minute,
		PersistTimeout: 10 * time.Second,
	}
}

// Deps are the collaborators of an Orchestrator. Publisher may be nil.
type Deps struct {
	Store       store.Store
	Blobs       Blobs
	Layouts     *layout.Factory
	Extractor   *extract.Extractor
	Synthesizer *synthesis.Synthesizer
	Analyzer    *analysis.Analyzer
	Publisher   notify.Publisher
}

type Orchestrator struct {
	store       store.Store
	blobs       Blobs
	layouts     *layout.Factory
	extractor   *extract.Extractor
	synthesizer *synthesis.Synthesizer
	analyzer    *analysis.Analyzer
	publisher   notify.Publisher
	config      Config
	logger      logger.Logger
	now         func() time.Time
	attempt     func(ctx context.Context) (int, bool)
}

func New(deps Deps, config Config, log logger.Logger) *Orchestrator {
	if deps.Publisher == nil {
		deps.Publisher = notify.Nop{}
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.New()
	}
	if deps.Synthesizer == nil {
		deps.Synthesizer = synthesis.New(nil, log)
	}
	if deps.Analyzer == nil {
		deps.Analyzer = analysis.New(nil, log)
	}
	defaults := DefaultConfig()
	if config.DecodeTimeout <= 0 {
		config.DecodeTimeout = defaults.DecodeTimeout
	}
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = defaults.PersistTimeout
	}
	return &Orchestrator{
		store:       deps.Store,
		blobs:       deps.Blobs,
		layouts:     deps.Layouts,
		extractor:   deps.Extractor,
		synthesizer: deps.Synthesizer,
		analyzer:    deps.Analyzer,
		publisher:   deps.Publisher,
		config:      config,
		logger:      log.Named("pipeline"),
		now:         func() time.Time { return time.Now().UTC() },
		attempt:     attempt,
	}
}

// attempt reads the asynq retry position from ctx. Outside a worker every run is the final attempt.
func attempt(ctx context.Context) (number int, final bool) {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 1, true
	}
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return retried + 1, retried >= maxRetry
}

// Run processes job id to completion. A job that is already terminal is acknowledged without work. The returned
// error wraps asynq.SkipRetry whenever the job reached Failure.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		if models.IsNotFound(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	log := o.logger.With(logger.String("job_id", job.ID), logger.String("kind", string(job.Kind)))
	if job.Stage.IsTerminal() {
		log.Info("Job already finished, acknowledging redelivery", logger.String("stage", job.Stage.String()))
		return nil
	}

	number, final := o.attempt(ctx)
	job.Attempts = number
	r := &run{o: o, job: job, logger: log, current: job.Stage}

	log.Info("Starting job",
		logger.String("stage", job.Stage.String()),
		logger.Int("attempt", number),
	)
	start := time.Now()

	if err := r.execute(ctx); err != nil {
		return r.fail(ctx, err, final)
	}

	log.Info("Job completed",
		logger.Int("facts", r.job.Result.FactsCount),
		logger.Int("events", r.job.Result.EventsCount),
		logger.Int("contradictions", r.job.Result.ContradictionsCount),
		logger.Duration("duration", time.Since(start)),
	)
	return nil
}

// PurgeJobs drops terminal jobs completed longer than retention ago.
func (o *Orchestrator) PurgeJobs(ctx context.Context, retention time.Duration) (int, error) {
	n, err := o.store.DeleteJobsBefore(ctx, o.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	if n > 0 {
		o.logger.Info("Purged finished jobs", logger.Int("count", n), logger.Duration("retention", retention))
	}
	return n, nil
}
