package job

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/casefolio/internal/layout"
	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/internal/store"
	"github.com/feichai0017/casefolio/internal/utils/validator"
	"github.com/feichai0017/casefolio/pkg/converters"
	"github.com/feichai0017/casefolio/pkg/logger"
	"github.com/feichai0017/casefolio/pkg/queue"
	"github.com/feichai0017/casefolio/pkg/storage"
)

type JobService struct {
	store     store.Store
	queue     queue.Queue
	storage   storage.Storage
	validator *validator.DocumentValidator
	converter converters.ResultConverter
	logger    logger.Logger
	config    *ServiceConfig
	now       func() time.Time
}

type ServiceConfig struct {
	DocumentPriority  int
	ReanalyzePriority int
	MaxConcurrent     int
	Validator         *validator.ValidatorConfig
}

func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		DocumentPriority:  queue.PriorityNormal,
		ReanalyzePriority: queue.PriorityLow,
		MaxConcurrent:     5,
		Validator:         validator.DefaultConfig(),
	}
}

func NewService(
	st store.Store,
	q queue.Queue,
	blobs storage.Storage,
	log logger.Logger,
	cfg *ServiceConfig,
) *JobService {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	log = log.Named("jobs")
	return &JobService{
		store:     st,
		queue:     q,
		storage:   blobs,
		validator: validator.NewDocumentValidator(log, cfg.Validator),
		converter: converters.NewJSONConverter(),
		logger:    log,
		config:    cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue creates a pending job for a stored document and hands it to the queue.
func (s *JobService) Enqueue(ctx context.Context, documentRef string) (string, error) {
	if strings.TrimSpace(documentRef) == "" {
		return "", &models.ValidationError{Field: "document_ref", Message: "document reference is required"}
	}
	doc, err := s.store.GetDocument(ctx, documentRef)
	if err != nil {
		return "", err
	}

	job := models.NewJob(uuid.NewString(), models.JobKindProcessDocument, doc.ID, doc.CaseID, s.now())
	if err := s.submit(ctx, job, queue.TaskTypeDocumentProcess, s.config.DocumentPriority); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Reanalyze schedules a case-wide rerun of synthesis and analysis over the case's stored facts.
func (s *JobService) Reanalyze(ctx context.Context, caseID string) (string, error) {
	if strings.TrimSpace(caseID) == "" {
		return "", &models.ValidationError{Field: "case_id", Message: "case id is required"}
	}

	job := models.NewJob(uuid.NewString(), models.JobKindReanalyzeCase, "", caseID, s.now())
	if err := s.submit(ctx, job, queue.TaskTypeCaseReanalyze, s.config.ReanalyzePriority); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (s *JobService) submit(ctx context.Context, job *models.ProcessingJob, taskType string, priority int) error {
	if err := s.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, taskType, job.ID, priority); err != nil {
		s.logger.Error("Failed to enqueue job",
			logger.String("job_id", job.ID),
			logger.Error(err),
		)
		s.failPending(ctx, job, models.KindExternalService, true, err)
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info("Job created",
		logger.String("job_id", job.ID),
		logger.String("kind", string(job.Kind)),
		logger.String("case_id", job.CaseID),
		logger.String("document_ref", job.DocumentRef),
	)
	return nil
}

// failPending moves a job that never reached a worker to Failure.
func (s *JobService) failPending(ctx context.Context, job *models.ProcessingJob, kind string, transient bool, cause error) {
	now := s.now()
	stage := job.Stage
	if err := job.Transition(models.StageFailure, "Failed: "+kind, now); err != nil {
		s.logger.Warn("Cannot fail job", logger.String("job_id", job.ID), logger.Error(err))
		return
	}
	job.Error = &models.JobError{
		Kind:      kind,
		Stage:     stage.String(),
		Message:   cause.Error(),
		Transient: transient,
		Attempt:   job.Attempts,
		Timestamp: now,
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.UpdateJob(ctx, job); err != nil {
		s.logger.Error("Failed to record job failure", logger.String("job_id", job.ID), logger.Error(err))
	}
}

// GetStatus 获取处理状态
func (s *JobService) GetStatus(ctx context.Context, jobID string) (*models.ProcessingJob, error) {
	return s.store.GetJob(ctx, jobID)
}

// GetResult returns the facts, events and contradictions a successful job produced.
func (s *JobService) GetResult(ctx context.Context, jobID string) (*converters.ResultDocument, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Stage != models.StageSuccess {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCompleted, job.ID, job.Stage)
	}

	scope := store.Scope{CaseID: job.CaseID}
	if job.Kind == models.JobKindProcessDocument {
		scope.DocumentID = job.DocumentRef
	}

	facts, err := s.store.ListFacts(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load facts: %w", err)
	}
	events, err := s.store.ListEvents(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	contradictions, err := s.store.ListContradictions(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load contradictions: %w", err)
	}

	return s.converter.Convert(job, facts, events, contradictions)
}

// Cancel 取消任务. Finished jobs are left as they are.
func (s *JobService) Cancel(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Stage.IsTerminal() {
		s.logger.Info("Cancel ignored, job already finished",
			logger.String("job_id", jobID),
			logger.String("stage", job.Stage.String()),
		)
		return nil
	}

	if err := s.store.RequestCancel(ctx, jobID); err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}

	removed, err := s.queue.Cancel(ctx, jobID)
	if err != nil {
		// the flag is set; the worker fails the job at its next stage boundary
		s.logger.Warn("Failed to remove task from queue", logger.String("job_id", jobID), logger.Error(err))
		return nil
	}
	if removed {
		job, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if !job.Stage.IsTerminal() {
			s.failPending(ctx, job, models.KindCancelled, false, models.ErrJobCancelled)
		}
	}

	s.logger.Info("Job cancel requested",
		logger.String("job_id", jobID),
		logger.Bool("dequeued", removed),
	)
	return nil
}

// ListActive returns the jobs a worker is executing. Tasks whose job record has been purged are skipped.
func (s *JobService) ListActive(ctx context.Context) ([]*models.ProcessingJob, error) {
	tasks, err := s.queue.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make([]*models.ProcessingJob, 0, len(tasks))
	for _, t := range tasks {
		job, err := s.store.GetJob(ctx, t.JobID)
		if models.IsNotFound(err) {
			s.logger.Debug("Active task has no job record", logger.String("job_id", t.JobID))
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Upload validates a case document, stores its bytes and registers it.
func (s *JobService) Upload(ctx context.Context, caseID, fileName string, file io.ReadSeeker, size int64) (*models.Document, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, &models.ValidationError{Field: "case_id", Message: "case id is required"}
	}
	fileName = filepath.Base(fileName)

	s.logger.Info("Starting upload",
		logger.String("filename", fileName),
		logger.Int64("size", size),
	)

	result, err := s.validator.Validate(fileName, file, size)
	if err != nil {
		return nil, fmt.Errorf("failed to validate file: %w", err)
	}
	if !result.IsValid {
		return nil, &models.ValidationError{Field: "file", Message: result.Error()}
	}

	contentType, _ := layout.MIMEType(fileName)
	doc := &models.Document{
		ID:          uuid.NewString(),
		CaseID:      caseID,
		FileName:    fileName,
		ContentType: contentType,
		FileType:    fileTypeOf(contentType),
		FileSize:    size,
		PageCount:   result.FileInfo.PageCount,
		Hash:        result.FileInfo.Hash,
		CreatedAt:   s.now(),
	}
	doc.StorageKey = storage.DocumentKey(caseID, doc.ID, fileName)

	// 存储文件
	if _, err := s.storage.Store(ctx, doc.StorageKey, file, size, contentType); err != nil {
		return nil, &models.ExternalServiceError{Service: "storage", Op: "Store", Err: err}
	}
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		if delErr := s.storage.Delete(ctx, doc.StorageKey); delErr != nil {
			s.logger.Warn("Failed to remove orphaned object", logger.String("key", doc.StorageKey), logger.Error(delErr))
		}
		return nil, fmt.Errorf("failed to save document: %w", err)
	}

	s.logger.Info("Document stored",
		logger.String("document_id", doc.ID),
		logger.String("case_id", caseID),
		logger.String("filename", fileName),
	)
	return doc, nil
}

// UploadBatch 批量上传文件. Documents stored before a failure are returned with the error.
func (s *JobService) UploadBatch(ctx context.Context, caseID string, files []*multipart.FileHeader) ([]*models.Document, error) {
	docs := make([]*models.Document, 0, len(files))
	var mu sync.Mutex

	// 使用 errgroup 来管理并发和错误
	g, ctx := errgroup.WithContext(ctx)
	if s.config.MaxConcurrent > 0 {
		g.SetLimit(s.config.MaxConcurrent)
	}

	for _, header := range files {
		header := header // per-iteration copy; go.mod targets go 1.21 (pre-1.22 loop semantics)
		g.Go(func() error {
			file, err := header.Open()
			if err != nil {
				return fmt.Errorf("failed to open file %s: %w", header.Filename, err)
			}
			defer file.Close()

			doc, err := s.Upload(ctx, caseID, header.Filename, file, header.Size)
			if err != nil {
				return fmt.Errorf("failed to upload file %s: %w", header.Filename, err)
			}

			mu.Lock()
			docs = append(docs, doc)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return docs, err
	}
	return docs, nil
}

func fileTypeOf(contentType string) models.FileType {
	switch {
	case contentType == "application/pdf":
		return models.PDF
	case strings.HasPrefix(contentType, "image/"):
		return models.Image
	default:
		return models.Text
	}
}
