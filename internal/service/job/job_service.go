package job

import (
    "context"
    "errors"
    "io"
    "mime/multipart"

    "github.com/feichai0017/casefolio/internal/models"
    "github.com/feichai0017/casefolio/pkg/converters"
)

// ErrNotCompleted is returned when a result is requested before the job succeeded.
var ErrNotCompleted = errors.New("job not completed")

// JobProcessor is the queue/worker boundary offered to the API layer.
type JobProcessor interface {
    Enqueue(ctx context.Context, documentRef string) (string, error)
    Reanalyze(ctx context.Context, caseID string) (string, error)
    GetStatus(ctx context.Context, jobID string) (*models.ProcessingJob, error)
    GetResult(ctx context.Context, jobID string) (*converters.ResultDocument, error)
    Cancel(ctx context.Context, jobID string) error
    ListActive(ctx context.Context) ([]*models.ProcessingJob, error)
    Upload(ctx context.Context, caseID, fileName string, file io.ReadSeeker, size int64) (*models.Document, error)
    UploadBatch(ctx context.Context, caseID string, files []*multipart.FileHeader) ([]*models.Document, error)
}
