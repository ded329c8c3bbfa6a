package cli

import (
	"context"

	"github.com/feichai0017/casefolio/pkg/logger"
	"github.com/feichai0017/casefolio/pkg/queue"
)

type jobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// inlineQueue runs each job synchronously. The job record carries any failure, so Enqueue itself never fails on it.
type inlineQueue struct {
	runner jobRunner
	logger logger.Logger
}

func (q *inlineQueue) Enqueue(ctx context.Context, taskType, jobID string, _ int) error {
	if err := q.runner.Run(ctx, jobID); err != nil {
		q.logger.Warn("Job failed",
			logger.String("type", taskType),
			logger.String("job_id", jobID),
			logger.Error(err),
		)
	}
	return nil
}

func (q *inlineQueue) Cancel(context.Context, string) (bool, error) { return false, nil }

// ListActive is always empty: a job has finished by the time Enqueue returns.
func (q *inlineQueue) ListActive(context.Context) ([]queue.ActiveTask, error) { return nil, nil }

func (q *inlineQueue) Close() error { return nil }
