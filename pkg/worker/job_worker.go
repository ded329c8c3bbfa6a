package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/casefolio/pkg/logger"
	"github.com/feichai0017/casefolio/pkg/queue"
)

// Runner executes persisted jobs.
type Runner interface {
	Run(ctx context.Context, jobID string) error
	PurgeJobs(ctx context.Context, retention time.Duration) (int, error)
}

type JobWorker struct {
	BaseWorker
	handlers *handlers
}

type handlers struct {
	runner    Runner
	retention time.Duration
	logger    logger.Logger
}

func NewJobWorker(cfg *Config, runner Runner, log logger.Logger) *JobWorker {
	log = log.Named("worker")
	w := &JobWorker{
		BaseWorker: BaseWorker{
			server:   newServer(cfg, log),
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		handlers: &handlers{runner: runner, retention: cfg.JobRetention, logger: log},
	}

	// 注册任务处理器
	w.handlers.register(w.mux)
	return w
}

func (h *handlers) register(mux *asynq.ServeMux) {
	mux.HandleFunc(queue.TaskTypeDocumentProcess, h.handleJob)
	mux.HandleFunc(queue.TaskTypeCaseReanalyze, h.handleJob)
	mux.HandleFunc(queue.TaskTypePurgeJobs, h.handlePurge)
}

func (h *handlers) handleJob(ctx context.Context, t *asynq.Task) error {
	p, err := queue.DecodePayload(t)
	if err != nil {
		h.logger.Error("Dropping malformed task",
			logger.String("type", t.Type()),
			logger.String("payload", string(t.Payload())),
			logger.Error(err),
		)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	writeStatus(t, fmt.Sprintf(`{"job_id":%q,"status":"running"}`, p.JobID))

	if err := h.runner.Run(ctx, p.JobID); err != nil {
		writeStatus(t, fmt.Sprintf(`{"job_id":%q,"status":"failed","error":%q}`, p.JobID, err.Error()))
		return err
	}

	writeStatus(t, fmt.Sprintf(`{"job_id":%q,"status":"completed"}`, p.JobID))
	return nil
}

func (h *handlers) handlePurge(ctx context.Context, _ *asynq.Task) error {
	if h.retention <= 0 {
		return nil
	}
	_, err := h.runner.PurgeJobs(ctx, h.retention)
	return err
}

// writeStatus records progress on the task. Tasks built outside a server have no writer.
func writeStatus(t *asynq.Task, status string) {
	if rw := t.ResultWriter(); rw != nil {
		_, _ = rw.Write([]byte(status))
	}
}
