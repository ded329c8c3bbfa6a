package worker

import (
    "context"
    "sync"
    "time"

    "github.com/hibiken/asynq"

    "github.com/feichai0017/casefolio/pkg/logger"
)

type Worker interface {
    Start(ctx context.Context) error
    Stop() error
}

type Config struct {
    Redis       asynq.RedisClientOpt
    Concurrency int
    Queues      map[string]int
    // RetryDelay is multiplied by the retry count
    RetryDelay      time.Duration
    ShutdownTimeout time.Duration
    // JobRetention is how long finished jobs are kept before the purge task removes them
    JobRetention time.Duration
}

type BaseWorker struct {
    server   *asynq.Server
    mux      *asynq.ServeMux
    logger   logger.Logger
    stopChan chan struct{}
    stopOnce sync.Once
}

func newServer(cfg *Config, log logger.Logger) *asynq.Server {
    delay := cfg.RetryDelay
    if delay <= 0 {
        delay = 30 * time.Second
    }
    return asynq.NewServer(cfg.Redis, asynq.Config{
        Concurrency:     cfg.Concurrency,
        Queues:          cfg.Queues,
        ShutdownTimeout: cfg.ShutdownTimeout,
        RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
            return time.Duration(n+1) * delay
        },
        ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
            retried, _ := asynq.GetRetryCount(ctx)
            log.Warn("Task failed",
                logger.String("type", task.Type()),
                logger.String("payload", string(task.Payload())),
                logger.Int("retried", retried),
                logger.Error(err),
            )
        }),
    })
}

func (w *BaseWorker) Start(ctx context.Context) error {
    if err := w.server.Start(w.mux); err != nil {
        return err
    }

    go func() {
        select {
        case <-ctx.Done():
            w.Stop()
        case <-w.stopChan:
        }
    }()

    return nil
}

func (w *BaseWorker) Stop() error {
    w.stopOnce.Do(func() {
        close(w.stopChan)
        w.server.Shutdown()
        w.logger.Info("Worker stopped")
    })
    return nil
}
