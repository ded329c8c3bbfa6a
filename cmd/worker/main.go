package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feichai0017/casefolio/config"
	"github.com/feichai0017/casefolio/internal/app"
	"github.com/feichai0017/casefolio/pkg/logger"
	"github.com/feichai0017/casefolio/pkg/queue"
	"github.com/feichai0017/casefolio/pkg/storage"
	"github.com/feichai0017/casefolio/pkg/worker"
)

func main() {
	log, err := app.NewLogger("worker")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Error("Worker exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(log logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := app.OpenStore(ctx, log, config.GetAppConfig().DemoMode)
	if err != nil {
		return err
	}
	defer closeStore()

	blobs, err := storage.NewStorage(ctx, storage.StorageType(config.GetAppConfig().StorageType), log)
	if err != nil {
		return err
	}

	orchestrator, closePipeline, err := app.Pipeline(ctx, st, blobs, log)
	if err != nil {
		return err
	}
	defer closePipeline()

	pipelineCfg := config.GetPipelineConfig()
	queueCfg := app.QueueConfig()
	jobWorker := worker.NewJobWorker(&worker.Config{
		Redis:           queueCfg.RedisOpt(),
		Concurrency:     pipelineCfg.Concurrency,
		Queues:          queue.Queues,
		RetryDelay:      pipelineCfg.RetryDelay,
		ShutdownTimeout: 30 * time.Second,
		JobRetention:    pipelineCfg.JobRetention,
	}, orchestrator, log)

	scheduler, err := queue.NewPurgeScheduler(queueCfg, pipelineCfg.PurgeInterval, log)
	if err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Shutdown()

	if err := jobWorker.Start(ctx); err != nil {
		return err
	}
	log.Info("Worker started",
		logger.Int("concurrency", pipelineCfg.Concurrency),
		logger.String("redis", queueCfg.RedisAddr),
	)

	<-ctx.Done()
	log.Info("Shutting down worker...")
	return jobWorker.Stop()
}
