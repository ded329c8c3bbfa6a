package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/casefolio/api/handlers"
	"github.com/feichai0017/casefolio/api/routes"
	"github.com/feichai0017/casefolio/config"
	"github.com/feichai0017/casefolio/internal/app"
	"github.com/feichai0017/casefolio/internal/service/job"
	"github.com/feichai0017/casefolio/pkg/logger"
	"github.com/feichai0017/casefolio/pkg/queue"
	"github.com/feichai0017/casefolio/pkg/storage"
)

func main() {
	// init logger
	log, err := app.NewLogger("server")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	appCfg := config.GetAppConfig()
	ctx := context.Background()

	st, closeStore, err := app.OpenStore(ctx, log, config.GetAppConfig().DemoMode)
	if err != nil {
		log.Fatal("Failed to open store", logger.Error(err))
	}
	defer closeStore()

	blobs, err := storage.NewStorage(ctx, storage.StorageType(appCfg.StorageType), log)
	if err != nil {
		log.Fatal("Failed to init storage", logger.Error(err))
	}

	q := queue.NewAsynqQueue(app.QueueConfig(), log)
	defer q.Close()

	svcCfg := job.DefaultServiceConfig()
	svcCfg.Validator.MaxFileSize = config.GetPipelineConfig().MaxUploadSize
	jobService := job.NewService(st, q, blobs, log, svcCfg)

	if appCfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handlers.NewHandlers(jobService, st, log)
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = 32 << 20
	routes.SetupRoutes(r, h, log)

	srv := &http.Server{
		Addr:              ":" + appCfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
