// Package app assembles the pipeline from configuration for the server, worker and CLI binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/casefolio/config"
	"github.com/feichai0017/casefolio/internal/analysis"
	"github.com/feichai0017/casefolio/internal/extract"
	"github.com/feichai0017/casefolio/internal/layout"
	"github.com/feichai0017/casefolio/internal/llm"
	"github.com/feichai0017/casefolio/internal/notify"
	"github.com/feichai0017/casefolio/internal/pipeline"
	"github.com/feichai0017/casefolio/internal/store"
	"github.com/feichai0017/casefolio/internal/store/memory"
	"github.com/feichai0017/casefolio/internal/store/postgres"
	"github.com/feichai0017/casefolio/internal/store/redisstore"
	"github.com/feichai0017/casefolio/internal/synthesis"
	"github.com/feichai0017/casefolio/pkg/logger"
	"github.com/feichai0017/casefolio/pkg/queue"
)

// Closer releases whatever a constructor opened.
type Closer func() error

func closeAll(closers []Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// QueueConfig merges the Redis and pipeline settings into the asynq queue configuration.
func QueueConfig() queue.QueueConfig {
	r := config.GetRedisConfig()
	p := config.GetPipelineConfig()
	return queue.QueueConfig{
		RedisAddr:      r.Addr,
		RedisPassword:  r.Password,
		RedisDB:        r.DB,
		MaxRetries:     p.MaxRetries,
		ProcessTimeout: p.ProcessTimeout,
		Retention:      p.JobRetention,
	}
}

// ErrNoDatabase is returned by OpenStore when DATABASE_URL is unset and the in-memory store was not allowed.
var ErrNoDatabase = errors.New("DATABASE_URL is not set; set DEMO_MODE=true to run on the in-memory store")

// OpenStore connects the configured backend. Without DATABASE_URL everything lives in process memory, which is
// only accepted when allowMemory is set.
func OpenStore(ctx context.Context, log logger.Logger, allowMemory bool) (store.Store, Closer, error) {
	pg := config.GetPostgresConfig()
	retention := config.GetPipelineConfig().JobRetention
	if pg.DSN == "" {
		if !allowMemory {
			return nil, nil, ErrNoDatabase
		}
		log.Warn("DATABASE_URL not set, using in-memory store")
		st := memory.New(retention)
		return st, st.Close, nil
	}

	data, err := postgres.Open(ctx, *pg, log)
	if err != nil {
		return nil, nil, err
	}
	if config.GetAppConfig().JobBackend != "redis" {
		return data, data.Close, nil
	}

	r := config.GetRedisConfig()
	client := redis.NewClient(&redis.Options{Addr: r.Addr, Password: r.Password, DB: r.DB})
	st := &store.Composite{JobStore: redisstore.New(client, retention), Data: data}
	if err := st.Ping(ctx); err != nil {
		_ = closeAll([]Closer{data.Close, client.Close})
		return nil, nil, fmt.Errorf("job store unavailable: %w", err)
	}
	log.Info("Jobs stored in Redis, results in Postgres", logger.String("redis", r.Addr))
	return st, func() error { return closeAll([]Closer{data.Close, client.Close}) }, nil
}

// NewPublisher returns the Kafka publisher when brokers are configured.
func NewPublisher(log logger.Logger) (notify.Publisher, error) {
	cfg := config.GetKafkaConfig()
	if len(cfg.Brokers) == 0 {
		return notify.Nop{}, nil
	}
	return notify.NewKafkaPublisher(*cfg, log)
}

// NewLayouts registers the text and PDF decoders, plus Textract for images when enabled.
func NewLayouts(ctx context.Context, log logger.Logger) (*layout.Factory, error) {
	providers := []layout.Provider{
		layout.NewTextProvider(),
		layout.NewPDFProvider(log, config.GetPipelineConfig().PDFWorkers),
	}

	f := layout.NewFactory(log, providers...)
	tc := config.GetTextractConfig()
	if !tc.Enabled {
		return f, nil
	}
	textract, err := layout.NewTextractProvider(ctx, &layout.TextractConfig{
		Region:        tc.Region,
		AccessKey:     tc.AccessKey,
		SecretKey:     tc.SecretKey,
		MinConfidence: tc.MinConfidence,
	}, log)
	if err != nil {
		return nil, err
	}
	// PDFs keep the embedded-text decoder
	for _, mimeType := range []string{"image/jpeg", "image/png", "image/tiff"} {
		f.Register(mimeType, textract)
	}
	return f, nil
}

// Pipeline wires an orchestrator over st and blobs.
func Pipeline(ctx context.Context, st store.Store, blobs pipeline.Blobs, log logger.Logger) (*pipeline.Orchestrator, Closer, error) {
	describer, confirmer, err := llm.NewDelegates(*config.GetLLMConfig(), log)
	if err != nil {
		return nil, nil, err
	}
	layouts, err := NewLayouts(ctx, log)
	if err != nil {
		return nil, nil, err
	}
	publisher, err := NewPublisher(log)
	if err != nil {
		return nil, nil, err
	}

	p := config.GetPipelineConfig()
	o := pipeline.New(pipeline.Deps{
		Store:       st,
		Blobs:       blobs,
		Layouts:     layouts,
		Extractor:   extract.New(),
		Synthesizer: synthesis.New(describer, log),
		Analyzer:    analysis.New(confirmer, log),
		Publisher:   publisher,
	}, pipeline.Config{
		DecodeTimeout:  p.DecodeTimeout,
		PersistTimeout: p.PersistTimeout,
	}, log)
	return o, publisher.Close, nil
}

// NewLogger builds the process logger. With LOG_FILE set, logs also go to that file and errors to <name>.error.log.
func NewLogger(name string) (logger.Logger, error) {
	cfg := config.GetAppConfig()
	opts := []logger.Option{
		logger.WithLevel(cfg.LogLevel),
		logger.WithEncoding("json"),
		logger.WithField("service", name),
		logger.WithDevelopment(cfg.Env == "development"),
	}
	if cfg.LogFile != "" {
		opts = append(opts,
			logger.WithOutputPaths([]string{"stdout", cfg.LogFile}),
			logger.WithErrorPaths([]string{strings.TrimSuffix(cfg.LogFile, ".log") + ".error.log"}),
		)
	}
	return logger.NewLogger(opts...)
}
