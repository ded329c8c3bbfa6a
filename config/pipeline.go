package config

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	pipelineOnce   sync.Once
	pipelineConfig *PipelineConfig
)

// PipelineConfig tunes job execution. Values come from the environment, then PIPELINE_CONFIG (YAML) overrides them.
type PipelineConfig struct {
	DecodeTimeout  time.Duration `yaml:"decode_timeout"`
	PersistTimeout time.Duration `yaml:"persist_timeout"`
	PDFWorkers     int           `yaml:"pdf_workers"`

	Concurrency    int           `yaml:"concurrency"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`

	JobRetention  time.Duration `yaml:"job_retention"`
	PurgeInterval time.Duration `yaml:"purge_interval"`

	MaxUploadSize int64 `yaml:"max_upload_size"`
}

func defaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		DecodeTimeout:  getDuration("PIPELINE_DECODE_TIMEOUT", 2*time.Minute),
		PersistTimeout: getDuration("PIPELINE_PERSIST_TIMEOUT", 10*time.Second),
		PDFWorkers:     getInt("PIPELINE_PDF_WORKERS", 4),
		Concurrency:    getInt("WORKER_CONCURRENCY", 5),
		MaxRetries:     getInt("QUEUE_MAX_RETRIES", 3),
		RetryDelay:     getDuration("QUEUE_RETRY_DELAY", 30*time.Second),
		ProcessTimeout: getDuration("QUEUE_PROCESS_TIMEOUT", 30*time.Minute),
		JobRetention:   getDuration("JOB_RETENTION", 7*24*time.Hour),
		PurgeInterval:  getDuration("JOB_PURGE_INTERVAL", time.Hour),
		MaxUploadSize:  int64(getInt("MAX_UPLOAD_SIZE", 50*1024*1024)),
	}
}

// LoadPipelineConfig overlays the YAML file at path on the environment defaults. An empty path skips the file.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cfg := defaultPipelineConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config %s: %w", path, err)
	}
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("pipeline config %s: concurrency must be positive", path)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("pipeline config %s: max_retries must not be negative", path)
	}
	return cfg, nil
}

func GetPipelineConfig() *PipelineConfig {
	pipelineOnce.Do(func() {
		loadEnv()
		cfg, err := LoadPipelineConfig(getEnv("PIPELINE_CONFIG", ""))
		if err != nil {
			log.Printf("Warning: %v, using environment defaults", err)
			cfg = defaultPipelineConfig()
		}
		pipelineConfig = cfg
	})
	return pipelineConfig
}
