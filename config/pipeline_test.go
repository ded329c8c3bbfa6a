package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadPipelineConfigDefaults(t *testing.T) {
	cfg, err := LoadPipelineConfig("")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.DecodeTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Hour, cfg.PurgeInterval)
}

func TestLoadPipelineConfigOverlay(t *testing.T) {
	path := writeYAML(t, "decode_timeout: 45s\nconcurrency: 12\njob_retention: 48h\n")

	cfg, err := LoadPipelineConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.DecodeTimeout)
	assert.Equal(t, 12, cfg.Concurrency)
	assert.Equal(t, 48*time.Hour, cfg.JobRetention)
	assert.Equal(t, 10*time.Second, cfg.PersistTimeout)
}

func TestLoadPipelineConfigEnvDefaults(t *testing.T) {
	t.Setenv("QUEUE_MAX_RETRIES", "7")
	t.Setenv("PIPELINE_PDF_WORKERS", "not-a-number")

	cfg, err := LoadPipelineConfig("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, 4, cfg.PDFWorkers)
}

func TestLoadPipelineConfigRejectsBadValues(t *testing.T) {
	_, err := LoadPipelineConfig(writeYAML(t, "concurrency: 0\n"))
	assert.ErrorContains(t, err, "concurrency")

	_, err = LoadPipelineConfig(writeYAML(t, "concurrency: [\n"))
	assert.Error(t, err)

	_, err = LoadPipelineConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestGetList(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092")
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, getList("KAFKA_BROKERS"))
}
