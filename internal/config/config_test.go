package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
)

var envKeys = []string{
	"REDIS_URL", "QUEUE_NAME", "QUEUE_BACKEND", "DATABASE_URL", "WORKER_CONCURRENCY",
	"BATCH_CONCURRENCY", "ITEM_TIMEOUT", "PROCESSING_TIMEOUT", "PDF_DPI", "TESSDATA_PREFIX",
	"OCR_LANGUAGES", "RASTERIZE_TOLERANT", "PDF_PREFLIGHT", "PREPROCESS", "PIPELINE_PROFILE",
	"OUTPUT_DIR", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	assert.Equal(t, "ocr:jobs", cfg.QueueName)
	assert.Equal(t, BackendAsynq, cfg.QueueBackend)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 1, cfg.BatchConcurrency)
	assert.Equal(t, 5*time.Minute, cfg.ItemTimeout)
	assert.Equal(t, 30*time.Minute, cfg.ProcessingTimeout)
	assert.Equal(t, 300, cfg.PDFDPI)
	assert.Equal(t, []string{"eng"}, cfg.OCRLanguages)
	assert.True(t, cfg.RasterizeTolerant)
	assert.False(t, cfg.PDFPreflight)
	assert.True(t, cfg.Preprocess)
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("QUEUE_BACKEND", "Redis")
	t.Setenv("BATCH_CONCURRENCY", "4")
	t.Setenv("ITEM_TIMEOUT", "90s")
	t.Setenv("PROCESSING_TIMEOUT", "600000")
	t.Setenv("PDF_DPI", "200")
	t.Setenv("OCR_LANGUAGES", "eng+deu, fra")
	t.Setenv("RASTERIZE_TOLERANT", "false")
	t.Setenv("PDF_PREFLIGHT", "1")
	t.Setenv("WORKER_CONCURRENCY", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.QueueBackend)
	assert.Equal(t, 4, cfg.BatchConcurrency)
	assert.Equal(t, 90*time.Second, cfg.ItemTimeout)
	assert.Equal(t, 10*time.Minute, cfg.ProcessingTimeout)
	assert.Equal(t, 200, cfg.PDFDPI)
	assert.Equal(t, []string{"eng", "deu", "fra"}, cfg.OCRLanguages)
	assert.False(t, cfg.RasterizeTolerant)
	assert.True(t, cfg.PDFPreflight)
	assert.Equal(t, 2, cfg.WorkerConcurrency)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RedisURL:          "redis://localhost:6379",
			QueueBackend:      BackendAsynq,
			WorkerConcurrency: 1,
			BatchConcurrency:  1,
			ItemTimeout:       time.Minute,
			ProcessingTimeout: time.Minute,
			PDFDPI:            300,
			OCRLanguages:      []string{"eng"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing redis", func(c *Config) { c.RedisURL = "" }},
		{"unknown backend", func(c *Config) { c.QueueBackend = "kafka" }},
		{"worker concurrency", func(c *Config) { c.WorkerConcurrency = 0 }},
		{"batch concurrency", func(c *Config) { c.BatchConcurrency = 100 }},
		{"dpi", func(c *Config) { c.PDFDPI = 10 }},
		{"item timeout", func(c *Config) { c.ItemTimeout = 0 }},
		{"job timeout", func(c *Config) { c.ProcessingTimeout = -time.Second }},
		{"languages", func(c *Config) { c.OCRLanguages = nil }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("QUEUE_BACKEND", "sqs")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestPipelineConfig(t *testing.T) {
	cfg := &Config{Preprocess: false}
	pc, err := cfg.PipelineConfig()
	require.NoError(t, err)
	assert.Nil(t, pc)

	cfg.Preprocess = true
	pc, err = cfg.PipelineConfig()
	require.NoError(t, err)
	require.NotNil(t, pc)
	assert.Equal(t, preprocess.DefaultConfig(), *pc)

	profile := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(profile, []byte("edge_detection: false\nthreshold_method: otsu\n"), 0644))
	cfg.PipelineProfile = profile
	pc, err = cfg.PipelineConfig()
	require.NoError(t, err)
	assert.False(t, pc.EdgeDetection)
	assert.Equal(t, preprocess.ThresholdOtsu, pc.ThresholdMethod)
	assert.True(t, pc.Grayscale)

	cfg.PipelineProfile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.PipelineConfig()
	assert.Error(t, err)
}
