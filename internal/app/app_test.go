package app

import (
	"context"
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/queue"
	"github.com/adverant/nexus/ocr-worker/internal/rasterize"
)

func testConfig() *config.Config {
	return &config.Config{
		RedisURL:          "redis://localhost:6379/0",
		QueueName:         "ocr:test",
		QueueBackend:      config.BackendAsynq,
		WorkerConcurrency: 1,
		BatchConcurrency:  2,
		ItemTimeout:       time.Minute,
		ProcessingTimeout: time.Minute,
		PDFDPI:            150,
		OCRLanguages:      []string{"eng"},
		Preprocess:        true,
		RasterizeTolerant: true,
	}
}

func TestNewRasterizerTolerance(t *testing.T) {
	cfg := testConfig()
	r := NewRasterizer(cfg, logging.Nop())
	assert.IsType(t, &rasterize.Tolerant{}, r)

	pages, err := r.Rasterize(context.Background(), filepath.Join(t.TempDir(), "gone.pdf"), 0)
	require.NoError(t, err)
	assert.Empty(t, pages)

	cfg.RasterizeTolerant = false
	assert.IsType(t, &rasterize.Fitz{}, NewRasterizer(cfg, logging.Nop()))
}

func TestNewProcessor(t *testing.T) {
	stub := rasterize.RasterizerFunc(func(context.Context, string, int) ([]image.Image, error) { return nil, nil })

	p, err := NewProcessor(testConfig(), stub, logging.Nop())
	require.NoError(t, err)
	assert.NotNil(t, p)

	cfg := testConfig()
	cfg.PipelineProfile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = NewProcessor(cfg, stub, logging.Nop())
	assert.Error(t, err)
}

type idleJobs struct{}

func (idleJobs) ProcessJob(context.Context, *processor.JobRequest) (*processor.JobResult, error) {
	return &processor.JobResult{}, nil
}

func (idleJobs) UpdateJobStatus(context.Context, string, string, map[string]interface{}) error {
	return nil
}

func TestNewConsumerSelectsBackend(t *testing.T) {
	c, err := NewConsumer(testConfig(), idleJobs{}, logging.Nop())
	require.NoError(t, err)
	assert.IsType(t, &queue.Consumer{}, c)
	assert.Equal(t, "asynq", c.GetStatistics()["backend"])

	cfg := testConfig()
	cfg.QueueBackend = "kafka"
	_, err = NewConsumer(cfg, idleJobs{}, logging.Nop())
	assert.Error(t, err)
}
