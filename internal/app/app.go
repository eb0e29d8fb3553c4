// Package app wires configuration into the processor and queue components
// shared by the worker and the CLI.
package app

import (
	"fmt"

	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/ocr/tesseract"
	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/queue"
	"github.com/adverant/nexus/ocr-worker/internal/rasterize"
)

// Consumer is implemented by both queue backends
type Consumer interface {
	Start() error
	Stop() error
	GetStatistics() map[string]interface{}
}

// NewLogger builds the process logger from cfg
func NewLogger(prefix string, cfg *config.Config) *logging.Logger {
	return logging.NewLoggerWithConfig(prefix, logging.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
}

// NewRasterizer builds the PDF rasterizer: go-fitz, optionally preflighted,
// optionally tolerant of unreadable documents.
func NewRasterizer(cfg *config.Config, logger *logging.Logger) rasterize.Rasterizer {
	var opts []rasterize.FitzOption
	if cfg.PDFPreflight {
		opts = append(opts, rasterize.WithPreflight())
	}

	var r rasterize.Rasterizer = rasterize.NewFitz(opts...)
	if cfg.RasterizeTolerant {
		r = rasterize.NewTolerant(r, logger.With("subsystem", "rasterizer"))
	}
	return r
}

// NewRecognizer builds the Tesseract engine
func NewRecognizer(cfg *config.Config) ocr.Recognizer {
	return tesseract.New(tesseract.Config{
		TessdataPrefix: cfg.TessdataPrefix,
		Languages:      cfg.OCRLanguages,
	})
}

// NewProcessor builds a processor with the production recognizer and
// rasterizer. A nil rasterizer uses NewRasterizer.
func NewProcessor(cfg *config.Config, rasterizer rasterize.Rasterizer, logger *logging.Logger) (*processor.Processor, error) {
	pipelineCfg, err := cfg.PipelineConfig()
	if err != nil {
		return nil, err
	}
	if rasterizer == nil {
		rasterizer = NewRasterizer(cfg, logger)
	}

	return processor.NewProcessor(&processor.ProcessorConfig{
		Recognizer:  NewRecognizer(cfg),
		Rasterizer:  rasterizer,
		Pipeline:    preprocess.NewPipeline(preprocess.WithObserver(preprocess.LogObserver(logger.With("subsystem", "preprocess")))),
		Preprocess:  pipelineCfg,
		DPI:         cfg.PDFDPI,
		Concurrency: cfg.BatchConcurrency,
		ItemTimeout: cfg.ItemTimeout,
		Logger:      logger,
	})
}

// NewConsumer builds the queue consumer selected by QUEUE_BACKEND
func NewConsumer(cfg *config.Config, jobs processor.JobProcessor, logger *logging.Logger) (Consumer, error) {
	switch cfg.QueueBackend {
	case config.BackendAsynq:
		c, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:    cfg.RedisURL,
			QueueName:   cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
			Processor:   jobs,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.BackendRedis:
		c, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:    cfg.RedisURL,
			QueueName:   cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
			Processor:   jobs,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}
