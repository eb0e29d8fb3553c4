/**
 * Queue Consumer for the OCR worker
 *
 * Consumes batch OCR jobs from Redis using Asynq. Each task carries a
 * processor.JobRequest; the job runner records status and results, so the
 * handler only decides whether a failure is worth a retry.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	ocrerrors "github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
)

const (
	// TaskTypeBatch is the Asynq task type for batch OCR jobs
	TaskTypeBatch = "ocr:batch"

	// DefaultQueueName is used when no queue is configured
	DefaultQueueName = "ocr:jobs"

	defaultConcurrency = 2
	defaultMaxRetry    = 3
)

// Consumer handles job consumption from Redis queue
type Consumer struct {
	server    *asynq.Server
	inspector *asynq.Inspector
	mux       *asynq.ServeMux
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Processor   processor.JobProcessor
	Logger      *logging.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = DefaultQueueName
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error",
					"type", task.Type(),
					"payload", string(task.Payload()),
					"error", err)
			}),
			Logger: &asynqLogger{logger: logger},
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(TaskTypeBatch, NewBatchHandler(cfg.Processor, logger))

	return &Consumer{
		server:    server,
		inspector: asynq.NewInspector(redisOpt),
		mux:       mux,
		config:    cfg,
		logger:    logger,
	}, nil
}

// retryDelay backs off exponentially from 5s, capped at 60s
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second || delay <= 0 {
		delay = 60 * time.Second
	}
	return delay
}

// Start begins processing jobs from the queue
func (c *Consumer) Start() error {
	c.logger.Info("Starting queue consumer",
		"backend", "asynq",
		"queue", c.config.QueueName,
		"concurrency", c.config.Concurrency)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}

	c.logger.Info("Queue consumer started")
	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	return c.inspector.Close()
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	stats := map[string]interface{}{
		"backend":     "asynq",
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}

	info, err := c.inspector.GetQueueInfo(c.config.QueueName)
	if err != nil {
		// the queue does not exist until the first task is enqueued
		return stats
	}
	stats["pending"] = info.Pending
	stats["active"] = info.Active
	stats["retry"] = info.Retry
	stats["archived"] = info.Archived
	stats["processed"] = info.Processed
	stats["failed"] = info.Failed
	return stats
}

// BatchHandler runs ocr:batch tasks
type BatchHandler struct {
	processor processor.JobProcessor
	logger    *logging.Logger
}

// NewBatchHandler creates a new batch task handler
func NewBatchHandler(p processor.JobProcessor, logger *logging.Logger) *BatchHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &BatchHandler{processor: p, logger: logger}
}

// ProcessTask implements asynq.Handler. Malformed payloads and timed out jobs
// are not retried; storage failures are.
func (h *BatchHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	req, err := DecodeJobRequest(task.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	logger := h.logger.With("job_id", req.JobID)
	logger.Info("Processing job", "items", len(req.Paths))

	res, err := h.processor.ProcessJob(ctx, req)
	if err != nil {
		if errors.Is(err, ocrerrors.ErrProcessingTimeout) {
			return fmt.Errorf("job %s: %w: %w", req.JobID, err, asynq.SkipRetry)
		}
		return fmt.Errorf("job %s: %w", req.JobID, err)
	}

	logger.Info("Job processed",
		"items", res.ItemCount,
		"failed", res.FailedCount,
		"duration_ms", res.ProcessingTimeMs)

	if w := task.ResultWriter(); w != nil {
		summary, err := json.Marshal(res)
		if err == nil {
			if _, err := w.Write(summary); err != nil {
				logger.Warn("Failed to write task result", "error", err)
			}
		}
	}
	return nil
}

// DecodeJobRequest parses and validates a task payload
func DecodeJobRequest(payload []byte) (*processor.JobRequest, error) {
	var req processor.JobRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job payload: %w", err)
	}
	return &req, nil
}

// NewBatchTask builds an ocr:batch task for req
func NewBatchTask(req *processor.JobRequest, opts ...asynq.Option) (*asynq.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return asynq.NewTask(TaskTypeBatch, payload, opts...), nil
}

// Producer enqueues batch jobs for Asynq consumers
type Producer struct {
	client    *asynq.Client
	queueName string
}

// NewProducer creates a new producer for queueName
func NewProducer(redisURL, queueName string) (*Producer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &Producer{client: asynq.NewClient(redisOpt), queueName: queueName}, nil
}

// Enqueue submits req. The job ID doubles as the task ID, so a job can only
// be queued once.
func (p *Producer) Enqueue(ctx context.Context, req *processor.JobRequest, timeout time.Duration) (*asynq.TaskInfo, error) {
	opts := []asynq.Option{
		asynq.Queue(p.queueName),
		asynq.TaskID(req.JobID),
		asynq.MaxRetry(defaultMaxRetry),
		asynq.Retention(24 * time.Hour),
	}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}

	task, err := NewBatchTask(req, opts...)
	if err != nil {
		return nil, err
	}
	info, err := p.client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s: %w", req.JobID, err)
	}
	return info, nil
}

// Close releases the producer's Redis connection
func (p *Producer) Close() error {
	return p.client.Close()
}
