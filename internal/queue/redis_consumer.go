/**
 * Direct Redis Queue Consumer for the OCR worker
 *
 * Plain Redis LIST queue for producers that cannot speak Asynq:
 * - <queue>            LIST of job IDs (LPUSH to enqueue, workers BRPOP)
 * - <queue>:data       HASH of job ID to job JSON
 * - <queue>:processing SET of running job IDs, plus :completed and :failed
 * - <queue>:results    HASH of job ID to result JSON, :errors for failures
 * - <queue>:events     pub/sub channel of job status events
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

var errNoJobs = errors.New("no jobs available")

const (
	defaultPollTimeout = 5 * time.Second
	defaultRedisRetry  = 3
	redisJobType       = "ocr-batch"
)

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string               `json:"id"`
	Type       string               `json:"type"`
	Payload    processor.JobRequest `json:"payload"`
	CreatedAt  time.Time            `json:"createdAt"`
	Attempts   int                  `json:"attempts"`
	MaxRetries int                  `json:"maxRetries"`
}

// JobEvent is published on <queue>:events for every status change
type JobEvent struct {
	Event     string `json:"event"`
	JobID     string `json:"jobId"`
	Timestamp string `json:"timestamp"`
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client    *redis.Client
	processor processor.JobProcessor
	config    *RedisConsumerConfig
	logger    *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Processor   processor.JobProcessor
	// PollTimeout bounds each BRPOP; defaults to 5s.
	PollTimeout time.Duration
	Logger      *logging.Logger
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisConsumer(client, cfg), nil
}

func newRedisConsumer(client *redis.Client, cfg *RedisConsumerConfig) *RedisConsumer {
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultQueueName
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (c *RedisConsumer) key(suffix string) string {
	return fmt.Sprintf("%s:%s", c.config.QueueName, suffix)
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting queue consumer",
		"backend", "redis",
		"queue", c.config.QueueName,
		"concurrency", c.config.Concurrency)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	c.logger.Info("Queue consumer started")
	return nil
}

// Stop gracefully stops the consumer. Running jobs finish first.
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	logger := c.logger.With("worker", id)
	logger.Debug("Worker started")

	for {
		select {
		case <-c.ctx.Done():
			logger.Debug("Worker stopping")
			return
		default:
		}

		if err := c.processNextJob(c.ctx); err != nil {
			if errors.Is(err, errNoJobs) || c.ctx.Err() != nil {
				continue
			}
			logger.Error("Worker error", "error", err)
			select {
			case <-c.ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob(ctx context.Context) error {
	result, err := c.client.BRPop(ctx, c.config.PollTimeout, c.config.QueueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	id := result[1]

	// once popped, a job runs to completion even if the consumer is stopping
	ctx = context.WithoutCancel(ctx)

	raw, err := c.client.HGet(ctx, c.key("data"), id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", id, err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		c.markFailed(ctx, id, map[string]interface{}{"error": fmt.Sprintf("malformed job: %v", err)})
		return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	if job.ID == "" {
		job.ID = id
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = id
	}
	if err := job.Payload.Validate(); err != nil {
		c.markFailed(ctx, job.Payload.JobID, map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("invalid job %s: %w", id, err)
	}

	c.markProcessing(ctx, job.Payload.JobID)

	res, err := c.processor.ProcessJob(ctx, &job.Payload)
	if err != nil {
		c.logger.Error("Job failed", "job_id", job.Payload.JobID, "attempt", job.Attempts+1, "error", err)

		job.Attempts++
		if job.Attempts < job.MaxRetries {
			if err := c.requeue(ctx, &job); err != nil {
				return err
			}
			c.logger.Info("Job re-queued for retry",
				"job_id", job.Payload.JobID,
				"attempt", job.Attempts,
				"max_retries", job.MaxRetries)
			return nil
		}

		c.markFailed(ctx, job.Payload.JobID, map[string]interface{}{
			"error":    err.Error(),
			"attempts": job.Attempts,
		})
		return nil
	}

	c.markCompleted(ctx, job.Payload.JobID, res)
	return nil
}

func (c *RedisConsumer) requeue(ctx context.Context, job *RedisJobData) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.key("data"), job.ID, data)
	pipe.SRem(ctx, c.key("processing"), job.Payload.JobID)
	pipe.LPush(ctx, c.config.QueueName, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to re-queue job %s: %w", job.ID, err)
	}
	return nil
}

func (c *RedisConsumer) markProcessing(ctx context.Context, jobID string) {
	if err := c.client.SAdd(ctx, c.key("processing"), jobID).Err(); err != nil {
		c.logger.Warn("Failed to mark job processing", "job_id", jobID, "error", err)
	}
	c.publish(ctx, jobID, storage.StatusProcessing)
}

func (c *RedisConsumer) markCompleted(ctx context.Context, jobID string, res *processor.JobResult) {
	pipe := c.client.TxPipeline()
	pipe.SRem(ctx, c.key("processing"), jobID)
	pipe.SAdd(ctx, c.key("completed"), jobID)
	if res != nil {
		if data, err := json.Marshal(res); err == nil {
			pipe.HSet(ctx, c.key("results"), jobID, data)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to mark job completed", "job_id", jobID, "error", err)
	}
	c.publish(ctx, jobID, storage.StatusCompleted)
}

// markFailed records a job that will not be retried. The job runner has
// already stored its own failure; this covers jobs that never reached it.
func (c *RedisConsumer) markFailed(ctx context.Context, jobID string, details map[string]interface{}) {
	pipe := c.client.TxPipeline()
	pipe.SRem(ctx, c.key("processing"), jobID)
	pipe.SAdd(ctx, c.key("failed"), jobID)
	if data, err := json.Marshal(details); err == nil {
		pipe.HSet(ctx, c.key("errors"), jobID, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to mark job failed", "job_id", jobID, "error", err)
	}

	if err := c.processor.UpdateJobStatus(ctx, jobID, storage.StatusFailed, details); err != nil {
		c.logger.Warn("Failed to update job status", "job_id", jobID, "error", err)
	}
	c.publish(ctx, jobID, storage.StatusFailed)
}

func (c *RedisConsumer) publish(ctx context.Context, jobID, status string) {
	data, err := json.Marshal(JobEvent{
		Event:     "job:" + status,
		JobID:     jobID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := c.client.Publish(ctx, c.key("events"), data).Err(); err != nil {
		c.logger.Debug("Failed to publish job event", "job_id", jobID, "error", err)
	}
}

// Enqueue pushes req onto the queue. Jobs are retried up to maxRetries
// times; zero means the default of 3.
func (c *RedisConsumer) Enqueue(ctx context.Context, req *processor.JobRequest, maxRetries int) error {
	return EnqueueRedis(ctx, c.client, c.config.QueueName, req, maxRetries)
}

// EnqueueRedis pushes req onto the Redis LIST queue named queueName.
func EnqueueRedis(ctx context.Context, client redis.Cmdable, queueName string, req *processor.JobRequest, maxRetries int) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if maxRetries <= 0 {
		maxRetries = defaultRedisRetry
	}

	data, err := json.Marshal(RedisJobData{
		ID:         req.JobID,
		Type:       redisJobType,
		Payload:    *req,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: maxRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", req.JobID, err)
	}

	pipe := client.TxPipeline()
	pipe.HSet(ctx, queueName+":data", req.JobID, data)
	pipe.LPush(ctx, queueName, req.JobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", req.JobID, err)
	}
	return nil
}

// GetStatistics returns queue statistics
func (c *RedisConsumer) GetStatistics() map[string]interface{} {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats := map[string]interface{}{
		"backend":     "redis",
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}

	pipe := c.client.Pipeline()
	waiting := pipe.LLen(ctx, c.config.QueueName)
	processing := pipe.SCard(ctx, c.key("processing"))
	completed := pipe.SCard(ctx, c.key("completed"))
	failed := pipe.SCard(ctx, c.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to read queue statistics", "error", err)
		return stats
	}

	stats["waiting"] = waiting.Val()
	stats["processing"] = processing.Val()
	stats["completed"] = completed.Val()
	stats["failed"] = failed.Val()
	return stats
}
