package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	ocrerrors "github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

// JobProcessor defines the interface queue consumers drive
type JobProcessor interface {
	ProcessJob(ctx context.Context, req *JobRequest) (*JobResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, metadata map[string]interface{}) error
}

// JobStore persists job state and results
type JobStore interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
	StoreBatchResult(ctx context.Context, jobID string, items []storage.ItemRecord) error
}

// JobRequest is a queued batch job
type JobRequest struct {
	JobID    string             `json:"jobId"`
	Paths    []string           `json:"paths"`
	DPI      int                `json:"dpi,omitempty"`
	Pipeline *preprocess.Config `json:"pipeline,omitempty"`
}

// Validate checks that the request can be processed.
func (r *JobRequest) Validate() error {
	if r.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if _, err := uuid.Parse(r.JobID); err != nil {
		return fmt.Errorf("job ID %q is not a UUID: %w", r.JobID, err)
	}
	if len(r.Paths) == 0 {
		return fmt.Errorf("job %s has no paths", r.JobID)
	}
	if r.DPI < 0 {
		return fmt.Errorf("invalid dpi %d", r.DPI)
	}
	if r.Pipeline != nil {
		if err := r.Pipeline.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// JobResult summarizes a finished job
type JobResult struct {
	JobID            string       `json:"jobId"`
	Results          *BatchResult `json:"results"`
	ItemCount        int          `json:"itemCount"`
	FailedCount      int          `json:"failedCount"`
	ProcessingTimeMs int64        `json:"processingTimeMs"`
}

// JobRunner runs batch jobs and records their state
type JobRunner struct {
	processor *Processor
	store     JobStore
	timeout   time.Duration
	logger    *logging.Logger
}

// NewJobRunner creates a new job runner. A nil store keeps no state.
func NewJobRunner(p *Processor, store JobStore, timeout time.Duration, logger *logging.Logger) *JobRunner {
	if store == nil {
		store = nopStore{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &JobRunner{
		processor: p,
		store:     store,
		timeout:   timeout,
		logger:    logger,
	}
}

// ProcessJob runs the batch described by req. Item failures are recorded in
// the result; the returned error covers timeouts and storage failures only.
func (r *JobRunner) ProcessJob(ctx context.Context, req *JobRequest) (*JobResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	logger := r.logger.With("job_id", req.JobID)
	start := time.Now()

	if err := r.store.UpdateJobStatus(ctx, &storage.JobUpdate{
		JobID:     req.JobID,
		Status:    storage.StatusProcessing,
		Paths:     req.Paths,
		ItemCount: len(req.Paths),
		Metadata: map[string]interface{}{
			"dpi":       req.DPI,
			"startedAt": start.UTC().Format(time.RFC3339),
		},
	}); err != nil {
		logger.Warn("Failed to update job status", "status", storage.StatusProcessing, "error", err)
	}

	jobCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	results := r.processor.ProcessBatchWith(jobCtx, req.Paths, BatchOptions{
		DPI:        req.DPI,
		Preprocess: req.Pipeline,
	})

	res := &JobResult{
		JobID:            req.JobID,
		Results:          results,
		ItemCount:        results.Len(),
		FailedCount:      results.FailedCount(),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}

	// results are recorded even when ctx has expired; partial results are
	// kept when the job fails
	ctx = context.WithoutCancel(ctx)
	if err := r.store.StoreBatchResult(ctx, req.JobID, ItemRecords(results)); err != nil {
		serr := ocrerrors.NewStorageFailedError(req.JobID, err)
		r.fail(ctx, res, serr)
		return res, serr
	}

	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		terr := ocrerrors.NewProcessingTimeoutError(req.JobID, r.timeout, jobCtx.Err())
		r.fail(ctx, res, terr)
		return res, terr
	}

	if err := r.store.UpdateJobStatus(ctx, &storage.JobUpdate{
		JobID:            req.JobID,
		Status:           storage.StatusCompleted,
		ItemCount:        res.ItemCount,
		FailedCount:      res.FailedCount,
		ProcessingTimeMs: res.ProcessingTimeMs,
	}); err != nil {
		return res, ocrerrors.NewStorageFailedError(req.JobID, err)
	}

	logger.Info("Job completed",
		"items", res.ItemCount,
		"failed", res.FailedCount,
		"duration_ms", res.ProcessingTimeMs)
	return res, nil
}

func (r *JobRunner) fail(ctx context.Context, res *JobResult, cause *ocrerrors.ProcessingError) {
	r.logger.Error("Job failed", "job_id", res.JobID, "error", cause)
	if err := r.store.UpdateJobStatus(ctx, &storage.JobUpdate{
		JobID:            res.JobID,
		Status:           storage.StatusFailed,
		ItemCount:        res.ItemCount,
		FailedCount:      res.FailedCount,
		ProcessingTimeMs: res.ProcessingTimeMs,
		ErrorCode:        string(cause.Code),
		ErrorMessage:     cause.Error(),
		Metadata:         cause.ToMap(),
	}); err != nil {
		r.logger.Warn("Failed to update job status", "job_id", res.JobID, "status", storage.StatusFailed, "error", err)
	}
}

// UpdateJobStatus records a status change for jobID
func (r *JobRunner) UpdateJobStatus(ctx context.Context, jobID string, status string, metadata map[string]interface{}) error {
	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Metadata: metadata,
	}
	if metadata != nil {
		if code, ok := metadata["error_code"].(string); ok {
			update.ErrorCode = code
		}
		if msg, ok := metadata["message"].(string); ok {
			update.ErrorMessage = msg
		}
	}
	return r.store.UpdateJobStatus(ctx, update)
}

// ItemRecords converts a batch result to storage records in input order.
func ItemRecords(result *BatchResult) []storage.ItemRecord {
	keys := result.Keys()
	items := make([]storage.ItemRecord, 0, len(keys))
	for i, path := range keys {
		e, _ := result.Entry(path)
		status := storage.ItemSucceeded
		switch {
		case e.Failed():
			status = storage.ItemFailed
		case e.Kind == KindUnsupported:
			status = storage.ItemUnsupported
		}
		items = append(items, storage.ItemRecord{
			Position:   i,
			Path:       path,
			Kind:       string(e.Kind),
			Status:     status,
			Text:       e.Value,
			Confidence: e.Confidence,
		})
	}
	return items
}

type nopStore struct{}

func (nopStore) UpdateJobStatus(context.Context, *storage.JobUpdate) error { return nil }

func (nopStore) StoreBatchResult(context.Context, string, []storage.ItemRecord) error { return nil }
