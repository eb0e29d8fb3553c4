/**
 * PostgreSQL Client for the OCR worker
 *
 * Persists batch jobs and their per-item results.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const defaultSchemaTimeout = 30 * time.Second

var errNoDatabase = errors.New("no database configured")

// Job statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Item statuses
const (
	ItemSucceeded   = "succeeded"
	ItemFailed      = "failed"
	ItemUnsupported = "unsupported"
)

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS ocr;

	CREATE TABLE IF NOT EXISTS ocr.batch_jobs (
		id                 UUID PRIMARY KEY,
		status             TEXT NOT NULL,
		paths              TEXT[] NOT NULL DEFAULT '{}',
		item_count         INTEGER NOT NULL DEFAULT 0,
		failed_count       INTEGER NOT NULL DEFAULT 0,
		processing_time_ms BIGINT,
		error_code         TEXT,
		error_message      TEXT,
		metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS ocr.batch_items (
		job_id     UUID NOT NULL REFERENCES ocr.batch_jobs(id) ON DELETE CASCADE,
		position   INTEGER NOT NULL,
		path       TEXT NOT NULL,
		kind       TEXT NOT NULL,
		status     TEXT NOT NULL,
		text       TEXT NOT NULL,
		confidence NUMERIC(5,4),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (job_id, position)
	);
`

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Status           string
	Paths            []string
	ItemCount        int
	FailedCount      int
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// ItemRecord is the stored result of one batch item. Text holds the error
// description for failed items.
type ItemRecord struct {
	Position   int
	Path       string
	Kind       string
	Status     string
	Text       string
	Confidence float64
}

// JobRecord is a stored batch job.
type JobRecord struct {
	ID               string
	Status           string
	Paths            []string
	ItemCount        int
	FailedCount      int
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it to [0, 1]
// so it fits NUMERIC(5,4).
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// sanitizeText strips NUL bytes, which PostgreSQL TEXT columns reject.
// Recognized text occasionally contains them.
func sanitizeText(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the ocr schema and its tables if they do not exist.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row. The first update for a job creates it.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metadataJSON = sanitizeJSONForPostgres(metadataJSON)

	paths := update.Paths
	if paths == nil {
		paths = []string{}
	}

	query := `
		INSERT INTO ocr.batch_jobs (
			id, status, paths, item_count, failed_count,
			processing_time_ms, error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1::uuid, $2, $3, $4, $5,
			NULLIF($6, 0), NULLIF($7, ''), NULLIF($8, ''),
			COALESCE(NULLIF($9, 'null')::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			paths = CASE
				WHEN cardinality(EXCLUDED.paths) > 0 THEN EXCLUDED.paths
				ELSE ocr.batch_jobs.paths
			END,
			item_count = GREATEST(EXCLUDED.item_count, ocr.batch_jobs.item_count),
			failed_count = EXCLUDED.failed_count,
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, ocr.batch_jobs.processing_time_ms),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = ocr.batch_jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,
		update.Status,
		pq.Array(paths),
		update.ItemCount,
		update.FailedCount,
		update.ProcessingTimeMs,
		update.ErrorCode,
		sanitizeText(update.ErrorMessage),
		string(metadataJSON),
	).Scan(&returnedID)

	if err == sql.ErrNoRows {
		return fmt.Errorf("job not found: %s", update.JobID)
	}

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// SaveItems replaces the stored items of a job with items, using COPY.
func (p *PostgresClient) SaveItems(ctx context.Context, jobID string, items []ItemRecord) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ocr.batch_items WHERE job_id = $1::uuid`, jobID); err != nil {
		return fmt.Errorf("failed to clear items for job %s: %w", jobID, err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema("ocr", "batch_items",
		"job_id", "position", "path", "kind", "status", "text", "confidence"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx,
			jobID,
			item.Position,
			sanitizeText(item.Path),
			item.Kind,
			item.Status,
			sanitizeText(item.Text),
			sanitizeConfidence(item.Confidence),
		); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy item %s: %w", item.Path, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush items: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit items for job %s: %w", jobID, err)
	}
	return nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, status, paths, item_count, failed_count,
			processing_time_ms, error_code, error_message, metadata,
			created_at, updated_at
		FROM ocr.batch_jobs
		WHERE id = $1::uuid
	`

	var (
		job              JobRecord
		paths            pq.StringArray
		processingTimeMs sql.NullInt64
		errorCode        sql.NullString
		errorMessage     sql.NullString
		metadataJSON     []byte
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.ID, &job.Status, &paths, &job.ItemCount, &job.FailedCount,
		&processingTimeMs, &errorCode, &errorMessage, &metadataJSON,
		&job.CreatedAt, &job.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.Paths = []string(paths)
	job.ProcessingTimeMs = processingTimeMs.Int64
	job.ErrorCode = errorCode.String
	job.ErrorMessage = errorMessage.String

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &job, nil
}

// ListItems returns the stored items of a job in input order.
func (p *PostgresClient) ListItems(ctx context.Context, jobID string) ([]ItemRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT position, path, kind, status, text, COALESCE(confidence, 0)
		FROM ocr.batch_items
		WHERE job_id = $1::uuid
		ORDER BY position
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []ItemRecord
	for rows.Next() {
		var item ItemRecord
		if err := rows.Scan(&item.Position, &item.Path, &item.Kind, &item.Status, &item.Text, &item.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
