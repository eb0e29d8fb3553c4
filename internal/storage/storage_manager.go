/**
 * Storage Manager for the OCR worker
 *
 * Coordinates where batch results go: PostgreSQL (job and item rows) and an
 * optional output directory receiving one text file per item. Either sink may
 * be absent.
 */

package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// StorageManager coordinates PostgreSQL and filesystem output
type StorageManager struct {
	postgres  *PostgresClient
	outputDir string
}

// NewStorageManager creates a new storage manager. An empty databaseURL
// disables persistence; an empty outputDir disables text file output.
func NewStorageManager(databaseURL string, outputDir string) (*StorageManager, error) {
	sm := &StorageManager{outputDir: outputDir}
	if databaseURL == "" {
		return sm, nil
	}

	postgres, err := NewPostgresClient(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultSchemaTimeout)
	defer cancel()
	if err := postgres.EnsureSchema(ctx); err != nil {
		postgres.Close()
		return nil, err
	}

	sm.postgres = postgres
	return sm, nil
}

// Persistent reports whether job state is written to PostgreSQL.
func (sm *StorageManager) Persistent() bool {
	return sm.postgres != nil
}

// UpdateJobStatus updates job status in PostgreSQL
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if sm.postgres == nil {
		return nil
	}
	return sm.postgres.UpdateJobStatus(ctx, update)
}

// StoreBatchResult writes every item of a finished job to the configured
// sinks. Text files are named by TextFileName under <outputDir>/<jobID>.
func (sm *StorageManager) StoreBatchResult(ctx context.Context, jobID string, items []ItemRecord) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if sm.outputDir != "" {
		dir := filepath.Join(sm.outputDir, jobID)
		for _, item := range items {
			if item.Status != ItemSucceeded {
				continue
			}
			if err := SaveText(item.Text, filepath.Join(dir, TextFileName(item.Position, item.Path))); err != nil {
				return err
			}
		}
	}

	if sm.postgres != nil {
		if err := sm.postgres.SaveItems(ctx, jobID, items); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks the database connection; it is a no-op without a database.
func (sm *StorageManager) Ping(ctx context.Context) error {
	if sm.postgres == nil {
		return nil
	}
	return sm.postgres.Ping(ctx)
}

// GetJobByID retrieves job by ID
func (sm *StorageManager) GetJobByID(ctx context.Context, jobID string) (*JobRecord, error) {
	if sm.postgres == nil {
		return nil, errNoDatabase
	}
	return sm.postgres.GetJobByID(ctx, jobID)
}

// ListItems returns the stored items of a job
func (sm *StorageManager) ListItems(ctx context.Context, jobID string) ([]ItemRecord, error) {
	if sm.postgres == nil {
		return nil, errNoDatabase
	}
	return sm.postgres.ListItems(ctx, jobID)
}

// GetStats returns connection pool statistics
func (sm *StorageManager) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"output_dir": sm.outputDir,
	}
	if sm.postgres == nil {
		return stats
	}

	pgStats := sm.postgres.GetStats()
	stats["postgres"] = map[string]interface{}{
		"max_open_connections": pgStats.MaxOpenConnections,
		"open_connections":     pgStats.OpenConnections,
		"in_use":               pgStats.InUse,
		"idle":                 pgStats.Idle,
		"wait_count":           pgStats.WaitCount,
		"wait_duration":        pgStats.WaitDuration.String(),
	}
	return stats
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	if sm.postgres != nil {
		if err := sm.postgres.Close(); err != nil {
			return fmt.Errorf("failed to close PostgreSQL: %w", err)
		}
	}
	return nil
}

// TextFileName is the output file name for the item at position: the input
// base name with a .txt extension, prefixed by the zero-padded position so
// equal base names from different directories do not collide.
func TextFileName(position int, path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%04d_%s.txt", position, base)
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres removes escape sequences JSONB rejects (\u0000) and
// replaces other control character escapes with a space.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}
