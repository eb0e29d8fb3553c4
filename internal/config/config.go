/**
 * Configuration for the OCR worker
 *
 * Loads configuration from environment variables. A .env file, when present,
 * is loaded by main before LoadConfig runs.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
)

// Queue backends
const (
	BackendAsynq = "asynq"
	BackendRedis = "redis"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL     string
	QueueName    string
	QueueBackend string

	// PostgreSQL configuration; results are only persisted when set
	DatabaseURL string

	// Worker configuration
	WorkerConcurrency int
	BatchConcurrency  int
	ItemTimeout       time.Duration
	ProcessingTimeout time.Duration

	// Recognition and rasterization
	PDFDPI            int
	TessdataPrefix    string
	OCRLanguages      []string
	RasterizeTolerant bool
	PDFPreflight      bool

	// Preprocessing
	Preprocess      bool
	PipelineProfile string

	// Output
	OutputDir string
	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		QueueName:         getEnvOrDefault("QUEUE_NAME", "ocr:jobs"),
		QueueBackend:      strings.ToLower(getEnvOrDefault("QUEUE_BACKEND", BackendAsynq)),
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", ""),
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 2),
		BatchConcurrency:  getEnvAsIntOrDefault("BATCH_CONCURRENCY", 1),
		ItemTimeout:       getEnvAsDurationOrDefault("ITEM_TIMEOUT", 5*time.Minute),
		ProcessingTimeout: getEnvAsDurationOrDefault("PROCESSING_TIMEOUT", 30*time.Minute),
		PDFDPI:            getEnvAsIntOrDefault("PDF_DPI", 300),
		TessdataPrefix:    getEnvOrDefault("TESSDATA_PREFIX", ""),
		OCRLanguages:      splitList(getEnvOrDefault("OCR_LANGUAGES", "eng")),
		RasterizeTolerant: getEnvAsBoolOrDefault("RASTERIZE_TOLERANT", true),
		PDFPreflight:      getEnvAsBoolOrDefault("PDF_PREFLIGHT", false),
		Preprocess:        getEnvAsBoolOrDefault("PREPROCESS", true),
		PipelineProfile:   getEnvOrDefault("PIPELINE_PROFILE", ""),
		OutputDir:         getEnvOrDefault("OUTPUT_DIR", ""),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         getEnvOrDefault("LOG_FORMAT", "console"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.QueueBackend != BackendAsynq && c.QueueBackend != BackendRedis {
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", BackendAsynq, BackendRedis, c.QueueBackend)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.BatchConcurrency < 1 || c.BatchConcurrency > 64 {
		return fmt.Errorf("BATCH_CONCURRENCY must be between 1 and 64, got %d", c.BatchConcurrency)
	}

	if c.PDFDPI < 72 || c.PDFDPI > 1200 {
		return fmt.Errorf("PDF_DPI must be between 72 and 1200, got %d", c.PDFDPI)
	}

	if c.ItemTimeout <= 0 {
		return fmt.Errorf("ITEM_TIMEOUT must be positive, got %v", c.ItemTimeout)
	}

	if c.ProcessingTimeout <= 0 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be positive, got %v", c.ProcessingTimeout)
	}

	if len(c.OCRLanguages) == 0 {
		return fmt.Errorf("OCR_LANGUAGES must name at least one language")
	}

	return nil
}

// PipelineConfig returns the preprocessing config for new batches. It is nil
// when preprocessing is disabled, the profile from PIPELINE_PROFILE when one
// is set, and the default pipeline otherwise.
func (c *Config) PipelineConfig() (*preprocess.Config, error) {
	if !c.Preprocess {
		return nil, nil
	}

	if c.PipelineProfile == "" {
		cfg := preprocess.DefaultConfig()
		return &cfg, nil
	}

	cfg, err := preprocess.LoadConfig(c.PipelineProfile)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline profile: %w", err)
	}
	return &cfg, nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsDurationOrDefault accepts Go durations ("90s") or plain
// milliseconds ("90000")
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	if ms, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '+' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
