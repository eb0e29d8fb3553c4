package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the OCR worker
 *
 * Single-item APIs return these so callers can tell "not found" from
 * "processing failed". Batch APIs flatten them to strings.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Preprocessing errors
	ErrorStageFailed ErrorCode = "STAGE_FAILED"

	// Input errors
	ErrorSourceNotFound    ErrorCode = "SOURCE_NOT_FOUND"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"

	// Processing errors
	ErrorEngineFailed      ErrorCode = "ENGINE_FAILED"
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// Sentinels for errors.Is matching by code.
var (
	ErrStageFailed       = &ProcessingError{Code: ErrorStageFailed}
	ErrSourceNotFound    = &ProcessingError{Code: ErrorSourceNotFound}
	ErrUnsupportedFormat = &ProcessingError{Code: ErrorUnsupportedFormat}
	ErrEngineFailed      = &ProcessingError{Code: ErrorEngineFailed}
	ErrProcessingTimeout = &ProcessingError{Code: ErrorProcessingTimeout}
	ErrStorageFailed     = &ProcessingError{Code: ErrorStorageFailed}
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	Path      string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ProcessingError with the same code.
func (e *ProcessingError) Is(target error) bool {
	t, ok := target.(*ProcessingError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first ProcessingError in err's chain, or
// an empty code when there is none.
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Factory functions for common errors

func NewStageError(stage string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStageFailed,
		Message:   fmt.Sprintf("Preprocessing stage %s failed", stage),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"stage": stage,
		},
		Cause: cause,
	}
}

func NewSourceNotFoundError(path string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorSourceNotFound,
		Message:   fmt.Sprintf("File not found: %s", path),
		Path:      path,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewUnsupportedFormatError(path string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file format: %s", path),
		Path:      path,
		Timestamp: time.Now(),
	}
}

// NewEngineFailedError reports a recognition failure. path may be empty when
// the failing page is not tied to a file.
func NewEngineFailedError(path string, cause error) *ProcessingError {
	msg := "Recognition failed"
	if path != "" {
		msg = fmt.Sprintf("Error processing %s", path)
	}
	return &ProcessingError{
		Code:      ErrorEngineFailed,
		Message:   msg,
		Path:      path,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"job_id":           jobID,
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store batch results",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"job_id": jobID,
		},
		Cause: cause,
	}
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.Path != "" {
		result["path"] = e.Path
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
