package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryTransport Category = "transport"
	CategoryCache     Category = "cache"
	CategoryDecode    Category = "decode"
	CategoryQueue     Category = "queue"
	CategoryConfig    Category = "config"
	CategoryInput     Category = "input"
)

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category  Category
	Op        string // operation name
	Err       error
	Retryable bool
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a non-retryable ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Transient creates a retryable transport error. Network failures are the
// only errors worth retrying at this layer.
func Transient(op string, err error) *ProcessingError {
	return &ProcessingError{Category: CategoryTransport, Op: op, Err: err, Retryable: true}
}

// Wrap wraps an existing error with context.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// IsRetryable reports whether err represents a transient failure.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// CategoryOf returns the category of err, or "" when err is not a
// ProcessingError.
func CategoryOf(err error) Category {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// Sentinel errors for common failure modes.
var (
	ErrSourceNotFound      = errors.New("source not found")
	ErrCacheDirUnavailable = errors.New("cache directory unavailable")
	ErrUnsupportedFormat   = errors.New("unsupported image format")
	ErrInvalidDimensions   = errors.New("invalid dimensions")
	ErrEmptyInput          = errors.New("empty input")
	ErrQueueFull           = errors.New("decode queue full")
	ErrQueueClosed         = errors.New("decode queue closed")
)
