package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors following 2025 Go best practices
// These are base errors that can be used with errors.Is() and errors.As()
var (
	ErrFeedNotFound               = errors.New("feed not found")
	ErrResourceExhausted          = errors.New("resource exhausted")
	ErrRateLimitExceeded          = errors.New("rate limit exceeded")
	ErrExternalServiceUnavailable = errors.New("external service unavailable")
	ErrOperationTimeout           = errors.New("operation timeout")
	ErrInvalidInput               = errors.New("invalid input")

	// ErrShuttingDown is returned by Downloader operations that observe
	// the shutdown predicate (spec.md §4.C/§4.J) between units of work.
	ErrShuttingDown = errors.New("shutting down")
)

// Error checking helper functions using errors.Is() for 2025 Go patterns

// IsFeedNotFound checks if an error represents a "feed not found" condition
func IsFeedNotFound(err error) bool {
	return errors.Is(err, ErrFeedNotFound)
}

// IsResourceExhaustedError checks if an error represents a resource-exhaustion
// condition (cache full, decode OOM).
func IsResourceExhaustedError(err error) bool {
	return errors.Is(err, ErrResourceExhausted)
}

// IsShuttingDownError checks if an error represents a shutdown-in-progress condition.
func IsShuttingDownError(err error) bool {
	return errors.Is(err, ErrShuttingDown)
}

// IsRateLimitError checks if an error represents a rate limiting issue
func IsRateLimitError(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded)
}

// IsExternalServiceError checks if an error represents an external service issue
func IsExternalServiceError(err error) bool {
	return errors.Is(err, ErrExternalServiceUnavailable)
}

// IsTimeoutError checks if an error represents a timeout condition
func IsTimeoutError(err error) bool {
	return errors.Is(err, ErrOperationTimeout)
}

// IsValidationError checks if an error represents invalid input
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsRetryableError determines if an error represents a condition that can be retried
func IsRetryableError(err error) bool {
	return IsRateLimitError(err) ||
		IsTimeoutError(err) ||
		IsExternalServiceError(err)
}

// Helper functions to create AppContextErrors that wrap sentinel errors
// This provides the best of both worlds: sentinel error checking AND rich context

// NewFeedNotFoundError creates an AppContextError that wraps ErrFeedNotFound
func NewFeedNotFoundError(layer, component, operation string, context map[string]interface{}) *AppContextError {
	return NewAppContextError(
		"FEED_NOT_FOUND",
		"feed not found",
		layer,
		component,
		operation,
		fmt.Errorf("%w", ErrFeedNotFound), // Wrap sentinel error
		context,
	)
}

// NewResourceExhaustedError creates an AppContextError that wraps ErrResourceExhausted
func NewResourceExhaustedError(layer, component, operation string, cause error, context map[string]interface{}) *AppContextError {
	// Create proper error chain that preserves both sentinel error and original cause
	var wrappedCause error
	if cause != nil {
		wrappedCause = fmt.Errorf("%w: %w", ErrResourceExhausted, cause)
	} else {
		wrappedCause = fmt.Errorf("%w", ErrResourceExhausted)
	}

	return NewAppContextError(
		"RESOURCE_EXHAUSTED_ERROR",
		"resource exhausted",
		layer,
		component,
		operation,
		wrappedCause,
		context,
	)
}

// NewShuttingDownError creates an AppContextError that wraps ErrShuttingDown
func NewShuttingDownError(layer, component, operation string, context map[string]interface{}) *AppContextError {
	return NewAppContextError(
		"SHUTTING_DOWN_ERROR",
		"shutting down",
		layer,
		component,
		operation,
		fmt.Errorf("%w", ErrShuttingDown),
		context,
	)
}

// NewRateLimitExceededError creates an AppContextError that wraps ErrRateLimitExceeded
func NewRateLimitExceededError(layer, component, operation string, cause error, context map[string]interface{}) *AppContextError {
	var wrappedCause error
	if cause != nil {
		wrappedCause = fmt.Errorf("%w: %w", ErrRateLimitExceeded, cause)
	} else {
		wrappedCause = fmt.Errorf("%w", ErrRateLimitExceeded)
	}

	return NewAppContextError(
		"RATE_LIMIT_ERROR",
		"rate limit exceeded",
		layer,
		component,
		operation,
		wrappedCause,
		context,
	)
}

// NewExternalServiceUnavailableError creates an AppContextError that wraps ErrExternalServiceUnavailable
func NewExternalServiceUnavailableError(layer, component, operation string, cause error, context map[string]interface{}) *AppContextError {
	var wrappedCause error
	if cause != nil {
		wrappedCause = fmt.Errorf("%w: %w", ErrExternalServiceUnavailable, cause)
	} else {
		wrappedCause = fmt.Errorf("%w", ErrExternalServiceUnavailable)
	}

	return NewAppContextError(
		"EXTERNAL_API_ERROR",
		"external service unavailable",
		layer,
		component,
		operation,
		wrappedCause,
		context,
	)
}

// NewOperationTimeoutError creates an AppContextError that wraps ErrOperationTimeout
func NewOperationTimeoutError(layer, component, operation string, cause error, context map[string]interface{}) *AppContextError {
	var wrappedCause error
	if cause != nil {
		wrappedCause = fmt.Errorf("%w: %w", ErrOperationTimeout, cause)
	} else {
		wrappedCause = fmt.Errorf("%w", ErrOperationTimeout)
	}

	return NewAppContextError(
		"TIMEOUT_ERROR",
		"operation timeout",
		layer,
		component,
		operation,
		wrappedCause,
		context,
	)
}

// NewInvalidInputError creates an AppContextError that wraps ErrInvalidInput
func NewInvalidInputError(layer, component, operation string, context map[string]interface{}) *AppContextError {
	return NewAppContextError(
		"VALIDATION_ERROR",
		"invalid input",
		layer,
		component,
		operation,
		fmt.Errorf("%w", ErrInvalidInput), // Wrap sentinel error
		context,
	)
}
