package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Worker-related errors
	ErrWorkerNotFound    = errors.New("worker not found")
	ErrWorkerUnavailable = errors.New("worker unavailable")
	ErrWorkerPanic       = errors.New("worker panicked")
	ErrTaskFailed        = errors.New("worker reported task failure")
	ErrStaleLease        = errors.New("lease belongs to a replaced registration")

	// State errors
	ErrInvalidTransition = errors.New("invalid status transition")

	// Strategy errors
	ErrUnknownStrategy   = errors.New("unknown strategy")
	ErrInvalidStrategy   = errors.New("invalid strategy descriptor")
	ErrAllAttemptsFailed = errors.New("all attempts failed")

	// Operation errors
	ErrTimeout = errors.New("operation timeout")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")
)

// FrameworkError provides structured error information with context
// It implements the error interface and supports error wrapping
type FrameworkError struct {
	Op      string // Operation that failed (e.g., "registry.UpdateStatus")
	Kind    string // Error kind (e.g., "worker", "strategy", "config")
	ID      string // Optional ID of the entity involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *FrameworkError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *FrameworkError) Unwrap() error {
	return e.Err
}

// NewFrameworkError creates a new FrameworkError
func NewFrameworkError(op, kind string, err error) *FrameworkError {
	return &FrameworkError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// TimeoutError is returned when a single worker invocation outlives its timer.
// The worker may still be running; only the wait was abandoned.
type TimeoutError struct {
	WorkerID string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("worker %s timed out after %s", e.WorkerID, e.Timeout)
}

// Unwrap allows errors.Is(err, ErrTimeout)
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// StepError reports the pipeline step (1-based) and worker that stopped a pipeline
type StepError struct {
	Step     int
	WorkerID string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("pipeline step %d (%s) failed: %v", e.Step, e.WorkerID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// AggregateError bundles every underlying error of a fan-out or fallback
// in which no attempt succeeded.
type AggregateError struct {
	Op     string
	Errors []error
}

func (e *AggregateError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	if len(msgs) == 0 {
		return fmt.Sprintf("%s: %v", e.Op, ErrAllAttemptsFailed)
	}
	return fmt.Sprintf("%s: %v: [%s]", e.Op, ErrAllAttemptsFailed, strings.Join(msgs, "; "))
}

// Is reports ErrAllAttemptsFailed so callers need not know the concrete type
func (e *AggregateError) Is(target error) bool {
	return target == ErrAllAttemptsFailed
}

// Unwrap exposes the underlying errors to errors.Is/As
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkerNotFound)
}

// IsUnavailable checks if an error means the worker exists but is not idle
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrWorkerUnavailable)
}

// IsTimeout checks if an error was caused by an expired invocation timer
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsAggregate checks if every attempt of a fan-out or fallback failed
func IsAggregate(err error) bool {
	var agg *AggregateError
	return errors.As(err, &agg)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}
