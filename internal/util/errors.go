package util

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Common error types for the multiwin engine
var (
	// ErrInvalidConfig indicates a configuration error
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrConnectionFailed indicates a connection failure to a backend service
	ErrConnectionFailed = errors.New("connection failed")

	// ErrCancelled indicates an operation was cancelled
	ErrCancelled = errors.New("operation cancelled")

	// ErrWindowNotFound indicates a window id is not registered
	ErrWindowNotFound = errors.New("window not found")

	// ErrNoEnabledWindows indicates a start was requested with nothing to run
	ErrNoEnabledWindows = errors.New("no enabled windows")

	// ErrAlreadyRunning indicates an execution is already in progress
	ErrAlreadyRunning = errors.New("execution already running")

	// ErrNoCapacity indicates a resource pool has no free permits
	ErrNoCapacity = errors.New("no capacity")

	// ErrPoolExhausted indicates the shared service pool cannot take another window
	ErrPoolExhausted = errors.New("service pool exhausted")

	// ErrCircuitOpen indicates a call was rejected by an open circuit breaker.
	// This is a fast-fail distinct from the guarded operation itself failing.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrBarrierBroken indicates a synchronization barrier was broken by a
	// timeout or abort and every waiter was released with failure
	ErrBarrierBroken = errors.New("synchronization barrier broken")

	// ErrStopTimeout indicates the stop protocol exceeded its caller budget
	ErrStopTimeout = errors.New("stop timed out")

	// ErrShutdown indicates the engine is shutting down
	ErrShutdown = errors.New("engine shutting down")
)

// WindowError wraps an error with window context
type WindowError struct {
	WindowID string
	Err      error
}

// Error implements the error interface
func (e *WindowError) Error() string {
	return fmt.Sprintf("window %q: %v", e.WindowID, e.Err)
}

// Unwrap returns the wrapped error for errors.Is/As compatibility
func (e *WindowError) Unwrap() error {
	return e.Err
}

// WrapWindowError wraps an error with window context
func WrapWindowError(windowID string, err error) error {
	if err == nil {
		return nil
	}
	return &WindowError{
		WindowID: windowID,
		Err:      err,
	}
}

// MultiError aggregates multiple errors
type MultiError struct {
	Errors []error
}

// Error implements the error interface
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:", len(m.Errors)))
	for i, err := range m.Errors {
		if i < 10 { // Limit to first 10 errors in the message
			sb.WriteString(fmt.Sprintf("\n  %d. %v", i+1, err))
		} else if i == 10 {
			sb.WriteString(fmt.Sprintf("\n  ... and %d more errors", len(m.Errors)-10))
			break
		}
	}
	return sb.String()
}

// Unwrap returns the errors for errors.Is/As compatibility
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add adds an error to the multi-error
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// ErrorOrNil returns nil if no errors were added, otherwise returns the MultiError
func (m *MultiError) ErrorOrNil() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

// NewMultiError creates a new MultiError from a slice of errors
// It filters out nil errors
func NewMultiError(errors []error) *MultiError {
	m := &MultiError{
		Errors: make([]error, 0, len(errors)),
	}
	for _, err := range errors {
		if err != nil {
			m.Errors = append(m.Errors, err)
		}
	}
	return m
}

// RetryableError wraps an error to indicate it should be retried
type RetryableError struct {
	Err error
}

// Error implements the error interface
func (r *RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %v", r.Err)
}

// Unwrap returns the wrapped error
func (r *RetryableError) Unwrap() error {
	return r.Err
}

// NewRetryableError marks an error as retryable
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether an error belongs to the connection/timeout
// class that the retry executor is allowed to retry. Explicitly marked
// retryable errors, engine timeouts, connection failures, and net timeouts
// qualify; everything else (programming/config errors) propagates immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryErr *RetryableError
	if errors.As(err, &retryErr) {
		return true
	}

	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionFailed) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsCancelled checks if an error is a cancellation error
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// IsCircuitOpen checks if an error is an open-breaker rejection
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsNoCapacity checks if an error is a resource-exhaustion failure
func IsNoCapacity(err error) bool {
	return errors.Is(err, ErrNoCapacity) || errors.Is(err, ErrPoolExhausted)
}

// FriendlyError converts technical errors to user-friendly messages
func FriendlyError(err error) string {
	if err == nil {
		return ""
	}

	// Check for known error types
	switch {
	case IsCircuitOpen(err):
		return "Backend service is degraded and calls are being rejected. Wait for the recovery window or check the service."
	case IsNoCapacity(err):
		return "No capacity available. Reduce the number of concurrent windows or raise the pool limits in the config."
	case IsTimeout(err):
		return "Operation timed out. Please try again or increase the timeout value with --timeout flag."
	case IsCancelled(err):
		return "Operation was cancelled."
	case errors.Is(err, ErrWindowNotFound):
		return "Window not found. Check the window title and handle in your configuration."
	case errors.Is(err, ErrNoEnabledWindows):
		return "No enabled windows to run. Enable at least one window in the configuration."
	case errors.Is(err, ErrAlreadyRunning):
		return "An execution is already in progress. Stop it before starting another."
	case errors.Is(err, ErrConnectionFailed):
		return "Failed to connect to the backend service. Check the service and network connectivity."
	case errors.Is(err, ErrInvalidConfig):
		return "Invalid configuration. Please check your config file and command-line flags."
	default:
		// Return the original error message for unknown errors
		return err.Error()
	}
}

// CombineErrors combines multiple errors into a single error
// Returns nil if all errors are nil
func CombineErrors(errors ...error) error {
	m := NewMultiError(errors)
	return m.ErrorOrNil()
}

// WrapErrorf wraps an error with a formatted message
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
