// Package core provides the main VoiceMem engine and conversational memory functionality.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConnectionFailed indicates that a connection to the storage backend failed.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrEmbeddingFailed indicates that embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrSearchTimeout indicates that a search exceeded its latency budget.
	ErrSearchTimeout = errors.New("search timed out")

	// ErrQueueFull indicates that the background write queue is at capacity.
	ErrQueueFull = errors.New("write queue full")

	// ErrEngineClosed indicates that the engine has been closed.
	ErrEngineClosed = errors.New("engine closed")
)

// EngineError wraps errors with operation context.
//
// It provides additional context about which operation failed,
// making error messages more informative for debugging.
//
// Example:
//
//	err := &EngineError{
//	    Op:  "Search",
//	    Err: ErrEmbeddingFailed,
//	}
//	// Error() returns: "voicemem: Search: embedding generation failed"
type EngineError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "voicemem: <Op>: <Err>"
func (e *EngineError) Error() string {
	return fmt.Sprintf("voicemem: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with EngineError.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewEngineError("Remember", err)
//	}
//
// Parameters:
//   - op: Name of the operation (e.g., "Search", "Remember")
//   - err: The underlying error to wrap
//
// Returns an EngineError, or nil if err is nil.
func NewEngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{
		Op:  op,
		Err: err,
	}
}
