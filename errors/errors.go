// Package errors provides error types and utilities for the windup library.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	ErrNotConnected       = errors.New("not connected")
	ErrTimeout            = errors.New("operation timed out")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrMissingQueueName   = errors.New("queue name is required")
	ErrMissingWorker      = errors.New("a worker factory or an existing pool is required")
	ErrUnknownStore       = errors.New("unknown store type")
	ErrDeadRecipient      = errors.New("dead recipient")
	ErrMailboxDead        = errors.New("attempted to receive from a dead mailbox")
	ErrPoolShutdown       = errors.New("worker pool is shut down")
	ErrWorkerCrashed      = errors.New("worker crashed")
	ErrMissingHandlerName = errors.New("handler name is required")
	ErrInvalidHandler     = errors.New("invalid handler")
	ErrQueueExists        = errors.New("queue already registered")
	ErrNoSubscribers      = errors.New("router has no live subscribers")
)

// StoreError represents store-specific errors
type StoreError struct {
	Op    string // operation being performed
	Level string // priority level (if applicable)
	Err   error  // underlying error
}

func (e *StoreError) Error() string {
	if e.Level != "" {
		return fmt.Sprintf("store %s on level %s: %v", e.Op, e.Level, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// WorkerError represents worker execution errors
type WorkerError struct {
	Slot  string // worker slot ID
	JobID string // job being performed, empty for administrative calls
	Err   error  // underlying error
}

func (e *WorkerError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("worker %s on job %s: %v", e.Slot, e.JobID, e.Err)
	}
	return fmt.Sprintf("worker %s: %v", e.Slot, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// SerializationError represents serialization/deserialization errors
type SerializationError struct {
	Format string // serialization format
	Err    error  // underlying error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization (%s): %v", e.Format, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// ConnectionError represents connection-related errors
type ConnectionError struct {
	URI string // connection URI (may be redacted)
	Err error  // underlying error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s: %v", e.URI, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Temporary() bool {
	if t, ok := e.Err.(interface{ Temporary() bool }); ok {
		return t.Temporary()
	}
	return false
}

func (e *ConnectionError) Timeout() bool {
	if t, ok := e.Err.(interface{ Timeout() bool }); ok {
		return t.Timeout()
	}
	return false
}

// ConfigError reports a misconfigured queue. It is returned synchronously
// from constructors and is never retried.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Helper functions for creating errors

// NewStoreError creates a new store error
func NewStoreError(op, level string, err error) error {
	return &StoreError{Op: op, Level: level, Err: err}
}

// NewWorkerError creates a new worker error
func NewWorkerError(slot, jobID string, err error) error {
	return &WorkerError{Slot: slot, JobID: jobID, Err: err}
}

// NewSerializationError creates a new serialization error
func NewSerializationError(format string, err error) error {
	return &SerializationError{Format: format, Err: err}
}

// NewConnectionError creates a new connection error
func NewConnectionError(uri string, err error) error {
	return &ConnectionError{URI: uri, Err: err}
}

// NewConfigError creates a new configuration error
func NewConfigError(field string, err error) error {
	return &ConfigError{Field: field, Err: err}
}

// IsTemporary checks if an error is temporary and retryable
func IsTemporary(err error) bool {
	if t, ok := err.(interface{ Temporary() bool }); ok {
		return t.Temporary()
	}

	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNotConnected)
}

// IsTimeout checks if an error is a timeout
func IsTimeout(err error) bool {
	if t, ok := err.(interface{ Timeout() bool }); ok {
		return t.Timeout()
	}
	return errors.Is(err, ErrTimeout)
}

// IsConfig reports whether err is a construction-time configuration error.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce) ||
		errors.Is(err, ErrMissingQueueName) ||
		errors.Is(err, ErrMissingWorker) ||
		errors.Is(err, ErrInvalidConfig)
}
