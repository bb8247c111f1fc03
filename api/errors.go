// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-httpd.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the server.
var (
	// ErrQueueFull is returned by a bounded executor when a job cannot be queued.
	ErrQueueFull = errors.New("work queue is full")

	// ErrExecutorClosed indicates the executor no longer accepts jobs.
	ErrExecutorClosed = errors.New("executor is closed")

	// ErrPoolClosed is returned by Acquire after the resource pool was closed.
	ErrPoolClosed = errors.New("resource pool is closed")

	// ErrServerClosed is returned by Run once the event loop has stopped.
	ErrServerClosed = errors.New("server closed")

	// ErrTooManyConnections is reported when an accepted socket exceeds the connection limit.
	ErrTooManyConnections = errors.New("too many connections")

	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotSupported    = errors.New("operation not supported")
)

// ErrorCode represents specific error conditions in the server.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeStartup
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if len(e.Context) > 0 {
		msg = fmt.Sprintf("%s (context: %+v)", msg, e.Context)
	}
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Wrap attaches a cause to the error.
func (e *Error) Wrap(cause error) *Error {
	e.Cause = cause
	return e
}
