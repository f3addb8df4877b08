// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-mq.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrSocketClosed        = errors.New("socket is closed")
	ErrLoopClosed          = errors.New("event loop is closed")
	ErrLoopRunning         = errors.New("event loop is already running")
	ErrInterrupted         = errors.New("operation interrupted")
	ErrQueueFull           = errors.New("pending queue is full")
	ErrReceiveModeConflict = errors.New("receive futures and receive callback cannot be mixed")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidEndpoint     = errors.New("invalid endpoint")
	ErrNotSupported        = errors.New("operation not supported")
	ErrAlreadyExists       = errors.New("resource already exists")
	ErrNotFound            = errors.New("resource not found")
	ErrFrameTooLarge       = errors.New("frame exceeds maximum size")
	ErrProtocolViolation   = errors.New("peer violated wire protocol")
	ErrFuturePending       = errors.New("future is not complete")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeInvalidEndpoint
	ErrCodeNotSupported
	ErrCodeAlreadyExists
	ErrCodeNotFound
	ErrCodeProtocol
	ErrCodeInternal
)

// sentinel maps a code to the error value errors.Is should match.
func (c ErrorCode) sentinel() error {
	switch c {
	case ErrCodeInvalidArgument:
		return ErrInvalidArgument
	case ErrCodeInvalidEndpoint:
		return ErrInvalidEndpoint
	case ErrCodeNotSupported:
		return ErrNotSupported
	case ErrCodeAlreadyExists:
		return ErrAlreadyExists
	case ErrCodeNotFound:
		return ErrNotFound
	case ErrCodeProtocol:
		return ErrProtocolViolation
	default:
		return nil
	}
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap lets errors.Is match the sentinel behind the code.
func (e *Error) Unwrap() error {
	return e.Code.sentinel()
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
