// Package api
// Author: momentics@gmail.com
//
// Generic result for non-blocking transport calls: the would-block path is a
// plain status, not an error to be unwrapped at each call site.

package api

import (
	"errors"
	"syscall"

	"code.hybscloud.com/iox"
)

// Status tags a Result.
type Status uint8

const (
	StatusOK Status = iota
	StatusWouldBlock
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWouldBlock:
		return "would-block"
	default:
		return "error"
	}
}

// Result wraps any payload with its status.
type Result[T any] struct {
	Value  T
	Status Status
	Err    error
}

// Classify folds a (value, error) pair returned by a Socket into a Result.
// Would-block and interruption both become StatusWouldBlock.
func Classify[T any](v T, err error) Result[T] {
	switch {
	case err == nil:
		return Result[T]{Value: v, Status: StatusOK}
	case IsTransient(err):
		return Result[T]{Status: StatusWouldBlock, Err: err}
	default:
		return Result[T]{Status: StatusError, Err: err}
	}
}

// IsTransient reports whether err only means "try again later".
func IsTransient(err error) bool {
	return iox.IsWouldBlock(err) ||
		errors.Is(err, ErrInterrupted) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EINTR)
}
