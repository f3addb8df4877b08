// File: api/future.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Set-once completion handle shared between the loop goroutine (producer)
// and any number of awaiting goroutines.

package api

import (
	"context"
	"sync"
)

// Future carries the outcome of one asynchronous operation.
// It completes exactly once; later SetResult/SetError calls are ignored.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewFuture returns a pending future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Failed returns a future already rejected with err.
func Failed[T any](err error) *Future[T] {
	f := NewFuture[T]()
	f.SetError(err)
	return f
}

// SetResult completes the future with v. Returns false if already complete.
func (f *Future[T]) SetResult(v T) bool {
	return f.complete(v, nil)
}

// SetError completes the future with err. Returns false if already complete.
func (f *Future[T]) SetError(err error) bool {
	var zero T
	return f.complete(zero, err)
}

func (f *Future[T]) complete(v T, err error) bool {
	ok := false
	f.once.Do(func() {
		f.value, f.err = v, err
		close(f.done)
		ok = true
	})
	return ok
}

// Done is closed when the future completes.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Completed reports whether the future has a result or an error.
func (f *Future[T]) Completed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome without waiting; ErrFuturePending if not complete.
func (f *Future[T]) Result() (T, error) {
	if !f.Completed() {
		var zero T
		return zero, ErrFuturePending
	}
	return f.value, f.err
}

// Await blocks until the future completes or ctx is done. A ctx expiry does
// not cancel the underlying operation.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
