// File: api/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Host event loop contract used by the socket adapter.

package api

// Handler is a unit of loop work. A non-nil error is fatal for the current
// loop run and is returned from the loop's Run.
type Handler func() error

// Loop is a cooperative single-goroutine event loop.
type Loop interface {
	// AddReader invokes h on the loop goroutine whenever fd is readable.
	AddReader(fd int, h Handler) error

	// RemoveReader drops read interest in fd.
	RemoveReader(fd int) error

	// CallSoon runs h on a later loop iteration, never re-entrantly.
	// It is safe to call from any goroutine.
	CallSoon(h Handler) error
}
