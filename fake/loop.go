// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the loop and socket
// contracts: nothing runs until the test steps it.

package fake

import (
	"sync"

	"github.com/momentics/hioload-mq/api"
)

// Loop is a manually stepped implementation of api.Loop.
type Loop struct {
	mu      sync.Mutex
	queue   []api.Handler
	readers map[int]api.Handler
	closed  bool
	calls   int
}

var _ api.Loop = (*Loop)(nil)

// NewLoop creates an idle fake loop.
func NewLoop() *Loop {
	return &Loop{readers: make(map[int]api.Handler)}
}

// CallSoon implements api.Loop.CallSoon.
func (l *Loop) CallSoon(h api.Handler) error {
	if h == nil {
		return api.ErrInvalidArgument
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return api.ErrLoopClosed
	}
	l.queue = append(l.queue, h)
	l.calls++
	return nil
}

// AddReader implements api.Loop.AddReader.
func (l *Loop) AddReader(fd int, h api.Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return api.ErrLoopClosed
	}
	if _, ok := l.readers[fd]; ok {
		return api.ErrAlreadyExists
	}
	l.readers[fd] = h
	return nil
}

// RemoveReader implements api.Loop.RemoveReader.
func (l *Loop) RemoveReader(fd int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.readers[fd]; !ok {
		return api.ErrNotFound
	}
	delete(l.readers, fd)
	return nil
}

// Step runs the handlers queued before the call, in order. Handlers they
// queue wait for the next Step. The first handler error stops the step.
func (l *Loop) Step() error {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	for i, h := range batch {
		if err := h(); err != nil {
			l.mu.Lock()
			l.queue = append(batch[i+1:len(batch):len(batch)], l.queue...)
			l.mu.Unlock()
			return err
		}
	}
	return nil
}

// RunUntilIdle steps until nothing is queued or max steps ran.
// It returns the number of steps taken.
func (l *Loop) RunUntilIdle(max int) (int, error) {
	steps := 0
	for steps < max && l.Pending() > 0 {
		steps++
		if err := l.Step(); err != nil {
			return steps, err
		}
	}
	return steps, nil
}

// Fire invokes the reader registered for fd, as a readiness event would.
func (l *Loop) Fire(fd int) error {
	l.mu.Lock()
	h, ok := l.readers[fd]
	l.mu.Unlock()
	if !ok {
		return api.ErrNotFound
	}
	return h()
}

// Pending returns the number of queued handlers.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Calls returns how many handlers were ever queued.
func (l *Loop) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// HasReader reports whether fd has a registered reader.
func (l *Loop) HasReader(fd int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.readers[fd]
	return ok
}

// Close makes further CallSoon and AddReader calls fail and drops queued work.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.queue = nil
}
