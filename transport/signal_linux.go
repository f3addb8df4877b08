//go:build linux
// +build linux

// File: transport/signal_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// signal is a non-blocking eventfd used as a socket readiness descriptor.
type signal struct {
	mu     sync.RWMutex
	fd     int
	closed bool
}

func newSignal() (*signal, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &signal{fd: fd}, nil
}

func (s *signal) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	_, _ = unix.Write(s.fd, one[:]) // EAGAIN: counter saturated, already readable
}

func (s *signal) drain() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	var buf [8]byte
	_, _ = unix.Read(s.fd, buf[:])
}

func (s *signal) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}
