//go:build !linux
// +build !linux

// File: transport/signal_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import "github.com/momentics/hioload-mq/api"

type signal struct{ fd int }

func newSignal() (*signal, error) {
	return nil, api.NewError(api.ErrCodeNotSupported, "socket readiness descriptor requires eventfd")
}

func (s *signal) notify()      {}
func (s *signal) drain()       {}
func (s *signal) close() error { return nil }
