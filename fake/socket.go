// File: fake/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"sync"
	"time"

	"code.hybscloud.com/iox"

	"github.com/momentics/hioload-mq/api"
)

// Socket is a scripted implementation of api.Socket.
//
// Readiness is derived from state: PollIn while inbound messages are
// buffered, PollOut unless sends are blocked. Injected errors are consumed
// one per call, before the normal behavior.
type Socket struct {
	mu          sync.Mutex
	fd          int
	fdErr       error
	eventsErr   error
	inbox       [][][]byte
	sent        [][][]byte
	sendFlags   []api.Flag
	sendBlocked bool
	sendErrs    []error
	recvErrs    []error
	closed      bool
	closeErr    error
	linger      time.Duration
	sendCalls   int
	recvCalls   int
	eventsCalls int
	ops         []string
}

var _ api.Socket = (*Socket)(nil)

// NewSocket creates a fake socket whose readiness descriptor is fd.
func NewSocket(fd int) *Socket {
	return &Socket{fd: fd}
}

// FD implements api.Socket.FD.
func (s *Socket) FD() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fdErr != nil {
		return -1, s.fdErr
	}
	return s.fd, nil
}

// Events implements api.Socket.Events.
func (s *Socket) Events() (api.Events, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventsCalls++
	s.ops = append(s.ops, "events")
	if s.eventsErr != nil {
		return 0, s.eventsErr
	}
	var ev api.Events
	if len(s.inbox) > 0 {
		ev |= api.PollIn
	}
	if !s.sendBlocked {
		ev |= api.PollOut
	}
	return ev, nil
}

// SendMultipart implements api.Socket.SendMultipart.
func (s *Socket) SendMultipart(frames [][]byte, flags api.Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCalls++
	s.ops = append(s.ops, "send")
	if s.closed {
		return api.ErrSocketClosed
	}
	if len(s.sendErrs) > 0 {
		err := s.sendErrs[0]
		s.sendErrs = s.sendErrs[1:]
		return err
	}
	if s.sendBlocked {
		return iox.ErrWouldBlock
	}
	msg := make([][]byte, len(frames))
	for i, f := range frames {
		msg[i] = append([]byte(nil), f...)
	}
	s.sent = append(s.sent, msg)
	s.sendFlags = append(s.sendFlags, flags)
	return nil
}

// RecvMultipart implements api.Socket.RecvMultipart.
func (s *Socket) RecvMultipart(flags api.Flag) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recvCalls++
	s.ops = append(s.ops, "recv")
	if s.closed {
		return nil, api.ErrSocketClosed
	}
	if len(s.recvErrs) > 0 {
		err := s.recvErrs[0]
		s.recvErrs = s.recvErrs[1:]
		return nil, err
	}
	if len(s.inbox) == 0 {
		return nil, iox.ErrWouldBlock
	}
	msg := s.inbox[0]
	s.inbox = s.inbox[1:]
	return msg, nil
}

// Close implements api.Socket.Close.
func (s *Socket) Close(linger time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.linger = linger
	return s.closeErr
}

// Deliver buffers one inbound message.
func (s *Socket) Deliver(frames ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, frames)
}

// Sent returns the messages accepted so far.
func (s *Socket) Sent() [][][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][][]byte(nil), s.sent...)
}

// SentFlags returns the flags passed with each accepted message.
func (s *Socket) SentFlags() []api.Flag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Flag(nil), s.sendFlags...)
}

// Buffered returns the number of inbound messages not yet received.
func (s *Socket) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbox)
}

// BlockSends makes sends would-block and clears PollOut while b is true.
func (s *Socket) BlockSends(b bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendBlocked = b
}

// FailSend queues err as the result of the next send call.
func (s *Socket) FailSend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErrs = append(s.sendErrs, err)
}

// FailRecv queues err as the result of the next receive call.
func (s *Socket) FailRecv(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recvErrs = append(s.recvErrs, err)
}

// SetFDError makes FD fail with err.
func (s *Socket) SetFDError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fdErr = err
}

// SetEventsError makes Events fail with err until cleared with nil.
func (s *Socket) SetEventsError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventsErr = err
}

// SetCloseError makes Close return err.
func (s *Socket) SetCloseError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeErr = err
}

// Closed reports whether Close was called, and with which linger.
func (s *Socket) Closed() (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.linger
}

// Calls returns the number of send, receive and events calls made.
func (s *Socket) Calls() (send, recv, events int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCalls, s.recvCalls, s.eventsCalls
}

// Ops returns the events, send and recv calls in the order they were made.
func (s *Socket) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}
