// File: api/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Message socket contract consumed by the socket adapter: multipart,
// non-blocking send/receive plus a readiness descriptor whose notifications
// are edge-style (signalled on change only).

package api

import "time"

// Events is the readiness bitmask reported by Socket.Events.
type Events uint32

const (
	// PollIn means at least one message can be received without blocking.
	PollIn Events = 1 << iota
	// PollOut means at least one message can be sent without blocking.
	PollOut
)

// Has reports whether all bits of m are set.
func (e Events) Has(m Events) bool { return e&m == m }

func (e Events) String() string {
	switch e & (PollIn | PollOut) {
	case PollIn:
		return "in"
	case PollOut:
		return "out"
	case PollIn | PollOut:
		return "in|out"
	default:
		return "none"
	}
}

// Flag modifies a single send or receive call.
type Flag uint32

const (
	// DontWait makes the call return a would-block error instead of waiting.
	DontWait Flag = 1 << iota
)

// DefaultLinger asks Close to use the socket's configured linger period.
const DefaultLinger time.Duration = -1

// Socket is a message-oriented transport handle.
//
// A Socket is not safe for concurrent use; the owner (typically a
// SocketAdapter running on a loop goroutine) serializes all calls.
type Socket interface {
	// FD returns the readiness descriptor. It becomes readable whenever the
	// socket's state may have changed; it does not stay readable while data
	// remains buffered.
	FD() (int, error)

	// Events returns the current readiness. Each call re-reads the state.
	Events() (Events, error)

	// SendMultipart queues one message made of frames. With DontWait it
	// returns iox.ErrWouldBlock when the high-water mark is reached or no
	// peer is attached.
	SendMultipart(frames [][]byte, flags Flag) error

	// RecvMultipart dequeues one message. With DontWait it returns
	// iox.ErrWouldBlock when nothing is buffered.
	RecvMultipart(flags Flag) ([][]byte, error)

	// Close releases the socket. Pending outbound messages are kept for at
	// most linger; DefaultLinger uses the socket's own setting.
	Close(linger time.Duration) error
}
