// File: adapters/socket_adapter.go
// Package adapters
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SocketAdapter bridges a non-blocking message socket with edge-style
// readiness onto a cooperative loop. Callers get futures; the loop goroutine
// drains queued sends and receive requests whenever the socket may have
// changed state, re-scheduling itself so that buffered work is not stranded
// between readiness edges.

package adapters

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
)

// ReceiveMode is the receive discipline, fixed by the first receive-side call.
type ReceiveMode int32

const (
	ModeUnset ReceiveMode = iota
	ModeQueue
	ModeCallback
)

func (m ReceiveMode) String() string {
	switch m {
	case ModeQueue:
		return "queue"
	case ModeCallback:
		return "callback"
	default:
		return "unset"
	}
}

type outbound struct {
	frames [][]byte
	flags  api.Flag
	fut    *api.Future[struct{}]
}

// Stats is a point-in-time view of an adapter.
type Stats struct {
	ID           string
	Mode         string
	Attached     bool
	Closed       bool
	PendingSends int
	PendingRecvs int
	Sent         uint64
	Received     uint64
	Wakeups      uint64
	Reschedules  uint64
}

// SocketAdapter exposes future-returning operations over an api.Socket.
//
// All queue state is owned by the loop goroutine. Public methods are safe
// from any goroutine: they marshal their work through Loop.CallSoon, which
// keeps per-caller order.
type SocketAdapter struct {
	sock    api.Socket
	loop    api.Loop
	id      uuid.UUID
	log     *zap.Logger
	metrics *control.Metrics

	maxSends int
	maxRecvs int

	// loop-owned
	attached bool
	fd       int
	closed   bool
	sendQ    *queue.Queue // *outbound
	recvQ    *queue.Queue // *api.Future[[][]byte]
	onRecv   func([][]byte) error

	mode        atomic.Int32
	isAttached  atomic.Bool
	isClosed    atomic.Bool
	pendingSend atomic.Int64
	pendingRecv atomic.Int64
	sent        atomic.Uint64
	received    atomic.Uint64
	wakeups     atomic.Uint64
	reschedules atomic.Uint64

	closeOnce sync.Once
	closeFut  *api.Future[struct{}]
}

// Option configures a SocketAdapter.
type Option func(*SocketAdapter)

// WithLogger sets the adapter logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *SocketAdapter) {
		if log != nil {
			a.log = log
		}
	}
}

// WithMetrics records activity on m.
func WithMetrics(m *control.Metrics) Option {
	return func(a *SocketAdapter) { a.metrics = m }
}

// WithMaxPendingSends bounds the outbound queue; 0 is unbounded.
func WithMaxPendingSends(n int) Option {
	return func(a *SocketAdapter) { a.maxSends = n }
}

// WithMaxPendingRecvs bounds the receive-future queue; 0 is unbounded.
func WithMaxPendingRecvs(n int) Option {
	return func(a *SocketAdapter) { a.maxRecvs = n }
}

// NewSocketAdapter binds sock to loop. Nothing is registered with the loop
// until the first operation.
func NewSocketAdapter(sock api.Socket, loop api.Loop, opts ...Option) (*SocketAdapter, error) {
	if sock == nil || loop == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "socket adapter needs a socket and a loop")
	}
	a := &SocketAdapter{
		sock:  sock,
		loop:  loop,
		id:    uuid.New(),
		log:   zap.NewNop(),
		fd:    -1,
		sendQ: queue.New(),
		recvQ: queue.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.maxSends < 0 || a.maxRecvs < 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "negative queue limit")
	}
	a.log = a.log.With(zap.String("adapter", a.id.String()))
	return a, nil
}

// Socket returns the wrapped socket.
func (a *SocketAdapter) Socket() api.Socket { return a.sock }

// ID returns the adapter identity used in logs and probes.
func (a *SocketAdapter) ID() string { return a.id.String() }

// Mode returns the receive discipline chosen so far.
func (a *SocketAdapter) Mode() ReceiveMode { return ReceiveMode(a.mode.Load()) }

// Stats returns counters and queue depths.
func (a *SocketAdapter) Stats() Stats {
	return Stats{
		ID:           a.ID(),
		Mode:         a.Mode().String(),
		Attached:     a.isAttached.Load(),
		Closed:       a.isClosed.Load(),
		PendingSends: int(a.pendingSend.Load()),
		PendingRecvs: int(a.pendingRecv.Load()),
		Sent:         a.sent.Load(),
		Received:     a.received.Load(),
		Wakeups:      a.wakeups.Load(),
		Reschedules:  a.reschedules.Load(),
	}
}

// Send queues a single-frame message.
func (a *SocketAdapter) Send(data []byte, flags api.Flag) *api.Future[struct{}] {
	return a.SendMultipart([][]byte{data}, flags)
}

// SendMultipart queues a message. The future resolves once the socket has
// accepted the message into its own buffer, not when a peer received it.
func (a *SocketAdapter) SendMultipart(frames [][]byte, flags api.Flag) *api.Future[struct{}] {
	fut := api.NewFuture[struct{}]()
	if len(frames) == 0 {
		fut.SetError(api.NewError(api.ErrCodeInvalidArgument, "message has no frames"))
		return fut
	}
	msg := &outbound{frames: frames, flags: flags | api.DontWait, fut: fut}
	err := a.loop.CallSoon(func() error {
		if a.closed {
			fut.SetError(api.ErrSocketClosed)
			return nil
		}
		if a.maxSends > 0 && a.sendQ.Length() >= a.maxSends {
			fut.SetError(api.ErrQueueFull)
			return nil
		}
		if err := a.ensureAttached(); err != nil {
			fut.SetError(err)
			return nil
		}
		a.sendQ.Add(msg)
		a.pendingSend.Add(1)
		a.metrics.AddPending(1, 0)
		a.schedule()
		return nil
	})
	if err != nil {
		fut.SetError(err)
	}
	return fut
}

// RecvMultipart requests the next inbound message. Concurrent requests
// resolve in the order they were made.
func (a *SocketAdapter) RecvMultipart() *api.Future[[][]byte] {
	if !a.claimMode(ModeQueue) {
		return api.Failed[[][]byte](api.ErrReceiveModeConflict)
	}
	fut := api.NewFuture[[][]byte]()
	err := a.loop.CallSoon(func() error {
		if a.closed {
			fut.SetError(api.ErrSocketClosed)
			return nil
		}
		if a.maxRecvs > 0 && a.recvQ.Length() >= a.maxRecvs {
			fut.SetError(api.ErrQueueFull)
			return nil
		}
		if err := a.ensureAttached(); err != nil {
			fut.SetError(err)
			return nil
		}
		a.recvQ.Add(fut)
		a.pendingRecv.Add(1)
		a.metrics.AddPending(0, 1)
		a.schedule()
		return nil
	})
	if err != nil {
		fut.SetError(err)
	}
	return fut
}

// OnRecv installs cb as the push receiver: every inbound message is handed
// to cb on the loop goroutine. A cb error is returned to the loop, which
// stops. Calling OnRecv again replaces the callback.
func (a *SocketAdapter) OnRecv(cb func([][]byte) error) error {
	if cb == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "nil receive callback")
	}
	if !a.claimMode(ModeCallback) {
		return api.ErrReceiveModeConflict
	}
	return a.loop.CallSoon(func() error {
		if a.closed {
			return nil
		}
		a.onRecv = cb
		if err := a.ensureAttached(); err != nil {
			return err
		}
		a.schedule()
		return nil
	})
}

// Close detaches from the loop, rejects every pending future with
// api.ErrSocketClosed and closes the socket with linger (api.DefaultLinger
// keeps the socket's own setting). The returned future carries the socket's
// close error. Repeated calls return the same future.
func (a *SocketAdapter) Close(linger time.Duration) *api.Future[struct{}] {
	a.closeOnce.Do(func() {
		a.closeFut = api.NewFuture[struct{}]()
		teardown := func() error {
			a.teardown(linger)
			return nil
		}
		if err := a.loop.CallSoon(teardown); err != nil {
			// loop is gone, nothing else touches the adapter state
			a.teardown(linger)
		}
	})
	return a.closeFut
}

func (a *SocketAdapter) teardown(linger time.Duration) {
	a.closed = true
	a.isClosed.Store(true)
	if a.attached {
		if err := a.loop.RemoveReader(a.fd); err != nil {
			a.log.Debug("remove reader", zap.Int("fd", a.fd), zap.Error(err))
		}
		a.attached = false
		a.isAttached.Store(false)
		a.log.Debug("detached", zap.Int("fd", a.fd))
	}
	a.rejectPending(api.ErrSocketClosed)
	if err := a.sock.Close(linger); err != nil {
		a.closeFut.SetError(fmt.Errorf("close socket: %w", err))
		return
	}
	a.closeFut.SetResult(struct{}{})
}

func (a *SocketAdapter) rejectPending(err error) {
	sends, recvs := a.sendQ.Length(), a.recvQ.Length()
	for a.sendQ.Length() > 0 {
		a.sendQ.Remove().(*outbound).fut.SetError(err)
	}
	for a.recvQ.Length() > 0 {
		a.recvQ.Remove().(*api.Future[[][]byte]).SetError(err)
	}
	if sends+recvs > 0 {
		a.log.Warn("rejected pending futures", zap.Int("sends", sends), zap.Int("recvs", recvs), zap.Error(err))
	}
	a.pendingSend.Add(-int64(sends))
	a.pendingRecv.Add(-int64(recvs))
	a.metrics.AddPending(-sends, -recvs)
}

// claimMode fixes the receive discipline on first use.
func (a *SocketAdapter) claimMode(m ReceiveMode) bool {
	if a.mode.CompareAndSwap(int32(ModeUnset), int32(m)) {
		return true
	}
	return ReceiveMode(a.mode.Load()) == m
}

// ensureAttached registers the wakeup handler on the socket's readiness
// descriptor once.
func (a *SocketAdapter) ensureAttached() error {
	if a.attached {
		return nil
	}
	fd, err := a.sock.FD()
	if err != nil {
		return fmt.Errorf("socket fd: %w", err)
	}
	if err := a.loop.AddReader(fd, a.wakeup); err != nil {
		return fmt.Errorf("add reader: %w", err)
	}
	a.fd = fd
	a.attached = true
	a.isAttached.Store(true)
	a.log.Debug("attached", zap.Int("fd", fd))
	return nil
}

// schedule runs wakeup again on a later loop iteration.
func (a *SocketAdapter) schedule() {
	if err := a.loop.CallSoon(a.wakeup); err != nil {
		a.log.Debug("schedule wakeup", zap.Error(err))
		return
	}
	a.reschedules.Add(1)
	a.metrics.Reschedule()
}

// wakeup performs at most one receive and one send. It runs on readiness
// edges and on its own schedule; readiness is re-read every time.
func (a *SocketAdapter) wakeup() error {
	if a.closed {
		return nil
	}
	a.wakeups.Add(1)
	a.metrics.Wakeup()

	ev, err := a.sock.Events()
	if err != nil {
		if api.IsTransient(err) {
			return nil
		}
		return a.fail(fmt.Errorf("socket events: %w", err))
	}

	rescheduled := false
	if ev.Has(api.PollIn) && a.receiverWaiting() {
		a.schedule()
		rescheduled = true
		if err := a.receiveOne(); err != nil {
			return err
		}
	}

	if ev.Has(api.PollOut) && a.sendQ.Length() > 0 {
		msg := a.sendQ.Peek().(*outbound)
		if a.sendQ.Length() > 1 && !rescheduled {
			a.schedule()
		}
		res := api.Classify(struct{}{}, a.sock.SendMultipart(msg.frames, msg.flags))
		a.metrics.SendAttempt(res.Status)
		switch res.Status {
		case api.StatusOK:
			a.sendQ.Remove()
			a.dequeuedSend()
			a.sent.Add(1)
			msg.fut.SetResult(struct{}{})
			a.schedule()
		case api.StatusWouldBlock:
			a.log.Debug("send would block, kept at front")
		case api.StatusError:
			a.sendQ.Remove()
			a.dequeuedSend()
			a.log.Warn("send failed", zap.Error(res.Err))
			msg.fut.SetError(res.Err)
		}
	}
	return nil
}

func (a *SocketAdapter) receiverWaiting() bool {
	switch a.Mode() {
	case ModeCallback:
		return a.onRecv != nil
	case ModeQueue:
		return a.recvQ.Length() > 0
	default:
		return false
	}
}

func (a *SocketAdapter) receiveOne() error {
	frames, err := a.sock.RecvMultipart(api.DontWait)
	res := api.Classify(frames, err)
	a.metrics.RecvAttempt(res.Status)

	if a.Mode() == ModeCallback {
		switch res.Status {
		case api.StatusOK:
			a.received.Add(1)
			a.metrics.Callback()
			if err := a.onRecv(res.Value); err != nil {
				a.log.Error("receive callback failed", zap.Error(err))
				return fmt.Errorf("adapter %s: receive callback: %w", a.id, err)
			}
		case api.StatusError:
			a.log.Error("receive failed", zap.Error(res.Err))
			return fmt.Errorf("adapter %s: receive: %w", a.id, res.Err)
		}
		return nil
	}

	fut := a.recvQ.Peek().(*api.Future[[][]byte])
	switch res.Status {
	case api.StatusOK:
		a.recvQ.Remove()
		a.dequeuedRecv()
		a.received.Add(1)
		fut.SetResult(res.Value)
	case api.StatusWouldBlock:
		a.log.Debug("receive would block, kept at front")
	case api.StatusError:
		a.recvQ.Remove()
		a.dequeuedRecv()
		a.log.Warn("receive failed", zap.Error(res.Err))
		fut.SetError(res.Err)
	}
	return nil
}

// fail handles a broken readiness query: queued futures are rejected with
// err; in callback mode err goes to the loop since no future can carry it.
func (a *SocketAdapter) fail(err error) error {
	a.rejectPending(err)
	if a.Mode() == ModeCallback {
		a.log.Error("readiness query failed", zap.Error(err))
		return err
	}
	return nil
}

func (a *SocketAdapter) dequeuedSend() {
	a.pendingSend.Add(-1)
	a.metrics.AddPending(-1, 0)
}

func (a *SocketAdapter) dequeuedRecv() {
	a.pendingRecv.Add(-1)
	a.metrics.AddPending(0, -1)
}
