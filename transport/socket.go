// File: transport/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
)

var serials atomix.Uint32

type options struct {
	sendHWM      int
	recvHWM      int
	linger       time.Duration
	reconnectMin time.Duration
	reconnectMax time.Duration
	log          *zap.Logger
	metrics      *control.Metrics
}

// Option configures a Socket.
type Option func(*options)

// WithSendHWM bounds queued outbound messages per peer.
func WithSendHWM(n int) Option { return func(o *options) { o.sendHWM = n } }

// WithRecvHWM bounds queued inbound messages per peer.
func WithRecvHWM(n int) Option { return func(o *options) { o.recvHWM = n } }

// WithLinger sets how long Close keeps flushing TCP peers by default.
func WithLinger(d time.Duration) Option { return func(o *options) { o.linger = d } }

// WithReconnect sets the exponential redial interval bounds.
func WithReconnect(min, max time.Duration) Option {
	return func(o *options) { o.reconnectMin, o.reconnectMax = min, max }
}

// WithLogger sets the socket logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics records connection events on m.
func WithMetrics(m *control.Metrics) Option { return func(o *options) { o.metrics = m } }

// peer is one attached counterpart with a pipe in each direction.
type peer struct {
	name    string
	in      *pipe // toward this socket
	out     *pipe // away from this socket
	gone    atomic.Bool
	release func(linger time.Duration)
}

// Socket implements api.Socket.
type Socket struct {
	serial uint32
	opts   options
	log    *zap.Logger
	sig    *signal

	mu           sync.Mutex
	peers        []*peer
	rr           int
	fq           int
	names        []string // bound inproc names
	listeners    []net.Listener
	lastEndpoint string
	pool         *ants.Pool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ api.Socket = (*Socket)(nil)

// NewSocket creates an unconnected socket.
func NewSocket(opts ...Option) (*Socket, error) {
	o := options{
		sendHWM:      1000,
		recvHWM:      1000,
		linger:       time.Second,
		reconnectMin: 100 * time.Millisecond,
		reconnectMax: 5 * time.Second,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sendHWM <= 0 || o.recvHWM <= 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "high-water marks must be positive")
	}
	sig, err := newSignal()
	if err != nil {
		return nil, err
	}
	s := &Socket{serial: serials.Add(1), opts: o, sig: sig}
	s.log = o.log.With(zap.Uint32("socket", s.serial))
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Serial returns the process-unique socket number.
func (s *Socket) Serial() uint32 { return s.serial }

// FD implements api.Socket.FD.
func (s *Socket) FD() (int, error) {
	if s.closed.Load() {
		return -1, api.ErrSocketClosed
	}
	return s.sig.fd, nil
}

// Events implements api.Socket.Events. It consumes the pending readiness
// signal, then reports the current state.
func (s *Socket) Events() (api.Events, error) {
	if s.closed.Load() {
		return 0, api.ErrSocketClosed
	}
	s.sig.drain()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	var ev api.Events
	for _, p := range s.peers {
		if p.in.readable() {
			ev |= api.PollIn
		}
		if !p.gone.Load() && p.out.writable() {
			ev |= api.PollOut
		}
	}
	return ev, nil
}

// SendMultipart implements api.Socket.SendMultipart. Frames are copied.
// Without api.DontWait the call waits until some peer has room.
func (s *Socket) SendMultipart(frames [][]byte, flags api.Flag) error {
	if len(frames) == 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "message has no frames")
	}
	msg := make([][]byte, len(frames))
	for i, f := range frames {
		if len(f) > MaxFrameSize {
			return fmt.Errorf("%w: frame %d has %d bytes", api.ErrFrameTooLarge, i, len(f))
		}
		// empty frames stay non-nil so inproc and tcp deliver the same value
		msg[i] = make([]byte, len(f))
		copy(msg[i], f)
	}
	var bo iox.Backoff
	for {
		if s.closed.Load() {
			return api.ErrSocketClosed
		}
		err := s.trySend(msg)
		if err == nil || flags&api.DontWait != 0 || !iox.IsWouldBlock(err) {
			return err
		}
		bo.Wait()
	}
}

func (s *Socket) trySend(msg [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.peers)
	for i := 0; i < n; i++ {
		idx := (s.rr + i) % n
		p := s.peers[idx]
		if p.gone.Load() {
			continue
		}
		if err := p.out.push(msg); err == nil {
			s.rr = (idx + 1) % n
			return nil
		}
	}
	return iox.ErrWouldBlock
}

// RecvMultipart implements api.Socket.RecvMultipart. Peers are served in
// turn so one busy peer cannot starve the others.
func (s *Socket) RecvMultipart(flags api.Flag) ([][]byte, error) {
	var bo iox.Backoff
	for {
		if s.closed.Load() {
			return nil, api.ErrSocketClosed
		}
		msg, err := s.tryRecv()
		if err == nil || flags&api.DontWait != 0 || !iox.IsWouldBlock(err) {
			return msg, err
		}
		bo.Wait()
	}
}

func (s *Socket) tryRecv() ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.peers)
	for i := 0; i < n; i++ {
		idx := (s.fq + i) % n
		msg, err := s.peers[idx].in.pop()
		if err == nil {
			s.fq = (idx + 1) % n
			return msg, nil
		}
	}
	s.prune()
	return nil, iox.ErrWouldBlock
}

// prune drops departed peers once their inbound pipe is drained.
// Caller holds s.mu.
func (s *Socket) prune() {
	kept := s.peers[:0]
	for _, p := range s.peers {
		if p.gone.Load() && !p.in.readable() {
			s.log.Debug("peer detached", zap.String("peer", p.name))
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(s.peers); i++ {
		s.peers[i] = nil
	}
	s.peers = kept
	if n := len(kept); n > 0 {
		s.rr %= n
		s.fq %= n
	} else {
		s.rr, s.fq = 0, 0
	}
}

func (s *Socket) attach(p *peer) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return api.ErrSocketClosed
	}
	s.peers = append(s.peers, p)
	s.mu.Unlock()
	s.log.Debug("peer attached", zap.String("peer", p.name))
	s.sig.notify()
	return nil
}

// Peers returns the number of attached peers.
func (s *Socket) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.peers {
		if !p.gone.Load() {
			n++
		}
	}
	return n
}

// Bind starts accepting peers on endpoint.
func (s *Socket) Bind(endpoint string) error {
	if s.closed.Load() {
		return api.ErrSocketClosed
	}
	scheme, addr, err := parseEndpoint(endpoint)
	if err != nil {
		return err
	}
	switch scheme {
	case "inproc":
		return s.bindInproc(addr)
	default:
		return s.bindTCP(addr)
	}
}

// Connect attaches to a bound endpoint. TCP connects complete in the
// background and are retried until the socket closes.
func (s *Socket) Connect(endpoint string) error {
	if s.closed.Load() {
		return api.ErrSocketClosed
	}
	scheme, addr, err := parseEndpoint(endpoint)
	if err != nil {
		return err
	}
	switch scheme {
	case "inproc":
		return s.connectInproc(addr)
	default:
		return s.connectTCP(addr)
	}
}

// LastEndpoint reports the last bound endpoint with wildcards resolved.
func (s *Socket) LastEndpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEndpoint
}

func parseEndpoint(endpoint string) (scheme, addr string, err error) {
	scheme, addr, ok := strings.Cut(endpoint, "://")
	if !ok || addr == "" {
		return "", "", api.NewError(api.ErrCodeInvalidEndpoint, "malformed endpoint").WithContext("endpoint", endpoint)
	}
	switch scheme {
	case "inproc", "tcp":
		return scheme, addr, nil
	default:
		return "", "", api.NewError(api.ErrCodeInvalidEndpoint, "unsupported transport").WithContext("endpoint", endpoint)
	}
}

// Close implements api.Socket.Close. TCP peers keep flushing queued
// messages for at most linger; a negative linger uses the socket default.
// Messages already handed to inproc peers stay receivable there.
func (s *Socket) Close(linger time.Duration) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if linger < 0 {
		linger = s.opts.linger
	}
	s.unbindInproc()
	s.cancel()

	s.mu.Lock()
	peers := s.peers
	listeners := s.listeners
	s.peers, s.listeners = nil, nil
	s.mu.Unlock()

	for _, ln := range listeners {
		_ = ln.Close()
	}
	for _, p := range peers {
		p.release(linger)
	}
	s.wg.Wait()

	s.mu.Lock()
	if s.pool != nil {
		s.pool.Release()
		s.pool = nil
	}
	s.mu.Unlock()
	s.log.Debug("socket closed", zap.Duration("linger", linger))
	return s.sig.close()
}

// submit runs fn on the socket's worker pool and tracks it for Close.
func (s *Socket) submit(fn func()) error {
	s.mu.Lock()
	if s.pool == nil {
		pool, err := ants.NewPool(-1)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.pool = pool
	}
	pool := s.pool
	s.mu.Unlock()

	s.wg.Add(1)
	err := pool.Submit(func() {
		defer s.wg.Done()
		fn()
	})
	if err != nil {
		s.wg.Done()
	}
	return err
}
