// File: transport/tcp.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TCP endpoints. Each connection runs a reader pump and a writer pump on the
// socket's ants pool; the pumps move messages between the socket and the
// wire and never touch socket state other than pipes and the signal.

package transport

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const handshakeTimeout = 5 * time.Second

func (s *Socket) bindTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	endpoint := "tcp://" + ln.Addr().String()
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.lastEndpoint = endpoint
	s.mu.Unlock()

	if err := s.submit(func() { s.acceptLoop(ln) }); err != nil {
		_ = ln.Close()
		return err
	}
	s.log.Debug("bound", zap.String("endpoint", endpoint))
	return nil
}

func (s *Socket) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.closed.Load() {
				return
			}
			s.log.Warn("accept", zap.Error(err))
			continue
		}
		s.opts.metrics.Connection("accepted")
		if err := s.submit(func() { s.serve(conn) }); err != nil {
			_ = conn.Close()
		}
	}
}

// serve runs an accepted connection until it ends.
func (s *Socket) serve(conn net.Conn) {
	c, err := s.open(conn)
	if err != nil {
		s.log.Debug("handshake", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
		return
	}
	<-c.done
}

func (s *Socket) connectTCP(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return err
	}
	return s.submit(func() { s.dialLoop(addr) })
}

// dialLoop keeps one connection to addr alive until the socket closes.
func (s *Socket) dialLoop(addr string) {
	for s.ctx.Err() == nil {
		var conn net.Conn
		dial := func() error {
			var d net.Dialer
			c, err := d.DialContext(s.ctx, "tcp", addr)
			if err != nil {
				s.log.Debug("dial", zap.String("addr", addr), zap.Error(err))
				return err
			}
			conn = c
			return nil
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = s.opts.reconnectMin
		b.MaxInterval = s.opts.reconnectMax
		b.MaxElapsedTime = 0
		if err := backoff.Retry(dial, backoff.WithContext(b, s.ctx)); err != nil {
			return
		}
		s.opts.metrics.Connection("dialed")

		c, err := s.open(conn)
		if err != nil {
			s.log.Debug("handshake", zap.String("addr", addr), zap.Error(err))
			select {
			case <-time.After(s.opts.reconnectMin):
			case <-s.ctx.Done():
			}
			continue
		}
		<-c.done
	}
}

// tcpConn is one established connection and its peer.
type tcpConn struct {
	sock      *Socket
	conn      net.Conn
	peer      *peer
	readWake  wake
	writeWake wake
	closing   chan struct{}
	linger    time.Duration
	done      chan struct{}
	closeOnce sync.Once
	stopOnce  sync.Once
}

// open performs the greeting exchange, attaches the peer and starts the
// pumps. On error the connection is closed.
func (s *Socket) open(conn net.Conn) (*tcpConn, error) {
	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := writeGreeting(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	r := bufio.NewReader(conn)
	if err := readGreeting(r); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	c := &tcpConn{
		sock:      s,
		conn:      conn,
		readWake:  newWake(),
		writeWake: newWake(),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.peer = &peer{
		name:    "tcp://" + conn.RemoteAddr().String(),
		in:      newPipe(s.opts.recvHWM, s.sig, c.readWake),
		out:     newPipe(s.opts.sendHWM, c.writeWake, s.sig),
		release: c.release,
	}
	if err := s.attach(c.peer); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := s.submit(func() { c.writeLoop() }); err != nil {
		c.shutdown(err)
		return c, nil
	}
	if err := s.submit(func() { c.readLoop(r) }); err != nil {
		c.shutdown(err)
	}
	return c, nil
}

// release is called by Socket.Close: flush for up to linger, then hang up.
func (c *tcpConn) release(linger time.Duration) {
	c.stopOnce.Do(func() {
		c.linger = linger
		close(c.closing)
	})
}

func (c *tcpConn) readLoop(r *bufio.Reader) {
	for {
		msg, err := readMessage(r)
		if err != nil {
			c.shutdown(err)
			return
		}
		for {
			if err := c.peer.in.push(msg); err == nil {
				break
			}
			select {
			case <-c.readWake:
			case <-c.done:
				return
			}
		}
	}
}

func (c *tcpConn) writeLoop() {
	w := bufio.NewWriter(c.conn)
	for {
		msg, err := c.peer.out.pop()
		if err == nil {
			if err := writeMessage(w, msg); err != nil {
				c.shutdown(err)
				return
			}
			continue
		}
		if w.Buffered() > 0 {
			if err := w.Flush(); err != nil {
				c.shutdown(err)
				return
			}
		}
		select {
		case <-c.writeWake:
		case <-c.closing:
			c.flush(w)
			c.shutdown(nil)
			return
		case <-c.done:
			return
		}
	}
}

// flush writes what is still queued, bounded by the linger period.
func (c *tcpConn) flush(w *bufio.Writer) {
	if c.linger <= 0 {
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.linger))
	for {
		msg, err := c.peer.out.pop()
		if err != nil {
			break
		}
		if err := writeMessage(w, msg); err != nil {
			return
		}
	}
	_ = w.Flush()
}

// shutdown closes the connection once; err is nil for a local close.
func (c *tcpConn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.peer.gone.Store(true)
		_ = c.conn.Close()
		close(c.done)
		c.sock.sig.notify()
		if err != nil && !c.sock.closed.Load() {
			c.sock.opts.metrics.Connection("dropped")
			c.sock.log.Debug("connection dropped", zap.String("peer", c.peer.name), zap.Error(err))
		}
	})
}
