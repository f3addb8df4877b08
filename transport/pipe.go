// File: transport/pipe.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded single-producer/single-consumer message pipe between a socket and
// one peer.

package transport

import (
	"sync/atomic"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// notifier is told about a pipe state change on the other side.
type notifier interface {
	notify()
}

// wake is a notifier for pump goroutines; it coalesces pending wake-ups.
type wake chan struct{}

func newWake() wake { return make(wake, 1) }

func (w wake) notify() {
	select {
	case w <- struct{}{}:
	default:
	}
}

type pipe struct {
	q        lfq.SPSC[[][]byte]
	hwm      int64
	depth    atomic.Int64
	consumer notifier // told on push
	producer notifier // told on pop
}

func newPipe(hwm int, consumer, producer notifier) *pipe {
	p := &pipe{hwm: int64(hwm), consumer: consumer, producer: producer}
	p.q.Init(roundPow2(hwm))
	return p
}

// push is non-blocking: iox.ErrWouldBlock once hwm messages are queued.
func (p *pipe) push(msg [][]byte) error {
	if p.depth.Load() >= p.hwm {
		return iox.ErrWouldBlock
	}
	if err := p.q.Enqueue(&msg); err != nil {
		return err
	}
	p.depth.Add(1)
	p.consumer.notify()
	return nil
}

// pop is non-blocking: iox.ErrWouldBlock when empty.
func (p *pipe) pop() ([][]byte, error) {
	msg, err := p.q.Dequeue()
	if err != nil {
		return nil, err
	}
	p.depth.Add(-1)
	p.producer.notify()
	return msg, nil
}

func (p *pipe) readable() bool { return p.depth.Load() > 0 }
func (p *pipe) writable() bool { return p.depth.Load() < p.hwm }

func roundPow2(n int) int {
	c := 1
	for c < n {
		c <<= 1
	}
	return c
}
