// File: loop/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loop multiplexes readiness handlers and call-soon work on one goroutine.
// The ingress queue is goroutine-safe; everything else is owned by Run.

package loop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Workiva/go-datastructures/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/reactor"
)

const (
	stateIdle int32 = iota
	stateRunning
	stateClosed
)

// Loop implements api.Loop.
type Loop struct {
	reactor   reactor.EventReactor
	ingress   *queue.Queue // api.Handler items, FIFO
	readersMu sync.RWMutex
	readers   map[int]api.Handler
	events    []reactor.Event
	log       *zap.Logger

	state     atomic.Int32
	sleeping  atomic.Bool // Run is about to block in the reactor
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
}

var _ api.Loop = (*Loop)(nil)

// Option configures a Loop.
type Option func(*Loop)

// WithBatchSize sets how many ready descriptors one poll may report.
func WithBatchSize(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.events = make([]reactor.Event, n)
		}
	}
}

// WithLogger sets the loop logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// New creates a Loop backed by the platform reactor.
func New(opts ...Option) (*Loop, error) {
	r, err := reactor.NewReactor()
	if err != nil {
		return nil, fmt.Errorf("loop: %w", err)
	}
	return newLoop(r, opts...), nil
}

func newLoop(r reactor.EventReactor, opts ...Option) *Loop {
	l := &Loop{
		reactor: r,
		ingress: queue.New(64),
		readers: make(map[int]api.Handler),
		events:  make([]reactor.Event, 128),
		log:     zap.NewNop(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CallSoon queues h for the next loop iteration.
func (l *Loop) CallSoon(h api.Handler) error {
	if h == nil {
		return api.ErrInvalidArgument
	}
	if l.state.Load() == stateClosed {
		return api.ErrLoopClosed
	}
	if err := l.ingress.Put(h); err != nil {
		return api.ErrLoopClosed
	}
	if l.sleeping.CompareAndSwap(true, false) {
		return l.reactor.Wake()
	}
	return nil
}

// AddReader registers h for read readiness on fd.
func (l *Loop) AddReader(fd int, h api.Handler) error {
	if h == nil {
		return api.ErrInvalidArgument
	}
	l.readersMu.Lock()
	defer l.readersMu.Unlock()
	if l.state.Load() == stateClosed {
		return api.ErrLoopClosed
	}
	if _, ok := l.readers[fd]; ok {
		return api.NewError(api.ErrCodeAlreadyExists, "reader already registered").WithContext("fd", fd)
	}
	if err := l.reactor.Register(fd, reactor.Readable); err != nil {
		return err
	}
	l.readers[fd] = h
	l.log.Debug("reader added", zap.Int("fd", fd))
	return nil
}

// RemoveReader drops the handler registered for fd.
func (l *Loop) RemoveReader(fd int) error {
	l.readersMu.Lock()
	defer l.readersMu.Unlock()
	if _, ok := l.readers[fd]; !ok {
		return api.NewError(api.ErrCodeNotFound, "no reader registered").WithContext("fd", fd)
	}
	delete(l.readers, fd)
	l.log.Debug("reader removed", zap.Int("fd", fd))
	if l.state.Load() == stateClosed {
		return nil
	}
	return l.reactor.Unregister(fd)
}

// Run drives the loop on the calling goroutine until Stop is called, ctx is
// done, or a handler fails. The loop cannot be restarted.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(stateIdle, stateRunning) {
		if l.state.Load() == stateClosed {
			return api.ErrLoopClosed
		}
		return api.ErrLoopRunning
	}
	stop := context.AfterFunc(ctx, l.Stop)
	defer stop()
	defer l.terminate()

	for {
		select {
		case <-l.stopCh:
			return nil
		default:
		}
		if err := l.runReady(); err != nil {
			l.log.Error("handler failed, stopping loop", zap.Error(err))
			return err
		}

		timeout := 0
		l.sleeping.Store(true)
		if l.ingress.Len() == 0 {
			timeout = -1
		}
		n, err := l.reactor.Wait(l.events, timeout)
		l.sleeping.Store(false)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := l.dispatch(l.events[i]); err != nil {
				l.log.Error("reader failed, stopping loop", zap.Int("fd", l.events[i].Fd), zap.Error(err))
				return err
			}
		}
	}
}

// runReady runs the handlers queued before this iteration started; work
// queued by those handlers waits for the next iteration.
func (l *Loop) runReady() error {
	n := l.ingress.Len()
	if n == 0 {
		return nil
	}
	items, err := l.ingress.Get(n)
	if err != nil {
		return nil // disposed concurrently by Stop
	}
	for _, it := range items {
		if err := it.(api.Handler)(); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) dispatch(ev reactor.Event) error {
	l.readersMu.RLock()
	h, ok := l.readers[ev.Fd]
	l.readersMu.RUnlock()
	if !ok {
		return nil
	}
	return h()
}

// Stop asks Run to return after the current handler. It does not wait;
// use Done for that. Stopping a loop that never ran closes it.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		if l.state.CompareAndSwap(stateIdle, stateClosed) {
			l.terminate()
			return
		}
		_ = l.reactor.Wake()
	})
}

func (l *Loop) terminate() {
	l.closeOnce.Do(func() {
		l.state.Store(stateClosed)
		if dropped := l.ingress.Dispose(); len(dropped) > 0 {
			l.log.Debug("dropping queued handlers", zap.Int("count", len(dropped)))
		}
		_ = l.reactor.Close()
		close(l.doneCh)
	})
}

// Done is closed once the loop has terminated.
func (l *Loop) Done() <-chan struct{} { return l.doneCh }

// Running reports whether Run is active.
func (l *Loop) Running() bool { return l.state.Load() == stateRunning }

// Pending returns the number of queued call-soon handlers.
func (l *Loop) Pending() int { return int(l.ingress.Len()) }

// Readers returns the number of registered reader descriptors.
func (l *Loop) Readers() int {
	l.readersMu.RLock()
	defer l.readersMu.RUnlock()
	return len(l.readers)
}
