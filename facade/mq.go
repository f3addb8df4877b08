// File: facade/mq.go
// Unified facade layer for hioload-mq.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// MQ aggregates the host loop, logger, metrics, health checks and debug
// probes behind a single value built from control.Config. Sockets created
// and wrapped through it share the loop and are closed on Shutdown.

package facade

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/adapters"
	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/loop"
	"github.com/momentics/hioload-mq/transport"
)

// maxGoroutines is the liveness threshold reported by the health handler.
const maxGoroutines = 10000

var _ api.GracefulShutdown = (*MQ)(nil)

// MQ is the main facade type.
type MQ struct {
	cfg      *control.Config
	log      *zap.Logger
	level    zap.AtomicLevel
	registry *prometheus.Registry
	metrics  *control.Metrics
	probes   *control.DebugProbes
	health   healthcheck.Handler
	loop     *loop.Loop

	mu       sync.Mutex
	started  bool
	stopped  bool
	runErr   error
	done     chan struct{}
	adapters map[string]*adapters.SocketAdapter
	watcher  *control.Watcher
}

// New builds an MQ from cfg; nil means control.DefaultConfig().
func New(cfg *control.Config) (*MQ, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, level, err := control.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	m := &MQ{
		cfg:      cfg,
		log:      log,
		level:    level,
		probes:   control.NewDebugProbes(),
		health:   healthcheck.NewHandler(),
		done:     make(chan struct{}),
		adapters: make(map[string]*adapters.SocketAdapter),
	}
	if cfg.Metrics.Enable {
		m.registry = control.NewRegistry()
		m.metrics = control.NewMetrics(m.registry)
	}

	m.loop, err = loop.New(loop.WithBatchSize(cfg.Loop.BatchSize), loop.WithLogger(log.Named("loop")))
	if err != nil {
		return nil, fmt.Errorf("loop init failure: %w", err)
	}

	m.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	m.health.AddLivenessCheck("loop", m.loopAlive)
	m.health.AddReadinessCheck("loop-running", func() error {
		if !m.loop.Running() {
			return errors.New("loop is not running")
		}
		return nil
	})

	control.RegisterPlatformProbes(m.probes)
	m.probes.RegisterProbe("loop.pending", func() any { return m.loop.Pending() })
	m.probes.RegisterProbe("loop.readers", func() any { return m.loop.Readers() })
	m.probes.RegisterProbe("loop.running", func() any { return m.loop.Running() })
	m.probes.RegisterProbe("adapters", func() any { return m.adapterStats() })
	return m, nil
}

// Start runs the loop on its own goroutine. Subsequent calls have no effect.
func (m *MQ) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return api.ErrLoopClosed
	}
	if m.started {
		return nil
	}
	m.started = true
	go func() {
		err := m.loop.Run(context.Background())
		if err != nil {
			m.log.Error("loop stopped", zap.Error(err))
		}
		m.mu.Lock()
		m.runErr = err
		m.mu.Unlock()
		close(m.done)
	}()
	m.log.Info("started", zap.Int("batchSize", m.cfg.Loop.BatchSize), zap.Int("sendHWM", m.cfg.Socket.SendHWM))
	return nil
}

// Shutdown closes every wrapped adapter, then stops the loop. It returns
// the error that ended the loop, if any, or ctx's error on timeout.
func (m *MQ) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return m.Err()
	}
	m.stopped = true
	started := m.started
	list := make([]*adapters.SocketAdapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		list = append(list, a)
	}
	m.mu.Unlock()

	if !started {
		// adapters tear down inline once the loop is closed
		m.loop.Stop()
		<-m.loop.Done()
		close(m.done)
	}
	for _, a := range list {
		if _, err := a.Close(api.DefaultLinger).Await(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Warn("adapter close", zap.String("adapter", a.ID()), zap.Error(err))
		}
	}
	m.loop.Stop()
	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	_ = m.log.Sync()
	return m.Err()
}

// Done is closed once the loop has stopped.
func (m *MQ) Done() <-chan struct{} { return m.done }

// Err returns the error that stopped the loop, e.g. a failing receive callback.
func (m *MQ) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runErr
}

// NewSocket creates a transport socket with the configured HWM and linger.
func (m *MQ) NewSocket(opts ...transport.Option) (*transport.Socket, error) {
	cfg := m.Config()
	base := []transport.Option{
		transport.WithSendHWM(cfg.Socket.SendHWM),
		transport.WithRecvHWM(cfg.Socket.RecvHWM),
		transport.WithLinger(cfg.Socket.Linger),
		transport.WithLogger(m.log.Named("transport")),
		transport.WithMetrics(m.metrics),
	}
	return transport.NewSocket(append(base, opts...)...)
}

// Wrap binds sock to the MQ loop with the configured queue limits.
func (m *MQ) Wrap(sock api.Socket, opts ...adapters.Option) (*adapters.SocketAdapter, error) {
	cfg := m.Config()
	base := []adapters.Option{
		adapters.WithLogger(m.log.Named("adapter")),
		adapters.WithMetrics(m.metrics),
		adapters.WithMaxPendingSends(cfg.Adapter.MaxPendingSends),
		adapters.WithMaxPendingRecvs(cfg.Adapter.MaxPendingRecvs),
	}
	a, err := adapters.NewSocketAdapter(sock, m.loop, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, api.ErrLoopClosed
	}
	m.adapters[a.ID()] = a
	return a, nil
}

// Forget stops tracking an adapter closed by the caller.
func (m *MQ) Forget(a *adapters.SocketAdapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.adapters, a.ID())
}

// Loop returns the shared loop.
func (m *MQ) Loop() *loop.Loop { return m.loop }

// Logger returns the facade logger.
func (m *MQ) Logger() *zap.Logger { return m.log }

// Metrics returns the collectors, nil when metrics are disabled.
func (m *MQ) Metrics() *control.Metrics { return m.metrics }

// Config returns the current configuration snapshot.
func (m *MQ) Config() *control.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// MetricsHandler serves the Prometheus registry.
func (m *MQ) MetricsHandler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return control.Handler(m.registry)
}

// HealthHandler serves /live and /ready.
func (m *MQ) HealthHandler() http.Handler { return m.health }

// DumpState returns the output of all debug probes.
func (m *MQ) DumpState() map[string]any { return m.probes.DumpState() }

// Watch follows a config file and applies the log level on change. Other
// settings only affect sockets and adapters created afterwards.
func (m *MQ) Watch(path string) error {
	w, err := control.Watch(path)
	if err != nil {
		return err
	}
	w.OnReload(m.apply)
	w.OnError(func(err error) { m.log.Warn("config reload rejected", zap.Error(err)) })
	m.mu.Lock()
	m.watcher = w
	m.mu.Unlock()
	m.apply(w.Current())
	return nil
}

func (m *MQ) apply(cfg *control.Config) {
	m.level.SetLevel(control.ParseLevel(cfg.Logging.Level))
	m.mu.Lock()
	next := *cfg
	m.cfg = &next
	m.mu.Unlock()
	m.log.Info("config applied", zap.String("level", cfg.Logging.Level))
}

func (m *MQ) loopAlive() error {
	select {
	case <-m.loop.Done():
		if err := m.Err(); err != nil {
			return fmt.Errorf("loop stopped: %w", err)
		}
		return errors.New("loop stopped")
	default:
		return nil
	}
}

func (m *MQ) adapterStats() map[string]adapters.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]adapters.Stats, len(m.adapters))
	for id, a := range m.adapters {
		out[id] = a.Stats()
	}
	return out
}
