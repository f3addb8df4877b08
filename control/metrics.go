// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for adapter wake-ups, send/receive outcomes, queue
// depths and transport connections. A nil *Metrics records nothing.

package control

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/momentics/hioload-mq/api"
)

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler exposes reg over HTTP.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics groups the collectors shared by all adapters and sockets.
type Metrics struct {
	Wakeups      prometheus.Counter
	Reschedules  prometheus.Counter
	Sends        *prometheus.CounterVec // labels: result=ok|would-block|error
	Receives     *prometheus.CounterVec // labels: result=ok|would-block|error
	Callbacks    prometheus.Counter
	PendingSends prometheus.Gauge
	PendingRecvs prometheus.Gauge
	Connections  *prometheus.CounterVec // labels: event=accepted|dialed|dropped
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Wakeups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hmq_adapter_wakeups_total",
			Help: "Adapter wakeup handler invocations.",
		}),
		Reschedules: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hmq_adapter_reschedules_total",
			Help: "Wakeups the adapter scheduled for itself.",
		}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hmq_adapter_send_attempts_total",
			Help: "Non-blocking send attempts by result.",
		}, []string{"result"}),
		Receives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hmq_adapter_recv_attempts_total",
			Help: "Non-blocking receive attempts by result.",
		}, []string{"result"}),
		Callbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hmq_adapter_callback_deliveries_total",
			Help: "Messages handed to receive callbacks.",
		}),
		PendingSends: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hmq_adapter_pending_sends",
			Help: "Queued outbound messages across adapters.",
		}),
		PendingRecvs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hmq_adapter_pending_recvs",
			Help: "Queued receive futures across adapters.",
		}),
		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hmq_transport_connections_total",
			Help: "TCP connection events.",
		}, []string{"event"}),
	}
	reg.MustRegister(m.Wakeups, m.Reschedules, m.Sends, m.Receives, m.Callbacks,
		m.PendingSends, m.PendingRecvs, m.Connections)
	return m
}

func (m *Metrics) Wakeup() {
	if m != nil {
		m.Wakeups.Inc()
	}
}

func (m *Metrics) Reschedule() {
	if m != nil {
		m.Reschedules.Inc()
	}
}

// SendAttempt records one send outcome.
func (m *Metrics) SendAttempt(s api.Status) {
	if m != nil {
		m.Sends.WithLabelValues(s.String()).Inc()
	}
}

// RecvAttempt records one receive outcome.
func (m *Metrics) RecvAttempt(s api.Status) {
	if m != nil {
		m.Receives.WithLabelValues(s.String()).Inc()
	}
}

func (m *Metrics) Callback() {
	if m != nil {
		m.Callbacks.Inc()
	}
}

// AddPending moves the queue depth gauges by the given deltas.
func (m *Metrics) AddPending(sends, recvs int) {
	if m == nil {
		return
	}
	if sends != 0 {
		m.PendingSends.Add(float64(sends))
	}
	if recvs != 0 {
		m.PendingRecvs.Add(float64(recvs))
	}
}

// Connection records a transport connection event.
func (m *Metrics) Connection(event string) {
	if m != nil {
		m.Connections.WithLabelValues(event).Inc()
	}
}
