package control_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
)

func TestMetricsRecord(t *testing.T) {
	reg := control.NewRegistry()
	m := control.NewMetrics(reg)

	m.Wakeup()
	m.Wakeup()
	m.Reschedule()
	m.SendAttempt(api.StatusOK)
	m.SendAttempt(api.StatusWouldBlock)
	m.RecvAttempt(api.StatusError)
	m.Callback()
	m.AddPending(3, 1)
	m.AddPending(-1, 0)
	m.Connection("accepted")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Wakeups))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reschedules))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sends.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sends.WithLabelValues("would-block")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Receives.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Callbacks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PendingSends))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PendingRecvs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections.WithLabelValues("accepted")))

	rec := httptest.NewRecorder()
	control.Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hmq_adapter_wakeups_total 2")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *control.Metrics
	assert.NotPanics(t, func() {
		m.Wakeup()
		m.Reschedule()
		m.SendAttempt(api.StatusOK)
		m.RecvAttempt(api.StatusOK)
		m.Callback()
		m.AddPending(1, 1)
		m.Connection("dialed")
	})
}

func TestDebugProbes(t *testing.T) {
	dp := control.NewDebugProbes()
	control.RegisterPlatformProbes(dp)
	dp.RegisterProbe("answer", func() any { return 42 })

	state := dp.DumpState()
	assert.Equal(t, 42, state["answer"])
	assert.Contains(t, state, "platform.cpus")

	dp.UnregisterProbe("answer")
	assert.NotContains(t, dp.DumpState(), "answer")
}
