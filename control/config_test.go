package control_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/control"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := control.Load("")
	require.NoError(t, err)
	assert.Equal(t, control.DefaultConfig(), cfg)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeFile(t, "mq.yaml", `
loop:
  batchSize: 32
socket:
  sendHWM: 10
  recvHWM: 20
  linger: 250ms
adapter:
  maxPendingSends: 5
logging:
  level: debug
  format: console
`)
	cfg, err := control.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Loop.BatchSize)
	assert.Equal(t, 10, cfg.Socket.SendHWM)
	assert.Equal(t, 20, cfg.Socket.RecvHWM)
	assert.Equal(t, 250*time.Millisecond, cfg.Socket.Linger)
	assert.Equal(t, 5, cfg.Adapter.MaxPendingSends)
	assert.Equal(t, 0, cfg.Adapter.MaxPendingRecvs)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HMQ_SOCKET_SENDHWM", "7")
	t.Setenv("HMQ_ADAPTER_MAXPENDINGRECVS", "3")
	path := writeFile(t, "mq.yaml", "socket:\n  sendHWM: 100\n")
	cfg, err := control.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Socket.SendHWM)
	assert.Equal(t, 3, cfg.Adapter.MaxPendingRecvs)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeFile(t, "mq.yaml", "loop:\n  batchSize: 0\n")
	_, err := control.Load(path)
	assert.Error(t, err)

	path = writeFile(t, "bad.yaml", "adapter:\n  maxPendingSends: -1\n")
	_, err = control.Load(path)
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeFile(t, "mq.yaml", "loop: [unterminated\n")
	_, err := control.Load(path)
	assert.Error(t, err)
}

func TestWatchReturnsCurrentSnapshot(t *testing.T) {
	path := writeFile(t, "mq.yaml", "socket:\n  recvHWM: 64\n")
	w, err := control.Watch(path)
	require.NoError(t, err)
	assert.Equal(t, 64, w.Current().Socket.RecvHWM)

	_, err = control.Watch("")
	assert.Error(t, err)
}
