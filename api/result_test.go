package api_test

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"code.hybscloud.com/iox"
	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-mq/api"
)

func TestClassify(t *testing.T) {
	hard := errors.New("connection reset")
	cases := []struct {
		name   string
		err    error
		status api.Status
	}{
		{"ok", nil, api.StatusOK},
		{"iox would block", iox.ErrWouldBlock, api.StatusWouldBlock},
		{"wrapped would block", fmt.Errorf("send: %w", iox.ErrWouldBlock), api.StatusWouldBlock},
		{"eagain", syscall.EAGAIN, api.StatusWouldBlock},
		{"eintr", syscall.EINTR, api.StatusWouldBlock},
		{"interrupted", api.ErrInterrupted, api.StatusWouldBlock},
		{"hard", hard, api.StatusError},
		{"closed", api.ErrSocketClosed, api.StatusError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := api.Classify(42, tc.err)
			assert.Equal(t, tc.status, r.Status)
			if tc.status == api.StatusOK {
				assert.Equal(t, 42, r.Value)
				assert.NoError(t, r.Err)
			} else {
				assert.Zero(t, r.Value)
				assert.ErrorIs(t, r.Err, tc.err)
			}
		})
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "ok", api.StatusOK.String())
	assert.Equal(t, "would-block", api.StatusWouldBlock.String())
	assert.Equal(t, "error", api.StatusError.String())
}
