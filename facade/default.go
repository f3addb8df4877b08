// File: facade/default.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide default loop for callers that do not manage their own.
// Only the facade consults it; adapters always receive their loop explicitly.

package facade

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/adapters"
	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/loop"
)

var (
	defaultOnce sync.Once
	defaultLoop *loop.Loop
	defaultErr  error
)

// DefaultLoop returns the shared loop, creating and starting it on first use.
// It runs until the process exits.
func DefaultLoop() (*loop.Loop, error) {
	defaultOnce.Do(func() {
		defaultLoop, defaultErr = loop.New()
		if defaultErr != nil {
			return
		}
		go func() {
			if err := defaultLoop.Run(context.Background()); err != nil {
				zap.L().Error("default loop stopped", zap.Error(err))
			}
		}()
	})
	return defaultLoop, defaultErr
}

// NewAdapter wraps sock on the default loop.
func NewAdapter(sock api.Socket, opts ...adapters.Option) (*adapters.SocketAdapter, error) {
	l, err := DefaultLoop()
	if err != nil {
		return nil, err
	}
	return adapters.NewSocketAdapter(sock, l, opts...)
}
