// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "context"

// GracefulShutdown is implemented by components that own a loop or sockets
// and must release them in order.
type GracefulShutdown interface {
	// Shutdown closes owned sockets, stops the loop and waits for it
	// until ctx expires.
	Shutdown(ctx context.Context) error
}
