// File: loop/call.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loop

import (
	"context"

	"github.com/momentics/hioload-mq/api"
)

// Call runs fn on the loop goroutine and waits for its return value.
// It must not be called from the loop goroutine itself.
func Call[T any](ctx context.Context, l api.Loop, fn func() T) (T, error) {
	f := api.NewFuture[T]()
	err := l.CallSoon(func() error {
		f.SetResult(fn())
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return f.Await(ctx)
}

// Do runs fn on the loop goroutine and waits for it to finish.
func Do(ctx context.Context, l api.Loop, fn func()) error {
	_, err := Call(ctx, l, func() struct{} {
		fn()
		return struct{}{}
	})
	return err
}
