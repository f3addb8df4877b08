// File: loop/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package loop implements a cooperative single-goroutine event loop on top of
// the readiness reactor. All handlers (reader callbacks and CallSoon work)
// run on the goroutine that called Run; only CallSoon and Stop may be used
// from other goroutines without extra synchronization.
//
// Each iteration first runs the handlers that were queued before the
// iteration started, then polls the reactor (without blocking if more work
// was queued meanwhile) and dispatches ready descriptors. A handler that
// returns an error stops the loop and the error is returned from Run.
package loop
