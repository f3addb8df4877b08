// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness reactor interface.

package reactor

// Interest is a set of readiness conditions.
type Interest uint32

const (
	Readable Interest = 1 << iota
	Writable
	Failed
)

// Event contains readiness information returned by Wait.
type Event struct {
	Fd    int
	Ready Interest
}

// EventReactor defines basic reactor operations across OS platforms.
type EventReactor interface {
	// Register adds fd with the given interest (level-triggered).
	Register(fd int, in Interest) error

	// Unregister removes fd.
	Unregister(fd int) error

	// Wait blocks for at most timeoutMs (negative = forever) and writes ready
	// descriptors into events. Wake-ups and signal interruptions return 0.
	Wait(events []Event, timeoutMs int) (n int, err error)

	// Wake interrupts a concurrent or the next Wait. Safe from any goroutine.
	Wake() error

	// Close cleans up resources.
	Close() error
}
