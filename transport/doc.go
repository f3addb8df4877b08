// Package transport
// Author: momentics <momentics@gmail.com>
//
// Message sockets with ZeroMQ-like semantics: multipart messages, per-peer
// bounded pipes, round-robin sends, fair-queued receives and a readiness
// descriptor that signals state changes only (edge style).
//
// Supported endpoints:
//   - inproc://name  in-process peers, delivered through lock-free pipes
//   - tcp://host:port  length-prefixed framing over TCP with automatic
//     reconnect for connecting sockets
//
// A Socket is owned by one goroutine at a time; background pumps only touch
// the pipes and the readiness descriptor.
package transport
