// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the poll-mode readiness reactor used by the event loop: epoll on Linux, with a wake descriptor so other goroutines can interrupt a blocking Wait.
package reactor
