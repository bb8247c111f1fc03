// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the poll-mode readiness multiplexer behind the event loop: epoll on Linux,
// with independently selectable level/edge triggering and one-shot watches per descriptor.
package reactor
