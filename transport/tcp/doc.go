// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp owns the raw listening socket of the server: a non-blocking IPv4
// socket with SO_REUSEADDR and an optional SO_LINGER, and accept4(2) wrappers
// that hand out non-blocking connection descriptors.
package tcp
