//go:build !linux
// +build !linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"net/netip"

	"github.com/momentics/hioload-httpd/api"
)

const BusyMessage = "Internal server busy"

type ListenerConfig struct {
	Addr    netip.Addr
	Port    int
	Backlog int
	Linger  bool
}

type Listener struct{}

func Listen(ListenerConfig) (*Listener, error) { return nil, api.ErrNotSupported }

func (l *Listener) Fd() int   { return -1 }
func (l *Listener) Port() int { return 0 }

func (l *Listener) Accept() (int, netip.AddrPort, error) {
	return -1, netip.AddrPort{}, api.ErrNotSupported
}

func (l *Listener) Close() error { return nil }

func Reject(int) error { return api.ErrNotSupported }

func IsWouldBlock(error) bool { return false }
