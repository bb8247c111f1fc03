//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// BusyMessage is written to connections refused at the connection limit.
const BusyMessage = "Internal server busy"

// ListenerConfig holds configuration for the TCP listener.
type ListenerConfig struct {
	Addr    netip.Addr // zero value binds INADDR_ANY
	Port    int        // 0 picks an ephemeral port
	Backlog int        // defaults to SOMAXCONN
	Linger  bool       // SO_LINGER {1, 1} instead of {0, 1}
}

// Listener is a non-blocking listening socket.
type Listener struct {
	fd   int
	port int
}

// Listen opens, configures, binds and listens.
func Listen(cfg ListenerConfig) (*Listener, error) {
	if cfg.Addr.IsValid() && !cfg.Addr.Is4() {
		return nil, fmt.Errorf("tcp listen: %s is not an IPv4 address", cfg.Addr)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("tcp socket: %w", err)
	}
	ln := &Listener{fd: fd}
	if err := ln.setup(cfg); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return ln, nil
}

func (l *Listener) setup(cfg ListenerConfig) error {
	linger := unix.Linger{Onoff: 0, Linger: 1}
	if cfg.Linger {
		linger.Onoff = 1
	}
	if err := unix.SetsockoptLinger(l.fd, unix.SOL_SOCKET, unix.SO_LINGER, &linger); err != nil {
		return fmt.Errorf("tcp SO_LINGER: %w", err)
	}
	if err := unix.SetsockoptInt(l.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("tcp SO_REUSEADDR: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: cfg.Port}
	if cfg.Addr.IsValid() {
		sa.Addr = cfg.Addr.As4()
	}
	if err := unix.Bind(l.fd, sa); err != nil {
		return fmt.Errorf("tcp bind port %d: %w", cfg.Port, err)
	}
	backlog := cfg.Backlog
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(l.fd, backlog); err != nil {
		return fmt.Errorf("tcp listen: %w", err)
	}

	bound, err := unix.Getsockname(l.fd)
	if err != nil {
		return fmt.Errorf("tcp getsockname: %w", err)
	}
	if in4, ok := bound.(*unix.SockaddrInet4); ok {
		l.port = in4.Port
	}
	return nil
}

// Fd returns the listening descriptor for registration with a reactor.
func (l *Listener) Fd() int { return l.fd }

// Port returns the bound port.
func (l *Listener) Port() int { return l.port }

// Accept takes one pending connection. The returned descriptor is non-blocking.
// When nothing is pending the error is unix.EAGAIN; check it with IsWouldBlock.
func (l *Listener) Accept() (int, netip.AddrPort, error) {
	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
			continue
		}
		if err != nil {
			return -1, netip.AddrPort{}, err
		}
		return nfd, peerAddr(sa), nil
	}
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	if l.fd < 0 {
		return nil
	}
	err := unix.Close(l.fd)
	l.fd = -1
	return err
}

// Reject writes BusyMessage to fd without waiting and closes it.
func Reject(fd int) error {
	_, werr := unix.Write(fd, []byte(BusyMessage))
	if errors.Is(werr, unix.EAGAIN) {
		werr = nil
	}
	return errors.Join(werr, unix.Close(fd))
}

// IsWouldBlock reports whether err means the operation found nothing to do.
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func peerAddr(sa unix.Sockaddr) netip.AddrPort {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port))
	}
	return netip.AddrPort{}
}
