//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation.

package reactor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/momentics/hioload-httpd/api"
	"golang.org/x/sys/unix"
)

// linuxReactor is an epoll-based event reactor.
type linuxReactor struct {
	epfd int

	mu  sync.Mutex // guards raw, Wait is single-consumer
	raw []unix.EpollEvent
}

func newReactor() (api.Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &linuxReactor{epfd: epfd}, nil
}

// epollBits translates an interest set to epoll flags.
func epollBits(mask api.EventMask, opts api.WatchOptions) uint32 {
	var ev uint32
	if mask&api.EventRead != 0 {
		ev |= unix.EPOLLIN
	}
	if mask&api.EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	if mask&api.EventHangup != 0 {
		ev |= unix.EPOLLRDHUP
	}
	if opts.EdgeTriggered {
		ev |= unix.EPOLLET
	}
	if opts.OneShot {
		ev |= unix.EPOLLONESHOT
	}
	return ev
}

// Add registers fd with the epoll instance.
func (r *linuxReactor) Add(fd int, mask api.EventMask, opts api.WatchOptions) error {
	ev := unix.EpollEvent{Events: epollBits(mask, opts), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add fd %d: %w", fd, err)
	}
	return nil
}

// Modify changes the interest set of fd. Safe to call from worker goroutines.
func (r *linuxReactor) Modify(fd int, mask api.EventMask, opts api.WatchOptions) error {
	ev := unix.EpollEvent{Events: epollBits(mask, opts), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod fd %d: %w", fd, err)
	}
	return nil
}

// Delete removes fd from the watch list.
func (r *linuxReactor) Delete(fd int) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Wait blocks for readiness and translates raw epoll events.
// An interrupted wait reports zero events and no error.
func (r *linuxReactor) Wait(events []api.Event, timeoutMs int) (int, error) {
	if len(events) == 0 {
		return 0, api.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cap(r.raw) < len(events) {
		r.raw = make([]unix.EpollEvent, len(events))
	}
	raw := r.raw[:len(events)]

	n, err := unix.EpollWait(r.epfd, raw, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		var mask api.EventMask
		bits := raw[i].Events
		if bits&unix.EPOLLIN != 0 {
			mask |= api.EventRead
		}
		if bits&unix.EPOLLOUT != 0 {
			mask |= api.EventWrite
		}
		if bits&(unix.EPOLLRDHUP|unix.EPOLLHUP) != 0 {
			mask |= api.EventHangup
		}
		if bits&unix.EPOLLERR != 0 {
			mask |= api.EventError
		}
		events[i] = api.Event{Fd: int(raw[i].Fd), Mask: mask}
	}
	return n, nil
}

// Close closes the epoll instance.
func (r *linuxReactor) Close() error {
	return unix.Close(r.epfd)
}
