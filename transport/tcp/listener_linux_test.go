//go:build linux

package tcp

import (
	"io"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func acceptWithin(t *testing.T, ln *Listener, d time.Duration) (int, netip.AddrPort) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		fd, peer, err := ln.Accept()
		if err == nil {
			return fd, peer
		}
		require.True(t, IsWouldBlock(err), "accept: %v", err)
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no connection accepted")
	return -1, netip.AddrPort{}
}

func TestListener_AcceptNonBlocking(t *testing.T) {
	ln, err := Listen(ListenerConfig{Addr: netip.MustParseAddr("127.0.0.1")})
	require.NoError(t, err)
	defer ln.Close()
	require.NotZero(t, ln.Port())

	_, _, err = ln.Accept()
	assert.True(t, IsWouldBlock(err))

	c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(ln.Port())))
	require.NoError(t, err)
	defer c.Close()

	fd, peer := acceptWithin(t, ln, time.Second)
	defer unix.Close(fd)
	assert.Equal(t, "127.0.0.1", peer.Addr().String())
	assert.Equal(t, c.LocalAddr().(*net.TCPAddr).Port, int(peer.Port()))

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)
}

func TestReject_SendsBusyAndCloses(t *testing.T) {
	ln, err := Listen(ListenerConfig{Addr: netip.MustParseAddr("127.0.0.1"), Linger: true})
	require.NoError(t, err)
	defer ln.Close()

	c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(ln.Port())))
	require.NoError(t, err)
	defer c.Close()

	fd, _ := acceptWithin(t, ln, time.Second)
	require.NoError(t, Reject(fd))

	require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
	got, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, BusyMessage, string(got))
}

func TestListen_RejectsIPv6(t *testing.T) {
	_, err := Listen(ListenerConfig{Addr: netip.MustParseAddr("::1")})
	assert.Error(t, err)
}
