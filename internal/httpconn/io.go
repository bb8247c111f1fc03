// File: internal/httpconn/io.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket I/O against the connection buffers. Both calls are non-blocking and
// report false when the connection must be evicted.

package httpconn

import (
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-httpd/api"
)

// grow doubles the read buffer up to MaxRequestSize.
func (c *Conn) grow() bool {
	if len(c.readBuf) >= c.opts.MaxRequestSize {
		return false
	}
	n := min(2*len(c.readBuf), c.opts.MaxRequestSize)
	buf := make([]byte, n)
	copy(buf, c.readBuf[:c.readIdx])
	c.readBuf = buf
	return true
}

// ReadOnce reads what the socket has. Level-triggered connections read once per
// readiness event; edge-triggered ones read until the socket would block.
// An orderly shutdown by the peer is a failure. A buffer full at its size limit
// is not: the parser rejects an incomplete request of that size.
func (c *Conn) ReadOnce() bool {
	for {
		if c.readIdx >= len(c.readBuf) && !c.grow() {
			return true
		}
		n, err := unix.Read(c.fd, c.readBuf[c.readIdx:])
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return true
		case err != nil:
			c.opts.Logger.Debug("read failed", zap.Int("fd", c.fd), zap.Error(err))
			return false
		case n == 0:
			return false
		}
		c.readIdx += n
		if !c.opts.EdgeTriggered {
			return true
		}
	}
}

// Write sends the pending response with writev. On would-block it re-arms for
// write and returns true. Once everything is sent the mapping is released; a
// keep-alive connection is reset and re-armed for read, any other reports false.
func (c *Conn) Write() bool {
	if c.bytesToSend == 0 {
		c.Reset()
		c.arm(api.EventRead)
		return true
	}
	for {
		n, err := unix.Writev(c.fd, c.iov[:c.iovCount])
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			c.arm(api.EventWrite)
			return true
		case err != nil:
			c.opts.Logger.Debug("write failed", zap.Int("fd", c.fd), zap.Error(err))
			c.unmap()
			return false
		}

		c.bytesHaveSent += n
		c.bytesToSend -= n
		if c.bytesToSend <= 0 {
			c.unmap()
			if !c.KeepAlive {
				return false
			}
			c.Reset()
			c.arm(api.EventRead)
			return true
		}
		c.advance()
	}
}

// advance trims the iovecs past the bytes already sent.
func (c *Conn) advance() {
	if c.bytesHaveSent >= c.writeIdx {
		c.iov[0] = c.writeBuf[:0]
		if c.iovCount == 2 {
			c.iov[1] = c.file[c.bytesHaveSent-c.writeIdx:]
		}
		return
	}
	c.iov[0] = c.writeBuf[c.bytesHaveSent:c.writeIdx]
}
