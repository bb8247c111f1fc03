// File: internal/httpconn/parser.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Incremental request parser. Every call resumes from the cursors kept in Conn,
// so a request split across any number of reads parses exactly like one read.

package httpconn

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/credentials"
)

// LineStatus is the result of scanning for a CRLF terminated line.
type LineStatus int

const (
	LineOK LineStatus = iota
	LineBad
	LineOpen
)

// ParseLine advances the scan cursor to the end of the next complete line.
// A lone CR followed by anything but LF, or a bare LF, is LineBad.
func (c *Conn) ParseLine() LineStatus {
	for ; c.checkedIdx < c.readIdx; c.checkedIdx++ {
		switch c.readBuf[c.checkedIdx] {
		case '\r':
			if c.checkedIdx+1 == c.readIdx {
				return LineOpen
			}
			if c.readBuf[c.checkedIdx+1] != '\n' {
				return LineBad
			}
			c.lineEnd = c.checkedIdx
			c.checkedIdx += 2
			return LineOK
		case '\n':
			return LineBad
		}
	}
	return LineOpen
}

// ProcessRead consumes buffered bytes. It returns NoRequest while the request is
// incomplete, BadRequest on a protocol error and GetRequest once the request
// line, headers and body are all buffered.
func (c *Conn) ProcessRead() HTTPCode {
	for {
		if c.state == StateContent {
			return c.parseContent()
		}
		switch c.ParseLine() {
		case LineBad:
			return BadRequest
		case LineOpen:
			if c.readIdx >= c.opts.MaxRequestSize {
				return BadRequest
			}
			return NoRequest
		}

		line := c.readBuf[c.startLine:c.lineEnd]
		c.startLine = c.checkedIdx

		switch c.state {
		case StateRequestLine:
			if code := c.parseRequestLine(line); code != NoRequest {
				return code
			}
		case StateHeaders:
			if code := c.parseHeader(line); code != NoRequest {
				return code
			}
		}
	}
}

func isBlank(r rune) bool { return r == ' ' || r == '\t' }

func (c *Conn) parseRequestLine(line []byte) HTTPCode {
	fields := bytes.FieldsFunc(line, isBlank)
	if len(fields) != 3 {
		return BadRequest
	}
	method, target, version := string(fields[0]), string(fields[1]), string(fields[2])

	switch {
	case strings.EqualFold(method, "GET"):
		c.Method = MethodGet
	case strings.EqualFold(method, "POST"):
		c.Method = MethodPost
	default:
		return BadRequest
	}

	switch {
	case strings.EqualFold(version, "HTTP/1.1"):
		c.Version, c.KeepAlive = "HTTP/1.1", true
	case strings.EqualFold(version, "HTTP/1.0"):
		c.Version, c.KeepAlive = "HTTP/1.0", false
	default:
		return BadRequest
	}

	for _, scheme := range []string{"http://", "https://"} {
		if len(target) >= len(scheme) && strings.EqualFold(target[:len(scheme)], scheme) {
			rest := target[len(scheme):]
			i := strings.IndexByte(rest, '/')
			if i < 0 {
				return BadRequest
			}
			target = rest[i:]
			break
		}
	}
	if target == "" || target[0] != '/' {
		return BadRequest
	}
	if target == "/" {
		target = c.opts.IndexPage
	}
	c.URL = target
	c.state = StateHeaders
	return NoRequest
}

func (c *Conn) parseHeader(line []byte) HTTPCode {
	if len(line) == 0 {
		if c.Method == MethodPost && c.ContentLength > 0 {
			if c.startLine+c.ContentLength > c.opts.MaxRequestSize {
				return BadRequest
			}
			c.state = StateContent
			return c.parseContent()
		}
		return GetRequest
	}

	name, value, ok := bytes.Cut(line, []byte{':'})
	if !ok {
		c.opts.Logger.Debug("malformed header ignored", zap.ByteString("line", line))
		return NoRequest
	}
	v := strings.TrimFunc(string(value), isBlank)

	switch {
	case bytes.EqualFold(name, []byte("Connection")):
		for _, tok := range strings.Split(v, ",") {
			switch strings.ToLower(strings.TrimFunc(tok, isBlank)) {
			case "keep-alive":
				c.KeepAlive = true
			case "close":
				c.KeepAlive = false
			}
		}
	case bytes.EqualFold(name, []byte("Content-Length")):
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return BadRequest
		}
		c.ContentLength = n
	case bytes.EqualFold(name, []byte("Host")):
		c.Host = v
	default:
		c.opts.Logger.Debug("unknown header", zap.ByteString("name", name))
	}
	return NoRequest
}

// parseContent waits until the whole body is buffered. The body starts at the
// scan cursor, right after the blank line.
func (c *Conn) parseContent() HTTPCode {
	if c.readIdx-c.checkedIdx < c.ContentLength {
		return NoRequest
	}
	c.body = c.readBuf[c.checkedIdx : c.checkedIdx+c.ContentLength]
	return GetRequest
}

// Process runs one parse and response step with a leased credential handle and
// returns the interest to re-arm. ok is false when no response could be built.
func (c *Conn) Process(ctx context.Context, h credentials.Handle) (next api.EventMask, ok bool) {
	code := c.ProcessRead()
	switch code {
	case NoRequest:
		return api.EventRead, true
	case GetRequest:
		code = c.DoRequest(ctx, h)
	}
	if !c.ProcessWrite(code) {
		return 0, false
	}
	return api.EventWrite, true
}
