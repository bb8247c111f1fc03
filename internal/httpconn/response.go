// File: internal/httpconn/response.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package httpconn

import (
	"fmt"
	"mime"
	"path/filepath"
)

const (
	ok200Title    = "OK"
	error400Title = "Bad Request"
	error400Form  = "Your request has bad syntax or is inherently impossible to staisfy.\n"
	error403Title = "Forbidden"
	error403Form  = "You do not have permission to get file form this server.\n"
	error404Title = "Not Found"
	error404Form  = "The requested file was not found on this server.\n"
	error500Title = "Internal Error"
	error500Form  = "There was an unusual problem serving the request file.\n"

	defaultContentType = "text/html"
)

// StatusOf maps a final HTTPCode to its status code.
func StatusOf(code HTTPCode) int {
	switch code {
	case GetRequest, FileRequest:
		return 200
	case BadRequest:
		return 400
	case ForbiddenRequest:
		return 403
	case NoResource:
		return 404
	default:
		return 500
	}
}

// ProcessWrite assembles the response for code. Generated bodies are copied
// into the write buffer; a mapped file is queued as a second iovec so its bytes
// never pass through user space. It returns false when the headers do not fit.
func (c *Conn) ProcessWrite(code HTTPCode) bool {
	c.writeIdx = 0
	var ok bool
	switch code {
	case FileRequest:
		ok = c.fileResponse()
	case BadRequest:
		c.KeepAlive = false
		ok = c.errorResponse(400, error400Title, error400Form)
	case ForbiddenRequest:
		ok = c.errorResponse(403, error403Title, error403Form)
	case NoResource:
		ok = c.errorResponse(404, error404Title, error404Form)
	default:
		c.KeepAlive = false
		ok = c.errorResponse(500, error500Title, error500Form)
	}
	if !ok {
		return false
	}
	if c.opts.OnResponse != nil {
		c.opts.OnResponse(StatusOf(code))
	}
	if c.iovCount == 0 {
		c.iov[0] = c.writeBuf[:c.writeIdx]
		c.iovCount = 1
		c.bytesToSend = c.writeIdx
	}
	c.bytesHaveSent = 0
	return true
}

func (c *Conn) fileResponse() bool {
	if !c.addStatusLine(200, ok200Title) || !c.addHeaders(int(c.fileSize), contentType(c.realFile)) {
		return false
	}
	if c.fileSize == 0 {
		c.iovCount = 0
		return true
	}
	c.iov[0] = c.writeBuf[:c.writeIdx]
	c.iov[1] = c.file
	c.iovCount = 2
	c.bytesToSend = c.writeIdx + int(c.fileSize)
	return true
}

func (c *Conn) errorResponse(status int, title, form string) bool {
	c.unmap()
	c.iovCount = 0
	return c.addStatusLine(status, title) &&
		c.addHeaders(len(form), defaultContentType) &&
		c.addContent(form)
}

func (c *Conn) addResponse(format string, args ...any) bool {
	if c.writeIdx >= WriteBufferSize {
		return false
	}
	s := fmt.Sprintf(format, args...)
	if len(s) > WriteBufferSize-1-c.writeIdx {
		return false
	}
	c.writeIdx += copy(c.writeBuf[c.writeIdx:], s)
	return true
}

func (c *Conn) addStatusLine(status int, title string) bool {
	return c.addResponse("%s %d %s\r\n", "HTTP/1.1", status, title)
}

func (c *Conn) addHeaders(contentLength int, contentType string) bool {
	conn := "close"
	if c.KeepAlive {
		conn = "keep-alive"
	}
	return c.addResponse("Content-Length: %d\r\n", contentLength) &&
		c.addResponse("Content-Type: %s\r\n", contentType) &&
		c.addResponse("Connection: %s\r\n", conn) &&
		c.addResponse("\r\n")
}

func (c *Conn) addContent(content string) bool {
	return c.addResponse("%s", content)
}

func contentType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return defaultContentType
}
