// File: internal/httpconn/request.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package httpconn

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-httpd/credentials"
)

// Pages the form actions and short aliases resolve to.
const (
	PageRegister      = "/register.html"
	PageLogin         = "/log.html"
	PageWelcome       = "/welcome.html"
	PageLoginError    = "/logError.html"
	PageRegisterError = "/registerError.html"
	PagePicture       = "/picture.html"
	PageVideo         = "/video.html"
	PageFans          = "/fans.html"
)

var aliases = map[string]string{
	"0": PageRegister,
	"1": PageLogin,
	"5": PagePicture,
	"6": PageVideo,
	"7": PageFans,
}

// DoRequest maps the parsed URL to a file under the document root and maps it.
// POSTs to a path whose last segment starts with '2' (login) or '3' (register)
// are checked against the credential store first and resolve to a result page.
func (c *Conn) DoRequest(ctx context.Context, h credentials.Handle) HTTPCode {
	page := c.URL
	tag := page[strings.LastIndexByte(page, '/')+1:]

	switch {
	case c.Method == MethodPost && strings.HasPrefix(tag, "2"):
		page = c.login(ctx, h)
	case c.Method == MethodPost && strings.HasPrefix(tag, "3"):
		page = c.register(ctx, h)
	default:
		if alias, ok := aliases[tag]; ok {
			page = alias
		}
	}
	return c.resolve(page)
}

func (c *Conn) login(ctx context.Context, h credentials.Handle) string {
	user, pass, ok := credentials.ParseForm(c.body)
	if !ok {
		return PageLoginError
	}
	if c.opts.Snapshot.Verify(user, pass) {
		return PageWelcome
	}
	if h == nil {
		return PageLoginError
	}
	stored, found, err := h.Lookup(ctx, user)
	if err != nil {
		c.opts.Logger.Warn("credential lookup failed", zap.String("user", user), zap.Error(err))
		return PageLoginError
	}
	if found && stored == pass {
		return PageWelcome
	}
	return PageLoginError
}

func (c *Conn) register(ctx context.Context, h credentials.Handle) string {
	user, pass, ok := credentials.ParseForm(c.body)
	if !ok || h == nil || c.opts.Snapshot.Has(user) {
		return PageRegisterError
	}
	err := h.Insert(ctx, user, pass)
	switch {
	case errors.Is(err, credentials.ErrDuplicateUser):
		return PageRegisterError
	case err != nil:
		c.opts.Logger.Warn("credential insert failed", zap.String("user", user), zap.Error(err))
		return PageRegisterError
	}
	return PageLogin
}

// resolve stats page under the document root and maps it read-only.
func (c *Conn) resolve(page string) HTTPCode {
	c.realFile = filepath.Join(c.opts.DocRoot, filepath.Clean("/"+page))

	st, err := os.Stat(c.realFile)
	if err != nil {
		return NoResource
	}
	if st.Mode().Perm()&0o004 == 0 {
		return ForbiddenRequest
	}
	if st.IsDir() {
		return BadRequest
	}
	c.fileSize = st.Size()
	if c.fileSize == 0 {
		return FileRequest
	}

	f, err := os.Open(c.realFile)
	if err != nil {
		return ForbiddenRequest
	}
	defer f.Close()
	data, err := unix.Mmap(int(f.Fd()), 0, int(c.fileSize), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		c.opts.Logger.Error("mmap failed", zap.String("file", c.realFile), zap.Error(err))
		return InternalError
	}
	c.file = data
	return FileRequest
}

func (c *Conn) unmap() {
	if c.file == nil {
		return
	}
	if err := unix.Munmap(c.file); err != nil && c.opts != nil {
		c.opts.Logger.Debug("munmap failed", zap.String("file", c.realFile), zap.Error(err))
	}
	c.file = nil
	c.fileSize = 0
}
