// File: internal/httpconn/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package httpconn

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/credentials"
	"github.com/momentics/hioload-httpd/internal/timer"
)

const (
	// ReadBufferSize is the initial read buffer; it grows up to Options.MaxRequestSize.
	ReadBufferSize = 2048
	// WriteBufferSize bounds the status line, headers and generated bodies.
	WriteBufferSize = 1024
	// DefaultMaxRequestSize caps a buffered request including its body.
	DefaultMaxRequestSize = 1 << 20
	// DefaultIndexPage is served for "/".
	DefaultIndexPage = "/judge.html"
)

// Method is a supported request method.
type Method int

const (
	MethodGet Method = iota
	MethodPost
)

func (m Method) String() string {
	if m == MethodPost {
		return "POST"
	}
	return "GET"
}

// CheckState is the parser main state.
type CheckState int

const (
	StateRequestLine CheckState = iota
	StateHeaders
	StateContent
)

// HTTPCode is the outcome of a parse or resolution step.
type HTTPCode int

const (
	NoRequest HTTPCode = iota
	GetRequest
	BadRequest
	NoResource
	ForbiddenRequest
	FileRequest
	InternalError
	ClosedConnection
)

// Options are shared by every connection of a server and never change after start.
type Options struct {
	Reactor        api.Reactor
	EdgeTriggered  bool
	DocRoot        string
	IndexPage      string
	MaxRequestSize int
	Snapshot       *credentials.Snapshot
	Logger         *zap.Logger
	// OnResponse, if set, is called with the status code of every assembled response.
	OnResponse func(status int)
}

// Normalize fills defaults. Call it once before the first Init.
func (o *Options) Normalize() {
	if o.IndexPage == "" {
		o.IndexPage = DefaultIndexPage
	}
	if o.MaxRequestSize < ReadBufferSize {
		o.MaxRequestSize = DefaultMaxRequestSize
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// RoundResult is published by a reactor-mode worker when it hands a Conn back.
type RoundResult struct {
	Failed bool
}

// Conn is the state of one accepted socket.
type Conn struct {
	fd   int
	peer netip.AddrPort
	opts *Options

	readBuf    []byte
	readIdx    int // end of buffered data
	checkedIdx int // line scan cursor
	startLine  int // start of the line being parsed
	lineEnd    int

	writeBuf      [WriteBufferSize]byte
	writeIdx      int
	iov           [2][]byte
	iovCount      int
	bytesToSend   int
	bytesHaveSent int

	state         CheckState
	Method        Method
	URL           string
	Version       string
	Host          string
	ContentLength int
	KeepAlive     bool
	body          []byte

	realFile string
	file     []byte // mmap'd response body
	fileSize int64

	// Timer is the idle timer entry; only the event loop touches it.
	Timer timer.Handle

	round    chan RoundResult
	handoff  sync.Mutex
	inFlight bool // guarded by handoff
	evicted  atomic.Bool
}

// New returns an unbound connection. Bind it with Init before use.
func New() *Conn {
	return &Conn{
		fd:      -1,
		readBuf: make([]byte, ReadBufferSize),
		round:   make(chan RoundResult, 1),
	}
}

// Init binds c to an accepted descriptor and clears all per-connection state.
func (c *Conn) Init(fd int, peer netip.AddrPort, opts *Options) {
	c.fd, c.peer, c.opts = fd, peer, opts
	c.Timer = timer.Handle{}
	c.evicted.Store(false)
	c.handoff.Lock()
	c.inFlight = false
	c.handoff.Unlock()
	select {
	case <-c.round:
	default:
	}
	c.Reset()
}

// Reset prepares c for the next request on a kept-alive connection.
// Bytes buffered past the current request are dropped.
func (c *Conn) Reset() {
	c.unmap()
	if len(c.readBuf) > ReadBufferSize {
		c.readBuf = make([]byte, ReadBufferSize)
	}
	c.readIdx, c.checkedIdx, c.startLine, c.lineEnd = 0, 0, 0, 0
	c.writeIdx = 0
	c.iov = [2][]byte{}
	c.iovCount = 0
	c.bytesToSend, c.bytesHaveSent = 0, 0

	c.state = StateRequestLine
	c.Method = MethodGet
	c.URL, c.Version, c.Host = "", "", ""
	c.ContentLength = 0
	c.KeepAlive = false
	c.body = nil
	c.realFile = ""
	c.fileSize = 0
}

// Fd returns the socket descriptor.
func (c *Conn) Fd() int { return c.fd }

// Peer returns the remote address.
func (c *Conn) Peer() netip.AddrPort { return c.peer }

// State returns the parser main state.
func (c *Conn) State() CheckState { return c.state }

// Body returns the request body once the request is complete.
func (c *Conn) Body() []byte { return c.body }

// MarkEvicted reports true exactly once per Init.
func (c *Conn) MarkEvicted() bool { return c.evicted.CompareAndSwap(false, true) }

// Evicted reports whether MarkEvicted already succeeded.
func (c *Conn) Evicted() bool { return c.evicted.Load() }

// FinishRound publishes the result of a reactor-mode round. It must be the
// worker's last action on c.
func (c *Conn) FinishRound(failed bool) {
	c.round <- RoundResult{Failed: failed}
}

// AwaitRound blocks until the worker holding c calls FinishRound.
func (c *Conn) AwaitRound() RoundResult {
	return <-c.round
}

// Land returns c from a proactor-mode worker and re-arms mask, unless the loop
// evicted c meanwhile. A zero mask only clears the in-flight mark.
func (c *Conn) Land(mask api.EventMask) {
	c.handoff.Lock()
	defer c.handoff.Unlock()
	c.inFlight = false
	if mask != 0 && !c.evicted.Load() {
		c.arm(mask)
	}
}

// Handoff runs fn while no proactor-mode worker can land c. The loop touches
// buffers and parser state of a proactor connection only inside fn, and only
// when inFlight is false. If fn returns true, c is marked in flight before
// the lock is released, so a worker it enqueued lands strictly after fn.
func (c *Conn) Handoff(fn func(inFlight bool) (hold bool)) {
	c.handoff.Lock()
	defer c.handoff.Unlock()
	if fn(c.inFlight) {
		c.inFlight = true
	}
}

// arm re-registers the one-shot watch of c.
func (c *Conn) arm(mask api.EventMask) {
	err := c.opts.Reactor.Modify(c.fd, mask|api.EventHangup, api.WatchOptions{
		EdgeTriggered: c.opts.EdgeTriggered,
		OneShot:       true,
	})
	if err != nil {
		c.opts.Logger.Debug("re-arm failed", zap.Int("fd", c.fd), zap.Error(err))
	}
}

// Arm re-registers c for mask on behalf of the goroutine that currently owns it.
func (c *Conn) Arm(mask api.EventMask) { c.arm(mask) }
