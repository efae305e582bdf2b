package httpc

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/store"
)

// h1Conn drives HTTP/1.1 requests over one connection, strictly one at a
// time: requests submitted while another is in flight queue up and go out
// when the previous response completes.
type h1Conn struct {
	nc        net.Conn
	authority string
	lg        log.Logger

	mu      sync.Mutex
	queue   []pendingReq
	current *h1Exchange
	closed  bool

	readOnce sync.Once
}

type pendingReq struct {
	req Request
	h   ResponseHandler
}

func newH1Conn(nc net.Conn, authority string, lg log.Logger) *h1Conn {
	return &h1Conn{nc: nc, authority: authority, lg: lg}
}

func (c *h1Conn) submit(req Request, h ResponseHandler) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		h.Failed(&store.TransportError{Err: io.ErrClosedPipe})
		return
	}
	if c.current != nil {
		c.queue = append(c.queue, pendingReq{req, h})
		c.mu.Unlock()
		return
	}
	c.start(req, h)
	c.mu.Unlock()
	c.readOnce.Do(func() { go c.readLoop() })
}

// start writes the request and installs the exchange. Caller holds c.mu.
func (c *h1Conn) start(req Request, h ResponseHandler) {
	ex := &h1Exchange{conn: c, h: h}
	ex.parser = NewHTTP1Parser(ex)
	c.current = ex
	wire := renderRequest(req, c.authority)
	if _, err := c.nc.Write(wire); err != nil {
		c.failCurrentLocked(&store.TransportError{Err: err})
	}
}

func renderRequest(req Request, authority string) []byte {
	var b strings.Builder
	method := req.Method
	if method == "" {
		method = "GET"
	}
	path := req.Path
	if path == "" {
		path = "/"
	}
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, path)
	fmt.Fprintf(&b, "Host: %s\r\n", authority)
	hasLen := false
	for _, f := range req.Headers {
		if strings.EqualFold(f.Name, "content-length") {
			hasLen = true
		}
		fmt.Fprintf(&b, "%s: %s\r\n", f.Name, f.Value)
	}
	if len(req.Body) > 0 && !hasLen {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(req.Body))
	}
	b.WriteString("\r\n")
	out := []byte(b.String())
	return append(out, req.Body...)
}

func (c *h1Conn) readLoop() {
	buf := make([]byte, 0, 32*1024)
	chunk := make([]byte, 16*1024)
	for {
		n, err := c.nc.Read(chunk)
		eof := err == io.EOF
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		c.mu.Lock()
		ex := c.current
		c.mu.Unlock()
		if ex != nil && (len(buf) > 0 || eof) {
			consumed, perr := ex.parser.Feed(buf, eof)
			buf = buf[:copy(buf, buf[consumed:])]
			if perr != nil {
				c.mu.Lock()
				c.failCurrentLocked(perr)
				c.mu.Unlock()
				return
			}
		}
		if err != nil {
			c.mu.Lock()
			if c.current != nil {
				// Either a hard transport error, or EOF that arrived
				// mid-response (EOF terminating a read-until-close body
				// already completed the exchange inside Feed).
				werr := err
				if eof {
					werr = io.ErrUnexpectedEOF
				}
				c.failCurrentLocked(&store.TransportError{Err: werr})
			}
			c.closed = true
			c.mu.Unlock()
			return
		}
	}
}

// failCurrentLocked fails the in-flight exchange and everything queued.
// Caller holds c.mu.
func (c *h1Conn) failCurrentLocked(err error) {
	if c.current != nil {
		h := c.current.h
		c.current = nil
		go h.Failed(err)
	}
	for _, p := range c.queue {
		h := p.h
		go h.Failed(err)
	}
	c.queue = nil
	c.closed = true
	c.nc.Close()
}

// exchangeDone advances to the next queued request.
func (c *h1Conn) exchangeDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	if len(c.queue) == 0 || c.closed {
		return
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	c.start(next.req, next.h)
}

func (c *h1Conn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.current != nil {
		h := c.current.h
		c.current = nil
		go h.Failed(&store.TransportError{Err: io.ErrClosedPipe})
	}
	return c.nc.Close()
}

// h1Exchange adapts HTTP1Parser push events for one response onto the
// ResponseHandler event sequence.
type h1Exchange struct {
	conn   *h1Conn
	h      ResponseHandler
	parser *HTTP1Parser

	status        int
	headersDone   bool
	bodyStarted   bool
	contentLength int64
	hasLength     bool
	chunked       bool
}

func (ex *h1Exchange) StatusLine(code int, reason string) {
	ex.status = code
	if code >= 200 && code < 300 {
		ex.h.OK(code)
	} else {
		ex.h.Error(code)
	}
}

func (ex *h1Exchange) Header(name, value string) {
	switch strings.ToLower(name) {
	case "content-length":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			ex.contentLength = n
			ex.hasLength = true
		}
	case "transfer-encoding":
		if strings.Contains(strings.ToLower(value), "chunked") {
			ex.chunked = true
		}
	}
	ex.h.Header(name, value)
}

func (ex *h1Exchange) HeadersComplete() {
	ex.headersDone = true
	switch {
	case ex.chunked:
		ex.parser.SetBodyMode(-1, true)
	case ex.hasLength:
		ex.parser.SetBodyMode(ex.contentLength, false)
	default:
		ex.parser.SetBodyMode(-1, false)
	}
}

func (ex *h1Exchange) BodyChunk(chunk []byte) {
	if !ex.bodyStarted {
		ex.bodyStarted = true
		ex.h.StartBody()
	}
	ex.h.BodyChunk(chunk)
}

func (ex *h1Exchange) TrailerHeader(name, value string) {
	if ex.bodyStarted {
		ex.bodyStarted = false
		ex.h.EndBody()
	}
	ex.h.Header(name, value)
}

func (ex *h1Exchange) ResponseComplete() {
	if ex.bodyStarted {
		ex.bodyStarted = false
		ex.h.EndBody()
	}
	ex.h.Complete()
	ex.parser.Reset()
	ex.conn.exchangeDone()
}
