package websocket

import (
	"crypto/tls"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gumdropmail/core/httpc"
	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/store"
)

// MessageHandler receives whole messages after fragment reassembly, plus
// the connection-terminal events.
type MessageHandler interface {
	TextMessage(payload []byte)
	BinaryMessage(payload []byte)
	Closed(code uint16, reason string)
	Failed(err error)
}

// Conn is one established client WebSocket connection. SendText/SendBinary
// may be called from any goroutine; handler events fire from the read task.
type Conn struct {
	nc net.Conn
	lg log.Logger

	wmu    sync.Mutex
	mu     sync.Mutex
	closed bool

	h MessageHandler

	parser *Parser
	frag   []byte
	fragOp byte
}

// Dial connects to a ws:// or wss:// URL, performs the upgrade handshake,
// and starts the read task. The handshake response is parsed with the
// HTTP/1.1 push parser; any bytes past the 101 response's header block are
// fed straight into the frame parser.
func Dial(rawURL string, lg log.Logger, h MessageHandler) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &store.ParseError{Msg: "websocket: bad url: " + err.Error()}
	}
	useTLS := u.Scheme == "wss"
	if !useTLS && u.Scheme != "ws" {
		return nil, &store.ParseError{Msg: "websocket: scheme must be ws or wss: " + u.Scheme}
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if useTLS {
			port = "443"
		} else {
			port = "80"
		}
	}
	addr := net.JoinHostPort(host, port)
	nc, err := net.DialTimeout("tcp", addr, httpc.ConnectTimeout)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, &store.TimedOut{Op: "connect " + addr}
		}
		return nil, &store.TransportError{Err: err}
	}
	if useTLS {
		tc := tls.Client(nc, &tls.Config{ServerName: host})
		tc.SetDeadline(time.Now().Add(httpc.ConnectTimeout))
		if err := tc.Handshake(); err != nil {
			nc.Close()
			return nil, &store.TransportError{Err: err}
		}
		tc.SetDeadline(time.Time{})
		nc = tc
	}

	key, err := NewKey()
	if err != nil {
		nc.Close()
		return nil, err
	}
	path := u.RequestURI()
	if _, err := nc.Write(HandshakeRequest(u.Host, path, key)); err != nil {
		nc.Close()
		return nil, &store.TransportError{Err: err}
	}

	hs := &handshakeSink{}
	hp := httpc.NewHTTP1Parser(hs)
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for !hs.done {
		n, rerr := nc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			consumed, perr := hp.Feed(buf, false)
			buf = buf[:copy(buf, buf[consumed:])]
			if perr != nil {
				nc.Close()
				return nil, perr
			}
		}
		if rerr != nil {
			nc.Close()
			return nil, &store.TransportError{Err: rerr}
		}
	}
	if err := VerifyHandshake(hs.status, hs.accept, key); err != nil {
		nc.Close()
		return nil, err
	}
	lg.WithConn(nc).Debug("websocket handshake complete")

	c := &Conn{nc: nc, lg: lg, h: h}
	c.parser = NewParser((*frameSink)(c))
	go c.readLoop(buf)
	return c, nil
}

// handshakeSink captures just enough of the 101 response for verification.
// The parser stalls at HeadersComplete (no SetBodyMode call), which is
// exactly right: everything after the header block is frame data.
type handshakeSink struct {
	status int
	accept string
	done   bool
}

func (s *handshakeSink) StatusLine(code int, reason string) { s.status = code }
func (s *handshakeSink) Header(name, value string) {
	if strings.EqualFold(name, "Sec-WebSocket-Accept") {
		s.accept = value
	}
}
func (s *handshakeSink) HeadersComplete()                 { s.done = true }
func (s *handshakeSink) BodyChunk(chunk []byte)           {}
func (s *handshakeSink) TrailerHeader(name, value string) {}
func (s *handshakeSink) ResponseComplete()                {}

func (c *Conn) readLoop(initial []byte) {
	buf := append(make([]byte, 0, 32*1024), initial...)
	chunk := make([]byte, 16*1024)
	for {
		if len(buf) > 0 {
			consumed, perr := c.parser.Feed(buf)
			buf = buf[:copy(buf, buf[consumed:])]
			if perr != nil {
				c.fail(perr)
				return
			}
		}
		n, err := c.nc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				if err == io.EOF {
					c.fail(&store.TransportError{Err: io.ErrUnexpectedEOF})
				} else {
					c.fail(&store.TransportError{Err: err})
				}
			}
			return
		}
	}
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.nc.Close()
	c.h.Failed(err)
}

// SendText writes one masked text frame.
func (c *Conn) SendText(payload []byte) error {
	return c.send(OpText, payload)
}

// SendBinary writes one masked binary frame.
func (c *Conn) SendBinary(payload []byte) error {
	return c.send(OpBinary, payload)
}

func (c *Conn) send(op byte, payload []byte) error {
	frame, err := EncodeFrame(op, payload)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.nc.Write(frame); err != nil {
		return &store.TransportError{Err: err}
	}
	return nil
}

// Close sends a close frame then tears the connection down.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	if frame, err := EncodeClose(1000, ""); err == nil {
		c.wmu.Lock()
		c.nc.Write(frame)
		c.wmu.Unlock()
	}
	return c.nc.Close()
}

// frameSink adapts raw frame events onto MessageHandler, reassembling
// fragmented data messages and answering pings.
type frameSink Conn

func (s *frameSink) conn() *Conn { return (*Conn)(s) }

func (s *frameSink) TextFrame(fin bool, payload []byte) {
	s.data(OpText, fin, payload)
}

func (s *frameSink) BinaryFrame(fin bool, payload []byte) {
	s.data(OpBinary, fin, payload)
}

func (s *frameSink) data(op byte, fin bool, payload []byte) {
	c := s.conn()
	if fin && len(c.frag) == 0 {
		s.deliver(op, payload)
		return
	}
	c.fragOp = op
	c.frag = append(c.frag, payload...)
	if fin {
		msg := c.frag
		c.frag = nil
		s.deliver(c.fragOp, msg)
	}
}

func (s *frameSink) ContinuationFrame(fin bool, payload []byte) {
	c := s.conn()
	c.frag = append(c.frag, payload...)
	if fin {
		msg := c.frag
		c.frag = nil
		s.deliver(c.fragOp, msg)
	}
}

func (s *frameSink) deliver(op byte, payload []byte) {
	c := s.conn()
	if op == OpText {
		c.h.TextMessage(payload)
	} else {
		c.h.BinaryMessage(payload)
	}
}

func (s *frameSink) Close(code uint16, reason string, hasCode bool) {
	c := s.conn()
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	c.nc.Close()
	if !already {
		c.h.Closed(code, reason)
	}
}

func (s *frameSink) Ping(payload []byte) {
	c := s.conn()
	if frame, err := EncodeFrame(OpPong, payload); err == nil {
		c.wmu.Lock()
		c.nc.Write(frame)
		c.wmu.Unlock()
	}
}

func (s *frameSink) Pong(payload []byte) {}
