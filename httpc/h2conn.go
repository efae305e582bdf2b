package httpc

import (
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/store"
)

const h2InitialWindow = 65535

// h2Conn multiplexes requests over one HTTP/2 connection. The read task
// owns the frame parser and the HPACK decoder exclusively; writes are
// serialized by wmu.
type h2Conn struct {
	nc     net.Conn
	scheme string
	auth   string
	lg     log.Logger

	wmu sync.Mutex // guards writes to nc

	mu           sync.Mutex // guards the fields below
	streams      map[uint32]*h2Stream
	nextStreamID uint32
	closed       bool
	sendWindow   int64 // connection-level send window
	peerInitWin  int64

	parser  *FrameParser
	dec     *HPACKDecoder
	enc     HPACKEncoder
	recvWin int64 // connection-level receive window remaining
}

type h2Stream struct {
	id uint32
	h  ResponseHandler

	headerFrag  []byte
	inHeaders   bool
	gotStatus   bool
	bodyStarted bool
	recvWin     int64

	// body bytes queued behind the send window
	pendingData []byte
	endAfter    bool // end the stream after pendingData drains
	sendWindow  int64

	respEndStream bool // END_STREAM seen on a HEADERS awaiting CONTINUATION
}

func newH2Conn(nc net.Conn, scheme, authority string, lg log.Logger) (*h2Conn, error) {
	c := &h2Conn{
		nc:           nc,
		scheme:       scheme,
		auth:         authority,
		lg:           lg,
		streams:      make(map[uint32]*h2Stream),
		nextStreamID: 1,
		sendWindow:   h2InitialWindow,
		peerInitWin:  h2InitialWindow,
		recvWin:      h2InitialWindow,
		dec:          NewHPACKDecoder(4096),
	}
	c.parser = NewFrameParser((*h2FrameSink)(c))

	var out []byte
	out = append(out, clientPreface...)
	out = append(out, WriteSettingsFrame(false, []Setting{
		{SettingEnablePush, 0},
		{SettingInitialWindowSize, h2InitialWindow},
	})...)
	if _, err := nc.Write(out); err != nil {
		return nil, &store.TransportError{Err: err}
	}
	go c.readLoop()
	return c, nil
}

func (c *h2Conn) submit(req Request, h ResponseHandler) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		h.Failed(&store.TransportError{Err: io.ErrClosedPipe})
		return
	}
	id := c.nextStreamID
	c.nextStreamID += 2
	st := &h2Stream{id: id, h: h, recvWin: h2InitialWindow, sendWindow: c.peerInitWin}
	c.streams[id] = st
	c.mu.Unlock()

	method := req.Method
	if method == "" {
		method = "GET"
	}
	path := req.Path
	if path == "" {
		path = "/"
	}
	block := c.enc.EncodeRequest(method, path, c.scheme, c.auth, req.Headers)
	endStream := len(req.Body) == 0
	c.wmu.Lock()
	_, err := c.nc.Write(WriteHeadersFrame(id, endStream, block))
	c.wmu.Unlock()
	if err != nil {
		c.failAll(&store.TransportError{Err: err})
		return
	}
	if !endStream {
		c.queueData(st, req.Body)
	}
}

// queueData sends as much of the stream's body as the connection and
// stream send windows allow, parking the remainder for WindowUpdate.
func (c *h2Conn) queueData(st *h2Stream, body []byte) {
	c.mu.Lock()
	st.pendingData = append(st.pendingData, body...)
	st.endAfter = true
	c.mu.Unlock()
	c.flushData(st)
}

func (c *h2Conn) flushData(st *h2Stream) {
	for {
		c.mu.Lock()
		if len(st.pendingData) == 0 {
			c.mu.Unlock()
			return
		}
		allow := c.sendWindow
		if st.sendWindow < allow {
			allow = st.sendWindow
		}
		if allow > FrameSizeDefault {
			allow = FrameSizeDefault
		}
		if allow <= 0 {
			c.mu.Unlock()
			return
		}
		take := int64(len(st.pendingData))
		if take > allow {
			take = allow
		}
		chunk := st.pendingData[:take]
		st.pendingData = st.pendingData[take:]
		last := len(st.pendingData) == 0 && st.endAfter
		c.sendWindow -= take
		st.sendWindow -= take
		c.mu.Unlock()

		c.wmu.Lock()
		_, err := c.nc.Write(WriteDataFrame(st.id, last, chunk))
		c.wmu.Unlock()
		if err != nil {
			c.failAll(&store.TransportError{Err: err})
			return
		}
		if last {
			return
		}
	}
}

func (c *h2Conn) readLoop() {
	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, err := c.nc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			consumed, perr := c.parser.Feed(buf)
			buf = buf[:copy(buf, buf[consumed:])]
			if perr != nil {
				c.failAll(perr)
				return
			}
		}
		if err != nil {
			c.failAll(&store.TransportError{Err: err})
			return
		}
	}
}

func (c *h2Conn) failAll(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	streams := c.streams
	c.streams = make(map[uint32]*h2Stream)
	c.mu.Unlock()
	c.nc.Close()
	for _, st := range streams {
		st.h.Failed(err)
	}
}

func (c *h2Conn) close() error {
	c.wmu.Lock()
	c.nc.Write(WriteGoawayFrame(0, ErrCodeNoError))
	c.wmu.Unlock()
	c.failAll(&store.TransportError{Err: io.ErrClosedPipe})
	return nil
}

func (c *h2Conn) stream(id uint32) *h2Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[id]
}

func (c *h2Conn) finishStream(st *h2Stream) {
	c.mu.Lock()
	delete(c.streams, st.id)
	c.mu.Unlock()
	if st.bodyStarted {
		st.h.EndBody()
	}
	st.h.Complete()
}

// h2FrameSink is h2Conn's FrameHandler face; a separate type keeps the
// handler methods off Conn's public surface.
type h2FrameSink h2Conn

func (s *h2FrameSink) conn() *h2Conn { return (*h2Conn)(s) }

func (s *h2FrameSink) Data(streamID uint32, endStream bool, payload []byte) {
	c := s.conn()
	st := c.stream(streamID)
	if st == nil {
		return
	}
	if len(payload) > 0 {
		if !st.bodyStarted {
			st.bodyStarted = true
			st.h.StartBody()
		}
		st.h.BodyChunk(payload)

		// Replenish both windows for what was just delivered, so the peer
		// never stalls against an unacknowledged window.
		c.mu.Lock()
		st.recvWin -= int64(len(payload))
		c.recvWin -= int64(len(payload))
		c.mu.Unlock()
		inc := uint32(len(payload))
		c.wmu.Lock()
		c.nc.Write(WriteWindowUpdateFrame(streamID, inc))
		c.nc.Write(WriteWindowUpdateFrame(0, inc))
		c.wmu.Unlock()
		c.mu.Lock()
		st.recvWin += int64(inc)
		c.recvWin += int64(inc)
		c.mu.Unlock()
	}
	if endStream {
		c.finishStream(st)
	}
}

func (s *h2FrameSink) Headers(streamID uint32, endStream, endHeaders bool, prio *Priority, fragment []byte) {
	c := s.conn()
	st := c.stream(streamID)
	if st == nil {
		return
	}
	st.headerFrag = append(st.headerFrag[:0], fragment...)
	st.inHeaders = !endHeaders
	if endHeaders {
		c.deliverHeaders(st, endStream)
	} else if endStream {
		st.respEndStream = true
	}
}

func (s *h2FrameSink) Continuation(streamID uint32, endHeaders bool, fragment []byte) {
	c := s.conn()
	st := c.stream(streamID)
	if st == nil || !st.inHeaders {
		return
	}
	st.headerFrag = append(st.headerFrag, fragment...)
	if endHeaders {
		st.inHeaders = false
		c.deliverHeaders(st, st.respEndStream)
	}
}

// deliverHeaders HPACK-decodes an assembled block and pushes status/header
// (or trailer) events.
func (c *h2Conn) deliverHeaders(st *h2Stream, endStream bool) {
	fields, err := c.dec.Decode(st.headerFrag)
	st.headerFrag = st.headerFrag[:0]
	if err != nil {
		c.mu.Lock()
		delete(c.streams, st.id)
		c.mu.Unlock()
		c.wmu.Lock()
		c.nc.Write(WriteRSTStreamFrame(st.id, ErrCodeCompression))
		c.wmu.Unlock()
		st.h.Failed(err)
		return
	}
	trailers := st.gotStatus
	if st.bodyStarted && trailers {
		st.bodyStarted = false
		st.h.EndBody()
	}
	for _, f := range fields {
		if f.Name == ":status" && !trailers {
			code, cerr := strconv.Atoi(f.Value)
			if cerr != nil {
				st.h.Failed(&store.ProtocolError{Msg: "h2: bad :status " + f.Value})
				return
			}
			st.gotStatus = true
			if code >= 200 && code < 300 {
				st.h.OK(code)
			} else {
				st.h.Error(code)
			}
			continue
		}
		st.h.Header(f.Name, f.Value)
	}
	if endStream {
		c.finishStream(st)
	}
}

func (s *h2FrameSink) Settings(ack bool, settings []Setting) {
	c := s.conn()
	if ack {
		return
	}
	c.mu.Lock()
	for _, st := range settings {
		switch st.ID {
		case SettingHeaderTableSize:
			c.dec.SetMaxSize(st.Value)
		case SettingMaxFrameSize:
			c.parser.SetMaxFrameSize(st.Value)
		case SettingInitialWindowSize:
			delta := int64(st.Value) - c.peerInitWin
			c.peerInitWin = int64(st.Value)
			for _, str := range c.streams {
				str.sendWindow += delta
			}
		}
	}
	c.mu.Unlock()
	c.wmu.Lock()
	c.nc.Write(WriteSettingsFrame(true, nil))
	c.wmu.Unlock()
}

func (s *h2FrameSink) WindowUpdate(streamID uint32, increment uint32) {
	c := s.conn()
	var flushTargets []*h2Stream
	c.mu.Lock()
	if streamID == 0 {
		c.sendWindow += int64(increment)
		for _, st := range c.streams {
			if len(st.pendingData) > 0 {
				flushTargets = append(flushTargets, st)
			}
		}
	} else if st := c.streams[streamID]; st != nil {
		st.sendWindow += int64(increment)
		if len(st.pendingData) > 0 {
			flushTargets = append(flushTargets, st)
		}
	}
	c.mu.Unlock()
	for _, st := range flushTargets {
		c.flushData(st)
	}
}

func (s *h2FrameSink) RSTStream(streamID uint32, errCode uint32) {
	c := s.conn()
	c.mu.Lock()
	st := c.streams[streamID]
	delete(c.streams, streamID)
	c.mu.Unlock()
	if st != nil {
		st.h.Failed(&store.ProtocolError{Msg: "h2: stream reset, code " + strconv.FormatUint(uint64(errCode), 10)})
	}
}

func (s *h2FrameSink) Ping(ack bool, data [8]byte) {
	c := s.conn()
	if ack {
		return
	}
	c.wmu.Lock()
	c.nc.Write(WritePingFrame(true, data))
	c.wmu.Unlock()
}

func (s *h2FrameSink) Goaway(lastStreamID uint32, errCode uint32, debug []byte) {
	c := s.conn()
	c.failAll(&store.TransportError{Err: io.EOF})
}

func (s *h2FrameSink) PriorityFrame(streamID uint32, prio Priority)                        {}
func (s *h2FrameSink) PushPromise(streamID, promisedID uint32, endHeaders bool, frag []byte) {
	// Push is disabled via SETTINGS_ENABLE_PUSH=0; a peer that promises
	// anyway gets the stream refused.
	c := s.conn()
	c.wmu.Lock()
	c.nc.Write(WriteRSTStreamFrame(promisedID, ErrCodeRefusedStream))
	c.wmu.Unlock()
}
