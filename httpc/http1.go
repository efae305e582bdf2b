package httpc

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/gumdropmail/core/store"
)

// HTTP1Handler receives push events from the HTTP/1.1 response parser.
type HTTP1Handler interface {
	StatusLine(code int, reason string)
	Header(name, value string)
	HeadersComplete()
	BodyChunk(chunk []byte)
	TrailerHeader(name, value string)
	ResponseComplete()
}

type http1State int

const (
	h1StatusLine http1State = iota
	h1Headers
	h1HeadersComplete
	h1Body
	h1ChunkSize
	h1ChunkData
	h1ChunkDataCRLF
	h1ChunkTrailer
	h1Idle
	h1Failed
)

// HTTP1Parser is the push parser for HTTP/1.1 responses. Bytes are fed in
// arbitrary chunks; complete CRLF-terminated lines only are consumed, and
// the return value is the number of bytes taken so the caller can compact
// its buffer. After HeadersComplete the driver must call SetBodyMode before
// feeding more bytes.
type HTTP1Parser struct {
	h     HTTP1Handler
	state http1State

	// body framing, set by SetBodyMode
	chunked       bool
	contentLength int64 // -1 means read-until-close
	bodyRemaining int64

	chunkRemaining int64
}

func NewHTTP1Parser(h HTTP1Handler) *HTTP1Parser {
	return &HTTP1Parser{h: h, state: h1StatusLine, contentLength: -1}
}

// SetBodyMode tells the parser how the body is framed, decided by the
// driver after headers. Chunked overrides Content-Length; absent both,
// the body runs until connection close.
func (p *HTTP1Parser) SetBodyMode(contentLength int64, chunked bool) {
	p.chunked = chunked
	p.contentLength = contentLength
	if chunked {
		p.state = h1ChunkSize
		return
	}
	p.bodyRemaining = contentLength
	if contentLength == 0 {
		p.h.ResponseComplete()
		p.state = h1Idle
		return
	}
	p.state = h1Body
}

// Reset prepares the parser for the next response on the same connection.
func (p *HTTP1Parser) Reset() {
	p.state = h1StatusLine
	p.chunked = false
	p.contentLength = -1
	p.bodyRemaining = 0
	p.chunkRemaining = 0
}

// Feed consumes as much of data as forms complete tokens and returns the
// byte count taken. endOfStream marks connection close, which terminates a
// read-until-close body.
func (p *HTTP1Parser) Feed(data []byte, endOfStream bool) (int, error) {
	consumed := 0
	for {
		n, again, err := p.step(data[consumed:], endOfStream)
		consumed += n
		if err != nil {
			p.state = h1Failed
			return consumed, err
		}
		if !again {
			return consumed, nil
		}
	}
}

func (p *HTTP1Parser) step(data []byte, endOfStream bool) (consumed int, again bool, err error) {
	switch p.state {
	case h1Failed:
		return 0, false, &store.ProtocolError{Msg: "http1: feed after parse failure"}

	case h1StatusLine:
		line, n, ok := takeLine(data)
		if !ok {
			return 0, false, nil
		}
		code, reason, err := parseStatusLine(line)
		if err != nil {
			return n, false, err
		}
		p.h.StatusLine(code, reason)
		p.state = h1Headers
		return n, true, nil

	case h1Headers:
		line, n, ok := takeLine(data)
		if !ok {
			return 0, false, nil
		}
		if len(line) == 0 {
			p.state = h1HeadersComplete
			p.h.HeadersComplete()
			// A driver that calls SetBodyMode from inside HeadersComplete has
			// already moved the state on; keep going into the body.
			return n, p.state != h1HeadersComplete, nil
		}
		name, value, err := parseHeaderLine(line)
		if err != nil {
			return n, false, err
		}
		p.h.Header(name, value)
		return n, true, nil

	case h1HeadersComplete:
		// Waiting for the driver's SetBodyMode call.
		return 0, false, nil

	case h1Body:
		if len(data) == 0 {
			if endOfStream && p.contentLength < 0 {
				p.h.ResponseComplete()
				p.state = h1Idle
			}
			return 0, false, nil
		}
		take := int64(len(data))
		if p.contentLength >= 0 && take > p.bodyRemaining {
			take = p.bodyRemaining
		}
		if take > 0 {
			p.h.BodyChunk(data[:take])
		}
		if p.contentLength >= 0 {
			p.bodyRemaining -= take
			if p.bodyRemaining == 0 {
				p.h.ResponseComplete()
				p.state = h1Idle
			}
		} else if endOfStream && int64(len(data)) == take {
			p.h.ResponseComplete()
			p.state = h1Idle
		}
		return int(take), false, nil

	case h1ChunkSize:
		line, n, ok := takeLine(data)
		if !ok {
			return 0, false, nil
		}
		sizeStr := string(line)
		if semi := strings.IndexByte(sizeStr, ';'); semi >= 0 {
			sizeStr = sizeStr[:semi]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeStr), 16, 64)
		if err != nil {
			return n, false, &store.ParseError{Msg: "http1: bad chunk size line: " + string(line)}
		}
		if size == 0 {
			p.state = h1ChunkTrailer
			return n, true, nil
		}
		p.chunkRemaining = size
		p.state = h1ChunkData
		return n, true, nil

	case h1ChunkData:
		if len(data) == 0 {
			return 0, false, nil
		}
		take := int64(len(data))
		if take > p.chunkRemaining {
			take = p.chunkRemaining
		}
		p.h.BodyChunk(data[:take])
		p.chunkRemaining -= take
		if p.chunkRemaining == 0 {
			p.state = h1ChunkDataCRLF
		}
		return int(take), true, nil

	case h1ChunkDataCRLF:
		line, n, ok := takeLine(data)
		if !ok {
			return 0, false, nil
		}
		if len(line) != 0 {
			return n, false, &store.ProtocolError{Msg: "http1: missing CRLF after chunk data"}
		}
		p.state = h1ChunkSize
		return n, true, nil

	case h1ChunkTrailer:
		line, n, ok := takeLine(data)
		if !ok {
			return 0, false, nil
		}
		if len(line) == 0 {
			p.h.ResponseComplete()
			p.state = h1Idle
			return n, false, nil
		}
		name, value, err := parseHeaderLine(line)
		if err != nil {
			return n, false, err
		}
		p.h.TrailerHeader(name, value)
		return n, true, nil

	case h1Idle:
		return 0, false, nil
	}
	return 0, false, nil
}

// takeLine returns one CRLF-terminated line (without the CRLF) and the
// number of bytes it spans, or ok=false when no complete line is buffered.
// A bare LF is tolerated the way most servers' trailer emitters need.
func takeLine(data []byte) (line []byte, n int, ok bool) {
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return nil, 0, false
	}
	line = data[:idx]
	line = bytes.TrimSuffix(line, []byte("\r"))
	return line, idx + 1, true
}

func parseStatusLine(line []byte) (int, string, error) {
	s := string(line)
	if !strings.HasPrefix(s, "HTTP/1.") {
		return 0, "", &store.ParseError{Msg: "http1: bad status line: " + s}
	}
	sp := strings.IndexByte(s, ' ')
	if sp < 0 || len(s) < sp+4 {
		return 0, "", &store.ParseError{Msg: "http1: bad status line: " + s}
	}
	code, err := strconv.Atoi(s[sp+1 : sp+4])
	if err != nil {
		return 0, "", &store.ParseError{Msg: "http1: bad status code: " + s}
	}
	reason := ""
	if len(s) > sp+5 {
		reason = s[sp+5:]
	}
	return code, reason, nil
}

func parseHeaderLine(line []byte) (string, string, error) {
	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return "", "", &store.ParseError{Msg: "http1: header line missing colon: " + string(line)}
	}
	name := string(bytes.TrimSpace(line[:colon]))
	value := string(bytes.TrimSpace(line[colon+1:]))
	return name, value, nil
}
