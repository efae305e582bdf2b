package httpc

import (
	"strconv"
	"strings"
	"testing"
)

// h1Events records the push events and drives SetBodyMode the way the
// connection driver does.
type h1Events struct {
	status   int
	headers  [][2]string
	trailers [][2]string
	body     strings.Builder
	complete bool
	parser   *HTTP1Parser
	chunked  bool
	length   int64
	hasLen   bool
}

func (h *h1Events) StatusLine(code int, reason string) { h.status = code }
func (h *h1Events) Header(name, value string) {
	h.headers = append(h.headers, [2]string{name, value})
	switch strings.ToLower(name) {
	case "transfer-encoding":
		h.chunked = strings.Contains(value, "chunked")
	case "content-length":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			h.hasLen = true
			h.length = n
		}
	}
}
func (h *h1Events) HeadersComplete() {
	switch {
	case h.chunked:
		h.parser.SetBodyMode(-1, true)
	case h.hasLen:
		h.parser.SetBodyMode(h.length, false)
	default:
		h.parser.SetBodyMode(-1, false)
	}
}
func (h *h1Events) BodyChunk(chunk []byte) { h.body.Write(chunk) }
func (h *h1Events) TrailerHeader(name, value string) {
	h.trailers = append(h.trailers, [2]string{name, value})
}
func (h *h1Events) ResponseComplete() { h.complete = true }

func newH1Events() *h1Events {
	h := &h1Events{}
	h.parser = NewHTTP1Parser(h)
	return h
}

func TestHTTP1ContentLengthBody(t *testing.T) {
	h := newH1Events()
	wire := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	n, err := h.parser.Feed([]byte(wire), false)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if n != len(wire) {
		t.Errorf("consumed %d, want %d", n, len(wire))
	}
	if h.status != 200 || h.body.String() != "hello" || !h.complete {
		t.Errorf("status=%d body=%q complete=%v", h.status, h.body.String(), h.complete)
	}
}

func TestHTTP1ChunkedZeroChunkEmptyTrailer(t *testing.T) {
	h := newH1Events()
	wire := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n0\r\n\r\n"
	if _, err := h.parser.Feed([]byte(wire), false); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if !h.complete {
		t.Fatal("response did not complete")
	}
	if h.body.String() != "hello" {
		t.Errorf("body = %q", h.body.String())
	}
	if len(h.trailers) != 0 {
		t.Errorf("want zero trailer headers, got %v", h.trailers)
	}
}

func TestHTTP1ChunkedTrailers(t *testing.T) {
	h := newH1Events()
	wire := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"3;ext=1\r\nabc\r\n0\r\nX-Sum: 9\r\n\r\n"
	if _, err := h.parser.Feed([]byte(wire), false); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if h.body.String() != "abc" {
		t.Errorf("body = %q", h.body.String())
	}
	if len(h.trailers) != 1 || h.trailers[0] != [2]string{"X-Sum", "9"} {
		t.Errorf("trailers = %v", h.trailers)
	}
}

func TestHTTP1PartialLinesStayBuffered(t *testing.T) {
	h := newH1Events()
	part1 := "HTTP/1.1 404 Not"
	n, err := h.parser.Feed([]byte(part1), false)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if n != 0 {
		t.Errorf("consumed %d of a partial line, want 0", n)
	}
	part2 := part1 + " Found\r\n"
	n, err = h.parser.Feed([]byte(part2), false)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if n != len(part2) {
		t.Errorf("consumed %d, want %d", n, len(part2))
	}
	if h.status != 404 {
		t.Errorf("status = %d", h.status)
	}
}

func TestHTTP1ReadUntilClose(t *testing.T) {
	h := newH1Events()
	wire := "HTTP/1.1 200 OK\r\n\r\nstream until eof"
	if _, err := h.parser.Feed([]byte(wire), false); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if h.complete {
		t.Fatal("must not complete before eof")
	}
	if _, err := h.parser.Feed(nil, true); err != nil {
		t.Fatalf("feed eof: %v", err)
	}
	if !h.complete || h.body.String() != "stream until eof" {
		t.Errorf("complete=%v body=%q", h.complete, h.body.String())
	}
}
