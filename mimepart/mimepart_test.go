package mimepart

import "testing"

type recordingHandler struct {
	starts      []string
	ends        []string
	contentType []string
	bodies      []string
}

func (r *recordingHandler) StartEntity(boundary string) { r.starts = append(r.starts, boundary) }
func (r *recordingHandler) ContentType(super, sub string, params map[string]string) {
	r.contentType = append(r.contentType, super+"/"+sub)
}
func (r *recordingHandler) ContentDisposition(string, map[string]string) {}
func (r *recordingHandler) ContentTransferEncoding(string)               {}
func (r *recordingHandler) ContentID(string)                             {}
func (r *recordingHandler) ContentDescription(string)                    {}
func (r *recordingHandler) MIMEVersion(string)                           {}
func (r *recordingHandler) GenericHeader(string, string)                 {}
func (r *recordingHandler) EndHeaders()                                  {}
func (r *recordingHandler) BodyContent(chunk []byte) {
	r.bodies = append(r.bodies, string(chunk))
}
func (r *recordingHandler) UnexpectedContent([]byte) {}
func (r *recordingHandler) EndEntity(boundary string) { r.ends = append(r.ends, boundary) }

func TestMultipartAlternativeExtraction(t *testing.T) {
	msg := "MIME-Version: 1.0\r\nContent-Type: multipart/alternative; boundary=x\r\n\r\n" +
		"--x\r\nContent-Type: text/plain\r\n\r\nPlain.\r\n" +
		"--x\r\nContent-Type: text/html\r\n\r\n<b>HTML</b>\r\n" +
		"--x--"

	h := &recordingHandler{}
	p := New(h)
	if _, err := p.Feed([]byte(msg), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.bodies) != 2 {
		t.Fatalf("expected 2 body parts, got %d: %v", len(h.bodies), h.bodies)
	}
	if h.bodies[0] != "Plain." {
		t.Errorf("plain body = %q", h.bodies[0])
	}
	if h.bodies[1] != "<b>HTML</b>" {
		t.Errorf("html body = %q", h.bodies[1])
	}
	if h.contentType[0] != "multipart/alternative" {
		t.Errorf("top content-type = %q", h.contentType[0])
	}
}

func TestSinglePartBody(t *testing.T) {
	msg := "Content-Type: text/plain\r\n\r\nhello world"
	h := &recordingHandler{}
	p := New(h)
	if _, err := p.Feed([]byte(msg), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.bodies) != 1 || h.bodies[0] != "hello world" {
		t.Fatalf("got %v", h.bodies)
	}
}

func TestFeedInChunksIsEquivalent(t *testing.T) {
	msg := "Content-Type: text/plain\r\n\r\nhello world"
	h := &recordingHandler{}
	p := New(h)
	mid := len(msg) / 2
	if _, err := p.Feed([]byte(msg[:mid]), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Feed([]byte(msg[mid:]), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.bodies) != 1 || h.bodies[0] != "hello world" {
		t.Fatalf("got %v", h.bodies)
	}
}
