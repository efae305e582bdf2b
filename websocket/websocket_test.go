package websocket

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gumdropmail/core/store"
)

type recorder struct {
	texts    []string
	binaries []string
	closes   []uint16
	pings    []string
	pongs    []string
	conts    []string
}

func (r *recorder) TextFrame(fin bool, payload []byte)   { r.texts = append(r.texts, string(payload)) }
func (r *recorder) BinaryFrame(fin bool, payload []byte) { r.binaries = append(r.binaries, string(payload)) }
func (r *recorder) ContinuationFrame(fin bool, payload []byte) {
	r.conts = append(r.conts, string(payload))
}
func (r *recorder) Close(code uint16, reason string, hasCode bool) { r.closes = append(r.closes, code) }
func (r *recorder) Ping(payload []byte)                            { r.pings = append(r.pings, string(payload)) }
func (r *recorder) Pong(payload []byte)                            { r.pongs = append(r.pongs, string(payload)) }

// serverFrame builds an unmasked server-to-client frame.
func serverFrame(opcode byte, payload []byte) []byte {
	out := []byte{0x80 | opcode}
	switch {
	case len(payload) <= 125:
		out = append(out, byte(len(payload)))
	default:
		out = append(out, 126)
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(payload)))
		out = append(out, l[:]...)
	}
	return append(out, payload...)
}

func TestAcceptFor(t *testing.T) {
	// The worked example from RFC 6455 §1.3.
	got := AcceptFor("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Errorf("AcceptFor = %q, want %q", got, want)
	}
}

func TestVerifyHandshake(t *testing.T) {
	key := "dGhlIHNhbXBsZSBub25jZQ=="
	if err := VerifyHandshake(101, AcceptFor(key), key); err != nil {
		t.Errorf("valid handshake rejected: %v", err)
	}
	if err := VerifyHandshake(200, AcceptFor(key), key); err == nil {
		t.Error("non-101 status accepted")
	}
	if err := VerifyHandshake(101, "bogus", key); err == nil {
		t.Error("wrong accept value accepted")
	}
}

func TestParserTextAndBinary(t *testing.T) {
	rec := &recorder{}
	p := NewParser(rec)
	wire := append(serverFrame(OpText, []byte("hi")), serverFrame(OpBinary, []byte{1, 2})...)
	n, err := p.Feed(wire)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if n != len(wire) {
		t.Errorf("consumed %d of %d", n, len(wire))
	}
	if len(rec.texts) != 1 || rec.texts[0] != "hi" {
		t.Errorf("texts = %v", rec.texts)
	}
	if len(rec.binaries) != 1 {
		t.Errorf("binaries = %v", rec.binaries)
	}
}

func TestParserRejectsMaskedServerFrame(t *testing.T) {
	rec := &recorder{}
	p := NewParser(rec)
	wire := []byte{0x81, 0x82, 1, 2, 3, 4, 'h' ^ 1, 'i' ^ 2}
	_, err := p.Feed(wire)
	var pe *store.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("want ProtocolError, got %v", err)
	}
}

func TestParserCloseOneBytePayload(t *testing.T) {
	rec := &recorder{}
	p := NewParser(rec)
	_, err := p.Feed(serverFrame(OpClose, []byte{0x03}))
	var pe *store.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("close with 1-byte payload must be a protocol error, got %v", err)
	}
}

func TestParserCloseWithCodeAndReason(t *testing.T) {
	rec := &recorder{}
	p := NewParser(rec)
	payload := []byte{0x03, 0xe8}
	payload = append(payload, "bye"...)
	if _, err := p.Feed(serverFrame(OpClose, payload)); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(rec.closes) != 1 || rec.closes[0] != 1000 {
		t.Errorf("closes = %v", rec.closes)
	}
}

func TestParserPartialFrame(t *testing.T) {
	rec := &recorder{}
	p := NewParser(rec)
	frame := serverFrame(OpText, []byte("split me"))
	n, err := p.Feed(frame[:3])
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if n != 0 {
		t.Errorf("consumed %d of a split frame", n)
	}
	if _, err := p.Feed(frame); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(rec.texts) != 1 || rec.texts[0] != "split me" {
		t.Errorf("texts = %v", rec.texts)
	}
}

func TestEncodeFrameMasksPayload(t *testing.T) {
	payload := []byte("masked payload")
	frame, err := EncodeFrame(OpText, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if frame[0] != 0x80|OpText {
		t.Errorf("first byte = %#x", frame[0])
	}
	if frame[1]&0x80 == 0 {
		t.Fatal("client frame must set the mask bit")
	}
	if int(frame[1]&0x7f) != len(payload) {
		t.Errorf("length = %d", frame[1]&0x7f)
	}
	key := frame[2:6]
	body := frame[6:]
	for i := range body {
		if body[i]^key[i%4] != payload[i] {
			t.Fatalf("byte %d does not unmask to the payload", i)
		}
	}
}

func TestEncodeControlFrameTooLong(t *testing.T) {
	if _, err := EncodeFrame(OpPing, make([]byte, 126)); err == nil {
		t.Fatal("control frame over 125 bytes must fail")
	}
}
