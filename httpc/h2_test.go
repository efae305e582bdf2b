package httpc

import (
	"testing"
)

// frameRecorder captures typed frame events.
type frameRecorder struct {
	data     []string
	settings [][]Setting
	acks     int
	headers  []string
	prio     *Priority
	windows  []uint32
	pings    int
	resets   []uint32
}

func (r *frameRecorder) Data(streamID uint32, endStream bool, payload []byte) {
	r.data = append(r.data, string(payload))
}
func (r *frameRecorder) Headers(streamID uint32, endStream, endHeaders bool, prio *Priority, fragment []byte) {
	r.headers = append(r.headers, string(fragment))
	r.prio = prio
}
func (r *frameRecorder) PriorityFrame(streamID uint32, prio Priority) {}
func (r *frameRecorder) RSTStream(streamID uint32, errCode uint32) {
	r.resets = append(r.resets, errCode)
}
func (r *frameRecorder) Settings(ack bool, settings []Setting) {
	if ack {
		r.acks++
		return
	}
	r.settings = append(r.settings, settings)
}
func (r *frameRecorder) PushPromise(streamID, promisedID uint32, endHeaders bool, fragment []byte) {}
func (r *frameRecorder) Ping(ack bool, data [8]byte)                                              { r.pings++ }
func (r *frameRecorder) Goaway(lastStreamID uint32, errCode uint32, debug []byte)                 {}
func (r *frameRecorder) WindowUpdate(streamID uint32, increment uint32) {
	r.windows = append(r.windows, increment)
}
func (r *frameRecorder) Continuation(streamID uint32, endHeaders bool, fragment []byte) {}

func TestFrameParserRoundTrip(t *testing.T) {
	rec := &frameRecorder{}
	p := NewFrameParser(rec)

	var wire []byte
	wire = append(wire, WriteSettingsFrame(false, []Setting{{SettingInitialWindowSize, 65535}})...)
	wire = append(wire, WriteSettingsFrame(true, nil)...)
	wire = append(wire, WriteHeadersFrame(1, false, []byte("hdrs"))...)
	wire = append(wire, WriteDataFrame(1, true, []byte("payload"))...)
	wire = append(wire, WriteWindowUpdateFrame(0, 1024)...)
	wire = append(wire, WritePingFrame(false, [8]byte{1, 2, 3})...)
	wire = append(wire, WriteRSTStreamFrame(3, ErrCodeCancel)...)

	n, err := p.Feed(wire)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if n != len(wire) {
		t.Errorf("consumed %d of %d", n, len(wire))
	}
	if len(rec.settings) != 1 || rec.settings[0][0].ID != SettingInitialWindowSize {
		t.Errorf("settings = %v", rec.settings)
	}
	if rec.acks != 1 {
		t.Errorf("acks = %d", rec.acks)
	}
	if len(rec.headers) != 1 || rec.headers[0] != "hdrs" {
		t.Errorf("headers = %v", rec.headers)
	}
	if len(rec.data) != 1 || rec.data[0] != "payload" {
		t.Errorf("data = %v", rec.data)
	}
	if len(rec.windows) != 1 || rec.windows[0] != 1024 {
		t.Errorf("windows = %v", rec.windows)
	}
	if rec.pings != 1 {
		t.Errorf("pings = %d", rec.pings)
	}
	if len(rec.resets) != 1 || rec.resets[0] != ErrCodeCancel {
		t.Errorf("resets = %v", rec.resets)
	}
}

func TestFrameParserPartialFrameStaysBuffered(t *testing.T) {
	rec := &frameRecorder{}
	p := NewFrameParser(rec)
	frame := WriteDataFrame(1, true, []byte("abcdef"))

	n, err := p.Feed(frame[:7])
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if n != 0 {
		t.Errorf("consumed %d of a split frame, want 0", n)
	}
	n, err = p.Feed(frame)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if n != len(frame) || len(rec.data) != 1 {
		t.Errorf("consumed=%d data=%v", n, rec.data)
	}
}

func TestFrameParserHeadersPriority(t *testing.T) {
	rec := &frameRecorder{}
	p := NewFrameParser(rec)

	payload := []byte{0x80, 0x00, 0x00, 0x03, 0x0f} // exclusive dep on 3, weight 15
	payload = append(payload, "frag"...)
	frame := appendFrameHeader(nil, len(payload), FrameHeaders, FlagEndHeaders|FlagPriority, 5)
	frame = append(frame, payload...)

	if _, err := p.Feed(frame); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if rec.prio == nil || !rec.prio.Exclusive || rec.prio.Dependency != 3 || rec.prio.Weight != 15 {
		t.Errorf("priority = %+v", rec.prio)
	}
	if rec.headers[0] != "frag" {
		t.Errorf("fragment = %q", rec.headers[0])
	}
}

func TestFrameParserPadding(t *testing.T) {
	rec := &frameRecorder{}
	p := NewFrameParser(rec)

	payload := []byte{3}
	payload = append(payload, "body"...)
	payload = append(payload, 0, 0, 0)
	frame := appendFrameHeader(nil, len(payload), FrameData, FlagPadded|FlagEndStream, 1)
	frame = append(frame, payload...)

	if _, err := p.Feed(frame); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if rec.data[0] != "body" {
		t.Errorf("data = %q", rec.data[0])
	}
}

func TestFrameParserOversizeFrame(t *testing.T) {
	rec := &frameRecorder{}
	p := NewFrameParser(rec)
	frame := appendFrameHeader(nil, FrameSizeDefault+1, FrameData, 0, 1)
	if _, err := p.Feed(frame); err == nil {
		t.Fatal("oversize frame must fail")
	}
}
