package httpc

import (
	"encoding/binary"

	"github.com/gumdropmail/core/store"
)

// Frame types.
const (
	FrameData         = 0x0
	FrameHeaders      = 0x1
	FramePriority     = 0x2
	FrameRSTStream    = 0x3
	FrameSettings     = 0x4
	FramePushPromise  = 0x5
	FramePing         = 0x6
	FrameGoaway       = 0x7
	FrameWindowUpdate = 0x8
	FrameContinuation = 0x9
)

// Frame flags.
const (
	FlagEndStream  = 0x1
	FlagAck        = 0x1
	FlagEndHeaders = 0x4
	FlagPadded     = 0x8
	FlagPriority   = 0x20
)

// Error codes, in wire order.
const (
	ErrCodeNoError            = 0x0
	ErrCodeProtocol           = 0x1
	ErrCodeInternal           = 0x2
	ErrCodeFlowControl        = 0x3
	ErrCodeSettingsTimeout    = 0x4
	ErrCodeStreamClosed       = 0x5
	ErrCodeFrameSize          = 0x6
	ErrCodeRefusedStream      = 0x7
	ErrCodeCancel             = 0x8
	ErrCodeCompression        = 0x9
	ErrCodeConnect            = 0xa
	ErrCodeEnhanceYourCalm    = 0xb
	ErrCodeInadequateSecurity = 0xc
	ErrCodeHTTP11Required     = 0xd
)

// Settings identifiers.
const (
	SettingHeaderTableSize      = 0x1
	SettingEnablePush           = 0x2
	SettingMaxConcurrentStreams = 0x3
	SettingInitialWindowSize    = 0x4
	SettingMaxFrameSize         = 0x5
	SettingMaxHeaderListSize    = 0x6
)

// Frame-size limits.
const (
	FrameSizeDefault = 16384
	FrameSizeMin     = 16384
	FrameSizeMax     = 16_777_215
)

const frameHeaderLen = 9

// clientPreface opens every HTTP/2 client connection.
const clientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// Priority carries a HEADERS frame's optional priority fields.
type Priority struct {
	Exclusive  bool
	Dependency uint32
	Weight     uint8
}

// Setting is one SETTINGS parameter.
type Setting struct {
	ID    uint16
	Value uint32
}

// FrameHandler receives one typed event per recognized frame. Payload
// slices are valid only for the duration of the call; the caller assembles
// HEADERS+CONTINUATION spans itself.
type FrameHandler interface {
	Data(streamID uint32, endStream bool, payload []byte)
	Headers(streamID uint32, endStream, endHeaders bool, prio *Priority, fragment []byte)
	PriorityFrame(streamID uint32, prio Priority)
	RSTStream(streamID uint32, errCode uint32)
	Settings(ack bool, settings []Setting)
	PushPromise(streamID, promisedID uint32, endHeaders bool, fragment []byte)
	Ping(ack bool, data [8]byte)
	Goaway(lastStreamID uint32, errCode uint32, debug []byte)
	WindowUpdate(streamID uint32, increment uint32)
	Continuation(streamID uint32, endHeaders bool, fragment []byte)
}

// FrameParser is the HTTP/2 frame-layer push parser. Whole frames only are
// consumed; a frame split across reads stays in the caller's buffer.
type FrameParser struct {
	h            FrameHandler
	maxFrameSize uint32
}

func NewFrameParser(h FrameHandler) *FrameParser {
	return &FrameParser{h: h, maxFrameSize: FrameSizeDefault}
}

// SetMaxFrameSize applies the peer-advertised SETTINGS_MAX_FRAME_SIZE.
func (p *FrameParser) SetMaxFrameSize(size uint32) {
	if size >= FrameSizeMin && size <= FrameSizeMax {
		p.maxFrameSize = size
	}
}

// Feed consumes as many complete frames as data holds and returns the
// byte count taken.
func (p *FrameParser) Feed(data []byte) (int, error) {
	consumed := 0
	for {
		if len(data)-consumed < frameHeaderLen {
			return consumed, nil
		}
		hdr := data[consumed:]
		length := int(hdr[0])<<16 | int(hdr[1])<<8 | int(hdr[2])
		if uint32(length) > p.maxFrameSize {
			return consumed, &store.ProtocolError{Msg: "h2: frame exceeds max frame size"}
		}
		if len(data)-consumed < frameHeaderLen+length {
			return consumed, nil
		}
		ftype := hdr[3]
		flags := hdr[4]
		streamID := binary.BigEndian.Uint32(hdr[5:9]) & 0x7fffffff
		payload := hdr[frameHeaderLen : frameHeaderLen+length]
		if err := p.dispatch(ftype, flags, streamID, payload); err != nil {
			return consumed, err
		}
		consumed += frameHeaderLen + length
	}
}

func (p *FrameParser) dispatch(ftype, flags byte, streamID uint32, payload []byte) error {
	switch ftype {
	case FrameData:
		body, err := stripPadding(payload, flags)
		if err != nil {
			return err
		}
		p.h.Data(streamID, flags&FlagEndStream != 0, body)

	case FrameHeaders:
		body, err := stripPadding(payload, flags)
		if err != nil {
			return err
		}
		var prio *Priority
		if flags&FlagPriority != 0 {
			if len(body) < 5 {
				return &store.ProtocolError{Msg: "h2: HEADERS priority fields truncated"}
			}
			dep := binary.BigEndian.Uint32(body[0:4])
			prio = &Priority{
				Exclusive:  dep&0x80000000 != 0,
				Dependency: dep & 0x7fffffff,
				Weight:     body[4],
			}
			body = body[5:]
		}
		p.h.Headers(streamID, flags&FlagEndStream != 0, flags&FlagEndHeaders != 0, prio, body)

	case FramePriority:
		if len(payload) != 5 {
			return &store.ProtocolError{Msg: "h2: PRIORITY frame wrong length"}
		}
		dep := binary.BigEndian.Uint32(payload[0:4])
		p.h.PriorityFrame(streamID, Priority{
			Exclusive:  dep&0x80000000 != 0,
			Dependency: dep & 0x7fffffff,
			Weight:     payload[4],
		})

	case FrameRSTStream:
		if len(payload) != 4 {
			return &store.ProtocolError{Msg: "h2: RST_STREAM frame wrong length"}
		}
		p.h.RSTStream(streamID, binary.BigEndian.Uint32(payload))

	case FrameSettings:
		if flags&FlagAck != 0 {
			if len(payload) != 0 {
				return &store.ProtocolError{Msg: "h2: SETTINGS ack with payload"}
			}
			p.h.Settings(true, nil)
			return nil
		}
		if len(payload)%6 != 0 {
			return &store.ProtocolError{Msg: "h2: SETTINGS payload not a multiple of 6"}
		}
		settings := make([]Setting, 0, len(payload)/6)
		for i := 0; i < len(payload); i += 6 {
			settings = append(settings, Setting{
				ID:    binary.BigEndian.Uint16(payload[i : i+2]),
				Value: binary.BigEndian.Uint32(payload[i+2 : i+6]),
			})
		}
		p.h.Settings(false, settings)

	case FramePushPromise:
		body, err := stripPadding(payload, flags)
		if err != nil {
			return err
		}
		if len(body) < 4 {
			return &store.ProtocolError{Msg: "h2: PUSH_PROMISE frame truncated"}
		}
		promised := binary.BigEndian.Uint32(body[0:4]) & 0x7fffffff
		p.h.PushPromise(streamID, promised, flags&FlagEndHeaders != 0, body[4:])

	case FramePing:
		if len(payload) != 8 {
			return &store.ProtocolError{Msg: "h2: PING frame wrong length"}
		}
		var data [8]byte
		copy(data[:], payload)
		p.h.Ping(flags&FlagAck != 0, data)

	case FrameGoaway:
		if len(payload) < 8 {
			return &store.ProtocolError{Msg: "h2: GOAWAY frame truncated"}
		}
		last := binary.BigEndian.Uint32(payload[0:4]) & 0x7fffffff
		code := binary.BigEndian.Uint32(payload[4:8])
		p.h.Goaway(last, code, payload[8:])

	case FrameWindowUpdate:
		if len(payload) != 4 {
			return &store.ProtocolError{Msg: "h2: WINDOW_UPDATE frame wrong length"}
		}
		inc := binary.BigEndian.Uint32(payload) & 0x7fffffff
		p.h.WindowUpdate(streamID, inc)

	case FrameContinuation:
		p.h.Continuation(streamID, flags&FlagEndHeaders != 0, payload)

	default:
		// Unknown frame types are ignored so extensions pass through.
	}
	return nil
}

func stripPadding(payload []byte, flags byte) ([]byte, error) {
	if flags&FlagPadded == 0 {
		return payload, nil
	}
	if len(payload) < 1 {
		return nil, &store.ProtocolError{Msg: "h2: padded frame missing pad length"}
	}
	pad := int(payload[0])
	body := payload[1:]
	if pad > len(body) {
		return nil, &store.ProtocolError{Msg: "h2: pad length exceeds payload"}
	}
	return body[:len(body)-pad], nil
}

// appendFrameHeader writes the 9-byte frame header.
func appendFrameHeader(out []byte, length int, ftype, flags byte, streamID uint32) []byte {
	out = append(out, byte(length>>16), byte(length>>8), byte(length))
	out = append(out, ftype, flags)
	var sid [4]byte
	binary.BigEndian.PutUint32(sid[:], streamID&0x7fffffff)
	return append(out, sid[:]...)
}

// WriteSettingsFrame renders a SETTINGS frame (or its ack).
func WriteSettingsFrame(ack bool, settings []Setting) []byte {
	var flags byte
	if ack {
		flags = FlagAck
	}
	out := appendFrameHeader(nil, len(settings)*6, FrameSettings, flags, 0)
	for _, s := range settings {
		var buf [6]byte
		binary.BigEndian.PutUint16(buf[0:2], s.ID)
		binary.BigEndian.PutUint32(buf[2:6], s.Value)
		out = append(out, buf[:]...)
	}
	return out
}

// WriteHeadersFrame renders a HEADERS frame carrying one complete header
// block fragment (callers this module produces never need CONTINUATION).
func WriteHeadersFrame(streamID uint32, endStream bool, block []byte) []byte {
	flags := byte(FlagEndHeaders)
	if endStream {
		flags |= FlagEndStream
	}
	out := appendFrameHeader(nil, len(block), FrameHeaders, flags, streamID)
	return append(out, block...)
}

// WriteDataFrame renders a DATA frame.
func WriteDataFrame(streamID uint32, endStream bool, data []byte) []byte {
	var flags byte
	if endStream {
		flags = FlagEndStream
	}
	out := appendFrameHeader(nil, len(data), FrameData, flags, streamID)
	return append(out, data...)
}

// WriteWindowUpdateFrame renders a WINDOW_UPDATE increment.
func WriteWindowUpdateFrame(streamID uint32, increment uint32) []byte {
	out := appendFrameHeader(nil, 4, FrameWindowUpdate, 0, streamID)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], increment&0x7fffffff)
	return append(out, buf[:]...)
}

// WritePingFrame renders a PING (or its ack).
func WritePingFrame(ack bool, data [8]byte) []byte {
	var flags byte
	if ack {
		flags = FlagAck
	}
	out := appendFrameHeader(nil, 8, FramePing, flags, 0)
	return append(out, data[:]...)
}

// WriteGoawayFrame renders a GOAWAY.
func WriteGoawayFrame(lastStreamID, errCode uint32) []byte {
	out := appendFrameHeader(nil, 8, FrameGoaway, 0, 0)
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], lastStreamID&0x7fffffff)
	binary.BigEndian.PutUint32(buf[4:8], errCode)
	return append(out, buf[:]...)
}

// WriteRSTStreamFrame renders an RST_STREAM.
func WriteRSTStreamFrame(streamID, errCode uint32) []byte {
	out := appendFrameHeader(nil, 4, FrameRSTStream, 0, streamID)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], errCode)
	return append(out, buf[:]...)
}
