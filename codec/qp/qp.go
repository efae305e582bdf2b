// Package qp implements the streaming quoted-printable decoder from
// RFC 2045: it recognizes =HH hex escapes and soft line breaks (=CRLF,
// =LF), and leaves a trailing bare '=' unconsumed unless it is end of stream.
package qp

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'F') || (b >= 'a' && b <= 'f')
}

func unhex(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10
	default:
		return b - 'a' + 10
	}
}

// Decoder is stateless between calls; all resumability in this codec comes
// from the caller re-presenting unconsumed trailing bytes, per the
// same four-argument contract as codec/base64.
type Decoder struct{}

// Decode consumes bytes from src, writing decoded bytes into dst starting at
// dstPos, capped at maxDecode bytes written, and returns the number of
// source bytes consumed. An '=' at the very end of src without its two
// following hex digits (or newline) is left unconsumed unless endOfStream is
// set, in which case it is passed through literally.
func (Decoder) Decode(src []byte, dst []byte, dstPos int, maxDecode int, endOfStream bool) (consumed int, written int) {
	i := 0
	for i < len(src) && written < maxDecode {
		c := src[i]
		if c != '=' {
			dst[dstPos+written] = c
			written++
			i++
			continue
		}
		// c == '='
		rem := len(src) - i
		if rem == 1 {
			if endOfStream {
				dst[dstPos+written] = '='
				written++
				i++
				continue
			}
			break // need the next byte to know what this '=' means
		}
		if src[i+1] == '\n' {
			i += 2 // =LF soft line break: no output
			continue
		}
		if src[i+1] == '\r' {
			if rem == 2 {
				if endOfStream {
					dst[dstPos+written] = '='
					written++
					i++
					continue
				}
				break // might be the start of =CRLF, need one more byte
			}
			if src[i+2] == '\n' {
				i += 3 // =CRLF soft line break: no output
				continue
			}
			// '=' followed by bare CR not part of a break: emit literally.
			dst[dstPos+written] = '='
			written++
			i++
			continue
		}
		if rem == 2 {
			if isHex(src[i+1]) && !endOfStream {
				break // need the second hex digit
			}
			if endOfStream {
				dst[dstPos+written] = '='
				written++
				i++
				continue
			}
			break
		}
		if isHex(src[i+1]) && isHex(src[i+2]) {
			dst[dstPos+written] = unhex(src[i+1])<<4 | unhex(src[i+2])
			written++
			i += 3
			continue
		}
		// Malformed escape: pass the '=' through literally.
		dst[dstPos+written] = '='
		written++
		i++
	}
	return i, written
}

// DecodeAll is a convenience one-shot wrapper.
func DecodeAll(src []byte) []byte {
	dst := make([]byte, len(src))
	var d Decoder
	_, w := d.Decode(src, dst, 0, len(dst), true)
	return dst[:w]
}
