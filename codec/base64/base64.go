// Package base64 implements the streaming Content-Transfer-Encoding base64
// decoder: table-driven, whitespace-tolerant,
// resumable across arbitrary chunk boundaries.
package base64

// table maps an ASCII byte to its 6-bit value, or -1 if it is not part of
// the standard base64 alphabet.
var table [256]int8

func init() {
	for i := range table {
		table[i] = -1
	}
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	for i := 0; i < len(alphabet); i++ {
		table[alphabet[i]] = int8(i)
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// Decoder holds the partially-accumulated quantum between Decode calls.
type Decoder struct {
	quantum [4]byte
	n       int // number of valid bytes currently in quantum
	done    bool
}

// Decode consumes bytes from src, writing decoded bytes to dst starting at
// dstPos, and returns the number of source bytes consumed. It writes at most
// maxDecode destination bytes, stopping before a quantum whose output would
// not fit. Whitespace in src is skipped. Characters of an incomplete quantum
// are held inside the Decoder and counted as consumed; they are not left in
// src. When endOfStream is set and all of src has been taken, a short final
// quantum (2 or 3 chars) is flushed as if padded with '='.
//
// dst must have at least dstPos+maxDecode capacity; Decode returns the
// number of bytes it wrote via written.
func (d *Decoder) Decode(src []byte, dst []byte, dstPos int, maxDecode int, endOfStream bool) (consumed int, written int) {
	if d.done {
		return 0, 0
	}
	i := 0
	for i < len(src) {
		// Stop before a quantum whose 3 output bytes would not fit.
		if written >= maxDecode || (d.n == 3 && written+3 > maxDecode) {
			break
		}
		c := src[i]
		if isSpace(c) {
			i++
			continue
		}
		if c == '=' {
			d.quantum[d.n] = '='
			d.n++
			i++
			if d.n == 4 {
				w := d.flush(dst, dstPos+written)
				written += w
				d.n = 0
				d.done = true
				break
			}
			continue
		}
		v := table[c]
		if v < 0 {
			// Not part of the alphabet and not whitespace or '=': skip it
			// silently, matching permissive real-world decoders.
			i++
			continue
		}
		d.quantum[d.n] = c
		d.n++
		i++
		if d.n == 4 {
			w := d.flush(dst, dstPos+written)
			written += w
			d.n = 0
		}
	}
	if endOfStream && i == len(src) && d.n > 0 && !d.done && written+2 <= maxDecode {
		w := d.flushPartial(dst, dstPos+written)
		written += w
		d.n = 0
		d.done = true
	}
	return i, written
}

// flush decodes a complete 4-character quantum (possibly with trailing '='
// padding) into dst, returning the number of bytes written (1, 2, or 3).
func (d *Decoder) flush(dst []byte, at int) int {
	var pad int
	for _, c := range d.quantum {
		if c == '=' {
			pad++
		}
	}
	v := uint32(0)
	for _, c := range d.quantum {
		var x uint32
		if c != '=' {
			x = uint32(table[c])
		}
		v = v<<6 | x
	}
	switch pad {
	case 0:
		dst[at] = byte(v >> 16)
		dst[at+1] = byte(v >> 8)
		dst[at+2] = byte(v)
		return 3
	case 1:
		dst[at] = byte(v >> 16)
		dst[at+1] = byte(v >> 8)
		return 2
	default:
		dst[at] = byte(v >> 16)
		return 1
	}
}

// flushPartial decodes a short (2 or 3 byte) trailing quantum at end of
// stream, as if it had been padded with '='.
func (d *Decoder) flushPartial(dst []byte, at int) int {
	for i := d.n; i < 4; i++ {
		d.quantum[i] = '='
	}
	return d.flush(dst, at)
}

// DecodeAll is a convenience one-shot wrapper for callers that have the
// whole stream in memory already.
func DecodeAll(src []byte) []byte {
	dst := make([]byte, len(src))
	d := &Decoder{}
	_, written := d.Decode(src, dst, 0, len(dst), true)
	return dst[:written]
}
