// Package rfc2231 implements extended MIME parameter-value continuations
// and charset encoding, per RFC 2231:
//
//   name*=charset''pct-encoded          (single segment, charset-tagged)
//   name*N=segment                      (continuation, no charset)
//   name*N*=charset''pct-encoded        (continuation, first segment charset-tagged)
//
// Parameter names are case-folded; where both an RFC 2047 literal value and
// an RFC 2231 extended value are present for the same name, the first
// occurrence wins.
package rfc2231

import (
	"sort"
	"strconv"
	"strings"

	"github.com/gumdropmail/core/rfc2047"
)

// RawParam is one "name=value" or "name*N*=value" token as found on the
// wire, in the order it appeared.
type RawParam struct {
	Name  string // without the *N or * suffix
	Index int    // continuation index, 0 if not a continuation
	Extended bool // true if this segment used the *= / *N*= form
	Value string // raw (possibly percent-encoded) value, unquoted
}

// Decode assembles a list of RawParams (as found left-to-right on a
// Content-Type/Content-Disposition line) into a map of fully decoded
// parameter values, keyed by case-folded name.
func Decode(params []RawParam) map[string]string {
	type segGroup struct {
		charset  string
		hasChar  bool
		segments map[int]string
		extended map[int]bool
		plain    string
		hasPlain bool
		seen     bool
	}
	groups := make(map[string]*segGroup)
	order := []string{}

	for _, p := range params {
		key := strings.ToLower(p.Name)
		g, ok := groups[key]
		if !ok {
			g = &segGroup{segments: map[int]string{}, extended: map[int]bool{}}
			groups[key] = g
			order = append(order, key)
		}
		if p.Index == 0 {
			if _, taken := g.segments[0]; taken || g.hasPlain {
				continue // first occurrence wins, plain or extended
			}
		}
		if !p.Extended && p.Index == 0 && !g.hasPlain && len(g.segments) == 0 {
			g.plain = p.Value
			g.hasPlain = true
			g.seen = true
			continue
		}
		g.seen = true
		value := p.Value
		if p.Extended {
			g.extended[p.Index] = true
			if p.Index == 0 {
				if cs, pct, ok := splitCharsetTick(value); ok {
					g.charset = cs
					g.hasChar = true
					value = pct
				}
			}
		}
		g.segments[p.Index] = value
	}

	out := make(map[string]string, len(groups))
	for _, key := range order {
		g := groups[key]
		if len(g.segments) == 0 {
			out[key] = rfc2047.Decode(g.plain)
			continue
		}
		if g.hasPlain {
			g.segments[0] = g.plain
		}
		indices := make([]int, 0, len(g.segments))
		for idx := range g.segments {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		var b strings.Builder
		for _, idx := range indices {
			seg := g.segments[idx]
			if g.extended[idx] {
				b.WriteString(percentDecode(seg))
			} else {
				b.WriteString(seg)
			}
		}
		decoded := b.String()
		if g.hasChar {
			decoded = charsetConvert(g.charset, decoded)
		}
		out[key] = decoded
	}
	return out
}

// splitCharsetTick splits "charset''pct-encoded" into its two halves.
func splitCharsetTick(s string) (charset, rest string, ok bool) {
	i := strings.Index(s, "''")
	if i < 0 {
		return "", s, false
	}
	return s[:i], s[i+2:], true
}

func percentDecode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			v, _ := strconv.ParseUint(s[i+1:i+3], 16, 8)
			b.WriteByte(byte(v))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

// charsetConvert reinterprets raw percent-decoded bytes (already collected
// as a Go string of raw bytes) as the named charset, delegating to
// rfc2047's charset table for anything beyond UTF-8/ISO-8859-1.
func charsetConvert(charset, raw string) string {
	// Route through rfc2047's charset machinery via DecodeRawBytes; this
	// keeps exactly one charset table in the
	// codebase instead of two copies of the UTF-8/ISO-8859-1/CharsetReader
	// fallback logic.
	return rfc2047.DecodeRawBytes(charset, []byte(raw))
}
