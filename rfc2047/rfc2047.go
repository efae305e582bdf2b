// Package rfc2047 decodes MIME encoded-words (=?charset?B?...?= and
// =?charset?Q?...?=) found in unstructured header text and parameter
// values.
package rfc2047

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/ianaindex"

	"github.com/gumdropmail/core/codec/base64"
	"github.com/gumdropmail/core/codec/qp"
)

// CharsetReader converts bytes in the named charset to UTF-8. Packages that
// can resolve more charsets than UTF-8/ISO-8859-1 register themselves here
// via a side-effect import (see internal/charset).
var CharsetReader func(charset string, input io.Reader) (io.Reader, error)

// Decode scans s for RFC 2047 encoded-words and replaces each with its
// decoded text, leaving everything else untouched. Adjacent encoded-words
// separated only by folding whitespace are concatenated without the
// whitespace between them, per RFC 2047 §6.2.
func Decode(s string) string {
	var out strings.Builder
	i := 0
	lastWasWord := false
	for i < len(s) {
		start := strings.Index(s[i:], "=?")
		if start < 0 {
			out.WriteString(s[i:])
			break
		}
		start += i
		if start > i {
			between := s[i:start]
			if lastWasWord && isAllSpace(between) {
				// drop inter-word whitespace
			} else {
				out.WriteString(between)
			}
		}
		word, end, ok := decodeOneWord(s[start:])
		if !ok {
			out.WriteString(s[start : start+2])
			i = start + 2
			lastWasWord = false
			continue
		}
		out.WriteString(word)
		i = start + end
		lastWasWord = true
	}
	return out.String()
}

func isAllSpace(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\r' && r != '\n' {
			return false
		}
	}
	return true
}

// decodeOneWord decodes a single "=?charset?enc?text?=" token found at the
// start of s, returning the decoded text, the byte length consumed, and
// whether a well-formed token was found at all.
func decodeOneWord(s string) (decoded string, n int, ok bool) {
	if !strings.HasPrefix(s, "=?") {
		return "", 0, false
	}
	rest := s[2:]
	p1 := strings.IndexByte(rest, '?')
	if p1 < 0 {
		return "", 0, false
	}
	charset := rest[:p1]
	rest = rest[p1+1:]
	if len(rest) < 2 || rest[1] != '?' {
		return "", 0, false
	}
	enc := rest[0]
	rest = rest[2:]
	p2 := strings.Index(rest, "?=")
	if p2 < 0 {
		return "", 0, false
	}
	text := rest[:p2]
	total := 2 + len(charset) + 1 + 1 + 1 + p2 + 2
	var raw []byte
	switch enc {
	case 'B', 'b':
		raw = base64.DecodeAll([]byte(text))
	case 'Q', 'q':
		raw = qp.DecodeAll([]byte(qUnderscore(text)))
	default:
		return "", 0, false
	}
	return toUTF8(charset, raw), total, true
}

func qUnderscore(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

// DecodeRawBytes interprets raw as the named charset and returns UTF-8 text.
// It is the same charset table Decode uses internally for encoded-words,
// exposed for callers (like rfc2231) that already have raw decoded bytes
// and a charset name from a different wire encoding.
func DecodeRawBytes(charset string, raw []byte) string {
	return toUTF8(charset, raw)
}

// toUTF8 interprets raw bytes as the named charset (case-insensitive) and
// returns UTF-8 text. UTF-8 (read as ISO-8859-1 when the bytes are not valid
// UTF-8), ISO-8859-1 and US-ASCII are handled directly; others go through
// CharsetReader if registered, then the IANA index, else UTF-8-lossy.
func toUTF8(charset string, raw []byte) string {
	cs := strings.ToLower(charset)
	switch cs {
	case "utf-8", "utf8", "":
		if utf8.Valid(raw) {
			return string(raw)
		}
		return toISOLatin1(raw)
	case "iso-8859-1", "latin1", "us-ascii", "ascii":
		return toISOLatin1(raw)
	}
	if CharsetReader != nil {
		if r, err := CharsetReader(cs, bytes.NewReader(raw)); err == nil {
			if out, err := io.ReadAll(r); err == nil {
				return string(out)
			}
		}
	}
	// Without a registered backend, the IANA index still resolves the
	// common single-byte charsets (windows-1252 and friends).
	if enc, err := ianaindex.MIME.Encoding(cs); err == nil && enc != nil {
		if out, err := enc.NewDecoder().Bytes(raw); err == nil {
			return string(out)
		}
	}
	return strings.ToValidUTF8(string(raw), "�")
}

// toISOLatin1 maps ISO-8859-1 bytes to UTF-8 one byte at a time: one byte is
// one code point for this charset, so no data is lost even for bytes in the
// 0x80-0xFF range.
func toISOLatin1(raw []byte) string {
	r := make([]rune, len(raw))
	for i, b := range raw {
		r[i] = rune(b)
	}
	return string(r)
}
