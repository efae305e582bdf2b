// Package mimepart is the push-parser for MIME entities. Bytes are Fed in
// arbitrary-sized chunks; the parser never blocks and never calls the
// handler after an error. Partial input that doesn't yet form a complete
// header section or a complete child entity is buffered internally rather
// than processed byte-by-byte, which keeps the boundary-matching logic
// simple and non-backtracking at the entity level.
//
// Content-Transfer-Encoding is recognized but left undecoded here: the
// caller feeds body_content chunks through codec/base64 or codec/qp.
package mimepart

import (
	"bytes"
	"errors"
	"fmt"
	"net/textproto"
	"strings"
)

// Handler receives events as the parser recognizes them. All slices passed
// to a Handler are only valid for the duration of the call.
type Handler interface {
	StartEntity(boundary string)
	ContentType(superType, subType string, params map[string]string)
	ContentDisposition(disposition string, params map[string]string)
	ContentTransferEncoding(enc string)
	ContentID(id string)
	ContentDescription(desc string)
	MIMEVersion(v string)
	GenericHeader(name, value string)
	EndHeaders()
	BodyContent(chunk []byte)
	UnexpectedContent(chunk []byte)
	EndEntity(boundary string)
}

// ParseError is the kind-tagged parse failure raised by this parser.
type ParseError struct {
	Msg    string
	Offset int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mimepart: parse error at byte %d: %s", e.Offset, e.Msg)
}

// Parser accumulates fed bytes and, once EndOfStream is signaled (a full
// message is always bounded — either by a parent boundary or true EOF),
// walks the MIME entity tree, calling back into a Handler.
type Parser struct {
	buf []byte
	h   Handler
}

func New(h Handler) *Parser {
	return &Parser{h: h}
}

// Feed appends data to the internal buffer and returns the number of bytes
// consumed (always len(data): the parser always takes ownership of a copy).
// Parsing — and Handler callbacks — only happen once endOfStream is true,
// since a MIME entity's boundary is only knowable once it has been closed.
func (p *Parser) Feed(data []byte, endOfStream bool) (consumed int, err error) {
	p.buf = append(p.buf, data...)
	consumed = len(data)
	if !endOfStream {
		return consumed, nil
	}
	err = p.parseTopLevel()
	return consumed, err
}

func (p *Parser) parseTopLevel() error {
	return parseEntity(p.buf, "1", p.h)
}

// parseEntity parses one MIME entity (headers + body) starting at buf[0],
// which must begin at the first header line (not a boundary line). node is
// the dotted path used to name this entity in the logical tree.
func parseEntity(buf []byte, node string, h Handler) error {
	h.StartEntity(node)
	headers, body, err := splitHeaders(buf)
	if err != nil {
		return err
	}
	ct, ctParams, cd, cdParams, cte, cid, cdesc, mver, genericErr := emitHeaders(headers, h)
	if genericErr != nil {
		return genericErr
	}
	h.EndHeaders()
	_ = cte
	_ = cid
	_ = cdesc
	_ = mver
	_ = cd
	_ = cdParams

	superType, subType := "text", "plain"
	_ = subType
	if ct != "" {
		parts := strings.SplitN(ct, "/", 2)
		superType = strings.ToLower(strings.TrimSpace(parts[0]))
		if len(parts) == 2 {
			subType = strings.ToLower(strings.TrimSpace(parts[1]))
		}
	}

	if superType == "multipart" {
		boundary := ctParams["boundary"]
		if boundary == "" {
			return &ParseError{Msg: "multipart entity missing boundary parameter"}
		}
		if err := parseMultipartBody(body, boundary, node, h); err != nil {
			return err
		}
		h.EndEntity(node)
		return nil
	}

	if len(body) > 0 {
		h.BodyContent(body)
	}
	h.EndEntity(node)
	return nil
}

// parseMultipartBody splits body on "--boundary" delimiter lines and
// recursively parses each child part, per RFC 2046.
func parseMultipartBody(body []byte, boundary, parentNode string, h Handler) error {
	delim := []byte("--" + boundary)
	// Preamble: everything before the first delimiter line is ignored text.
	first := bytes.Index(body, delim)
	if first < 0 {
		return &ParseError{Msg: "boundary not found in multipart body"}
	}
	rest := body[first:]
	childIdx := 0
	for {
		line, after, ok := consumeLine(rest, delim)
		if !ok {
			return &ParseError{Msg: "malformed boundary line"}
		}
		if isFinalBoundary(line, delim) {
			return nil
		}
		// Find the next boundary line to know where this child's content ends.
		next := bytes.Index(after, delim)
		var childBytes []byte
		if next < 0 {
			return &ParseError{Msg: "unterminated multipart: missing closing boundary"}
		}
		childBytes = trimTrailingCRLF(after[:next])
		childIdx++
		childNode := fmt.Sprintf("%s.%d", parentNode, childIdx)
		if err := parseEntity(childBytes, childNode, h); err != nil {
			return err
		}
		rest = after[next:]
	}
}

func trimTrailingCRLF(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	b = bytes.TrimSuffix(b, []byte("\r"))
	return b
}

// consumeLine validates that rest begins with delim, and returns the full
// boundary line (including possible trailing "--" and CRLF) plus the
// remainder of rest after that line.
func consumeLine(rest []byte, delim []byte) (line []byte, after []byte, ok bool) {
	if !bytes.HasPrefix(rest, delim) {
		return nil, nil, false
	}
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 {
		return rest, nil, true
	}
	return rest[:nl+1], rest[nl+1:], true
}

func isFinalBoundary(line []byte, delim []byte) bool {
	trimmed := bytes.TrimRight(line, "\r\n")
	return bytes.Equal(trimmed, append(append([]byte{}, delim...), '-', '-'))
}

// splitHeaders separates the RFC 822 header block (terminated by the first
// empty line) from the body that follows, with net/textproto.MIMEHeader as
// the storage shape.
func splitHeaders(buf []byte) (headers textproto.MIMEHeader, body []byte, err error) {
	idx := findHeaderEnd(buf)
	headerBytes := buf
	if idx >= 0 {
		headerBytes = buf[:idx]
		body = buf[headerEndOffset(buf, idx):]
	}
	headers, err = parseHeaderBlock(headerBytes)
	return headers, body, err
}

// findHeaderEnd returns the index of the blank-line header terminator
// ("\n\n" or "\r\n\r\n"), or -1 if the whole buffer is headers (no body).
func findHeaderEnd(buf []byte) int {
	if i := bytes.Index(buf, []byte("\r\n\r\n")); i >= 0 {
		return i
	}
	if i := bytes.Index(buf, []byte("\n\n")); i >= 0 {
		return i
	}
	return -1
}

func headerEndOffset(buf []byte, idx int) int {
	if idx+4 <= len(buf) && string(buf[idx:idx+4]) == "\r\n\r\n" {
		return idx + 4
	}
	return idx + 2
}

// parseHeaderBlock unfolds continuation lines and splits "Name: value"
// pairs, normalizing header names to canonical MIME case
// (Content-Type, not content-type).
func parseHeaderBlock(raw []byte) (textproto.MIMEHeader, error) {
	h := make(textproto.MIMEHeader)
	unfolded := unfold(raw)
	lines := strings.Split(unfolded, "\n")
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, &ParseError{Msg: "header line missing colon: " + line}
		}
		name := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(line[:colon]))
		value := strings.TrimSpace(line[colon+1:])
		h.Add(name, value)
	}
	return h, nil
}

// unfold joins folded header continuation lines (a line starting with SP
// or HTAB belongs to the previous header).
func unfold(raw []byte) string {
	var b strings.Builder
	lines := strings.Split(string(raw), "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if i > 0 && len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\t') {
			b.WriteByte(' ')
			b.WriteString(strings.TrimSpace(trimmed))
			continue
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(trimmed)
	}
	return b.String()
}

func emitHeaders(h textproto.MIMEHeader, handler Handler) (ct string, ctParams map[string]string, cd string, cdParams map[string]string, cte, cid, cdesc, mver string, err error) {
	ctParams = map[string]string{}
	cdParams = map[string]string{}
	for name, values := range h {
		for _, value := range values {
			switch name {
			case "Content-Type":
				ct, ctParams = parseStructuredHeader(value)
				parts := strings.SplitN(ct, "/", 2)
				super, sub := "text", "plain"
				super = strings.ToLower(strings.TrimSpace(parts[0]))
				if len(parts) == 2 {
					sub = strings.ToLower(strings.TrimSpace(parts[1]))
				}
				handler.ContentType(super, sub, ctParams)
			case "Content-Disposition":
				cd, cdParams = parseStructuredHeader(value)
				handler.ContentDisposition(cd, cdParams)
			case "Content-Transfer-Encoding":
				cte = strings.ToLower(strings.TrimSpace(value))
				handler.ContentTransferEncoding(cte)
			case "Content-Id":
				cid = value
				handler.ContentID(cid)
			case "Content-Description":
				cdesc = value
				handler.ContentDescription(cdesc)
			case "Mime-Version":
				mver = value
				handler.MIMEVersion(mver)
			default:
				handler.GenericHeader(name, value)
			}
		}
	}
	return
}

// parseStructuredHeader splits "value; k=v; k2=v2" into its primary token
// and a map of unescaped parameter values. Extended (RFC 2231) parameters
// are left for the caller (e.g. rfc5322) to assemble via rfc2231.Decode if
// it needs the raw segments; here params values are taken at face value
// with surrounding quotes stripped.
func parseStructuredHeader(value string) (string, map[string]string) {
	params := map[string]string{}
	segs := splitHeaderParams(value)
	if len(segs) == 0 {
		return "", params
	}
	primary := strings.TrimSpace(segs[0])
	for _, seg := range segs[1:] {
		seg = strings.TrimSpace(seg)
		eq := strings.IndexByte(seg, '=')
		if eq < 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(seg[:eq]))
		name = strings.TrimSuffix(name, "*")
		val := strings.TrimSpace(seg[eq+1:])
		val = strings.Trim(val, "\"")
		params[name] = val
	}
	return primary, params
}

// splitHeaderParams splits on ';' while respecting double-quoted segments.
func splitHeaderParams(value string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == ';' && !inQuotes:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	out = append(out, cur.String())
	return out
}

var errNotMultipart = errors.New("mimepart: not a multipart entity")
