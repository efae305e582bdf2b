package rfc5322

import "strings"

// ParseMessageID extracts the local/domain halves of a single msg-id token
// such as "<id@host>", first stripping RFC 822 comments. Comments are
// `(...)`-delimited, may nest, and may contain backslash-escaped
// parentheses, per RFC 5322 comment syntax.
func ParseMessageID(raw string) (local, domain string, ok bool) {
	stripped := stripComments(raw)
	stripped = strings.TrimSpace(stripped)
	stripped = strings.TrimPrefix(stripped, "<")
	stripped = strings.TrimSuffix(stripped, ">")
	at := strings.IndexByte(stripped, '@')
	if at < 0 {
		if stripped == "" {
			return "", "", false
		}
		return stripped, "", true
	}
	return stripped[:at], stripped[at+1:], true
}

// stripComments removes all top-level and nested `(...)` comments from s,
// honoring backslash escapes inside them.
func stripComments(s string) string {
	var b strings.Builder
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && depth > 0 && i+1 < len(s) {
			i++
			continue
		}
		switch {
		case c == '(':
			depth++
		case c == ')' && depth > 0:
			depth--
		case depth == 0:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ParseMessageIDList strips comments from a References/In-Reply-To style
// header value first, so angle brackets inside a comment start no token,
// then splits it into its msg-id tokens (each still in "<...>" form).
func ParseMessageIDList(raw string) []string {
	stripped := stripComments(raw)
	var out []string
	var cur strings.Builder
	inAngle := false
	for i := 0; i < len(stripped); i++ {
		c := stripped[i]
		switch c {
		case '<':
			inAngle = true
			cur.WriteByte(c)
		case '>':
			cur.WriteByte(c)
			inAngle = false
			out = append(out, cur.String())
			cur.Reset()
		default:
			if inAngle {
				cur.WriteByte(c)
			}
		}
	}
	return out
}
