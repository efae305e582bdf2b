package rfc5322

import (
	"strings"

	"github.com/gumdropmail/core/message"
)

// addrParser is a non-backtracking byte-buffer scanner in the style of the
// same cursor discipline as a recursive-descent SMTP address parser:
// set/next/peek over a byte slice, no
// regular expressions, no channels.
type addrParser struct {
	buf []byte
	pos int
	ch  byte
}

func (s *addrParser) set(input []byte) {
	s.buf = input
	s.pos = -1
	s.ch = 0
}

func (s *addrParser) next() byte {
	s.pos++
	if s.pos < len(s.buf) {
		s.ch = s.buf[s.pos]
		return s.ch
	}
	s.ch = 0
	return 0
}

func (s *addrParser) peek() byte {
	if s.pos+1 < len(s.buf) {
		return s.buf[s.pos+1]
	}
	return 0
}

func (s *addrParser) skipSpace() {
	for s.ch == ' ' || s.ch == '\t' || s.ch == '\r' || s.ch == '\n' {
		s.next()
	}
}

// ParseAddressList parses a comma-separated RFC 5322 address-list:
// `"Display Name" <local@domain>`, bare `local@domain`, permissive
// whitespace between tokens, and backslash escapes inside quoted
// display-names.
func ParseAddressList(input string) []message.Address {
	s := &addrParser{}
	s.set([]byte(input))
	s.next()
	var out []message.Address
	for {
		s.skipSpace()
		if s.ch == 0 {
			break
		}
		addr, ok := s.mailbox()
		if ok {
			out = append(out, addr)
		}
		s.skipSpace()
		if s.ch == ',' {
			s.next()
			continue
		}
		if s.ch == 0 {
			break
		}
		// Unexpected token: skip to next comma to stay resilient.
		for s.ch != 0 && s.ch != ',' {
			s.next()
		}
		if s.ch == ',' {
			s.next()
		}
	}
	return out
}

// mailbox parses one "name-addr" or "addr-spec" token.
func (s *addrParser) mailbox() (message.Address, bool) {
	var name string
	if s.ch == '"' || isAtomStart(s.ch) {
		start := s.pos
		name = s.displayNameOrAtoms()
		if s.ch == '<' {
			s.next()
			local, domain := s.addrSpec()
			s.skipSpace()
			if s.ch == '>' {
				s.next()
			}
			return message.Address{Name: unquote(name), Local: local, Domain: domain}, true
		}
		// Not angle-addr after all: rewind and treat the whole thing as
		// a bare addr-spec (local part may contain dots/atoms we already
		// consumed as "name").
		s.pos = start - 1
		s.next()
	}
	local, domain := s.addrSpec()
	if local == "" && domain == "" {
		return message.Address{}, false
	}
	return message.Address{Local: local, Domain: domain}, true
}

func isAtomStart(c byte) bool {
	return c != 0 && c != '<' && c != '>' && c != ',' && c != '@' && c != ' ' && c != '\t' && c != '\r' && c != '\n'
}

// displayNameOrAtoms consumes either a quoted string or a run of
// whitespace-separated atoms, returning the raw (still-quoted) text.
func (s *addrParser) displayNameOrAtoms() string {
	if s.ch == '"' {
		return s.quotedString()
	}
	start := s.pos
	for s.ch != 0 && s.ch != '<' && s.ch != ',' {
		s.next()
	}
	return strings.TrimSpace(string(s.buf[start:s.pos]))
}

// quotedString consumes a "..." quoted-string honoring backslash escapes,
// including the surrounding quotes in the returned text (unquote strips
// them later).
func (s *addrParser) quotedString() string {
	var b strings.Builder
	b.WriteByte('"')
	s.next() // skip opening quote
	for s.ch != 0 && s.ch != '"' {
		if s.ch == '\\' {
			s.next()
			if s.ch != 0 {
				b.WriteByte(s.ch)
				s.next()
			}
			continue
		}
		b.WriteByte(s.ch)
		s.next()
	}
	if s.ch == '"' {
		b.WriteByte('"')
		s.next()
	}
	s.skipSpace()
	return b.String()
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// addrSpec parses "local@domain", tolerating dotted/quoted local parts.
func (s *addrParser) addrSpec() (local, domain string) {
	s.skipSpace()
	var lb strings.Builder
	if s.ch == '"' {
		lb.WriteString(s.quotedString())
	} else {
		for s.ch != 0 && s.ch != '@' && s.ch != '>' && s.ch != ',' && s.ch != ' ' {
			lb.WriteByte(s.ch)
			s.next()
		}
	}
	local = unquote(lb.String())
	if s.ch == '@' {
		s.next()
		var db strings.Builder
		for s.ch != 0 && s.ch != '>' && s.ch != ',' && s.ch != ' ' && s.ch != '\t' {
			db.WriteByte(s.ch)
			s.next()
		}
		domain = db.String()
	}
	return local, domain
}
