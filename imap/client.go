// Package imap is the IMAP4rev1 adapter: a persistent authenticated
// session behind an idle timer, exposed through the Store/Folder facade.
// UID-keyed indexes are cached per mailbox and invalidated whenever the
// server reports a changed UIDVALIDITY.
package imap

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/gumdropmail/core/internal/lineproto"
	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/sasl"
	"github.com/gumdropmail/core/store"
)

// client owns the tag counter and the line-level request/response exchange
// for one session.
type client struct {
	conn *lineproto.Conn
	lg   log.Logger
	tag  int
}

// response is one completed tagged command: the untagged lines that
// preceded it plus the tagged status.
type response struct {
	untagged []string
	status   string // OK / NO / BAD
	text     string
}

func (c *client) nextTag() string {
	c.tag++
	return fmt.Sprintf("a%03d", c.tag)
}

// command sends one tagged command and collects its response. Lines ending
// in an {n} literal are spliced together with the literal bytes so callers
// see one logical line per untagged response.
func (c *client) command(format string, args ...interface{}) (*response, error) {
	tag := c.nextTag()
	if err := c.conn.WriteLine(tag+" "+format, args...); err != nil {
		return nil, err
	}
	return c.collect(tag)
}

func (c *client) collect(tag string) (*response, error) {
	resp := &response{}
	for {
		line, err := c.readLogicalLine()
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(line, tag+" ") {
			rest := line[len(tag)+1:]
			sp := strings.IndexByte(rest, ' ')
			if sp < 0 {
				resp.status = rest
			} else {
				resp.status = rest[:sp]
				resp.text = rest[sp+1:]
			}
			if resp.status == "BAD" {
				return resp, &store.ProtocolError{Msg: "imap: " + resp.text}
			}
			return resp, nil
		}
		resp.untagged = append(resp.untagged, line)
	}
}

// readLogicalLine reads one response line, folding {n}-literal
// continuations into it. The literal bytes are kept verbatim between the
// line fragments; fetch parsing digs them back out.
func (c *client) readLogicalLine() (string, error) {
	var b strings.Builder
	for {
		line, err := c.conn.ReadLine()
		if err != nil {
			return "", err
		}
		b.WriteString(line)
		n, ok := literalSize(line)
		if !ok {
			return b.String(), nil
		}
		raw, err := c.conn.ReadLiteral(n)
		if err != nil {
			return "", err
		}
		b.WriteString("\r\n")
		b.Write(raw)
	}
}

// literalSize recognizes a trailing {n} announcing n literal bytes.
func literalSize(line string) (int, bool) {
	if !strings.HasSuffix(line, "}") {
		return 0, false
	}
	open := strings.LastIndexByte(line, '{')
	if open < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(line[open+1 : len(line)-1])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// greetAndAuth runs the connection setup: greeting, capabilities, the
// STARTTLS upgrade when allowed, then authentication.
func greetAndAuth(conn *lineproto.Conn, cfg Config, lg log.Logger) (*client, error) {
	c := &client{conn: conn, lg: lg}
	greeting, err := conn.ReadLine()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(greeting, "* OK") && !strings.HasPrefix(greeting, "* PREAUTH") {
		return nil, &store.ProtocolError{Msg: "imap: unexpected greeting: " + greeting}
	}

	caps, err := c.capabilities()
	if err != nil {
		return nil, err
	}

	wantsTLS := cfg.TLSMode == lineproto.TLSStartTLSOptional || cfg.TLSMode == lineproto.TLSStartTLSRequired
	if wantsTLS && !conn.IsTLS() {
		if caps["STARTTLS"] {
			if _, err := c.command("STARTTLS"); err != nil {
				return nil, err
			}
			if err := conn.StartTLS(cfg.Host); err != nil {
				return nil, err
			}
			// Capabilities may differ after the upgrade.
			if caps, err = c.capabilities(); err != nil {
				return nil, err
			}
		} else if cfg.TLSMode == lineproto.TLSStartTLSRequired {
			return nil, &store.ProtocolError{Msg: "imap: server does not offer STARTTLS"}
		}
	}

	if strings.HasPrefix(greeting, "* PREAUTH") {
		return c, nil
	}
	if cfg.Password == "" && cfg.OAuthToken == "" {
		return nil, &store.NeedsCredential{Username: cfg.User, Plaintext: !conn.IsTLS()}
	}
	if err := c.authenticate(cfg, caps, conn.IsTLS()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *client) capabilities() (map[string]bool, error) {
	resp, err := c.command("CAPABILITY")
	if err != nil {
		return nil, err
	}
	caps := make(map[string]bool)
	for _, line := range resp.untagged {
		if rest, ok := cutPrefixFold(line, "* CAPABILITY "); ok {
			for _, cap := range strings.Fields(rest) {
				caps[strings.ToUpper(cap)] = true
			}
		}
	}
	return caps, nil
}

// authenticate picks the strongest offered SASL mechanism, preferring
// challenge-response forms, and falls back to LOGIN.
func (c *client) authenticate(cfg Config, caps map[string]bool, onTLS bool) error {
	var mech sasl.Mechanism
	switch {
	case cfg.OAuthToken != "":
		mech = &sasl.XOAUTH2Mechanism{Username: cfg.User, AccessToken: cfg.OAuthToken}
	case caps["AUTH=SCRAM-SHA-256"]:
		mech = &sasl.ScramSHA256Mechanism{Username: cfg.User, Password: cfg.Password}
	case caps["AUTH=CRAM-MD5"]:
		mech = &sasl.CRAMMD5Mechanism{Username: cfg.User, Password: cfg.Password}
	case caps["AUTH=PLAIN"]:
		mech = &sasl.PlainMechanism{Username: cfg.User, Password: cfg.Password}
	}

	if mech == nil {
		resp, err := c.command("LOGIN %s %s", quote(cfg.User), quote(cfg.Password))
		if err != nil {
			return err
		}
		if resp.status != "OK" {
			return &store.AuthRejected{Msg: resp.text}
		}
		return nil
	}
	if mech.RequiresTLS() && !onTLS {
		return &store.NeedsCredential{Username: cfg.User, Plaintext: true}
	}
	return c.saslExchange(mech)
}

func (c *client) saslExchange(mech sasl.Mechanism) error {
	initial, err := mech.InitialClientResponse()
	if err != nil {
		return err
	}
	tag := c.nextTag()
	cmd := tag + " AUTHENTICATE " + mech.Name()
	if len(initial) > 0 {
		cmd += " " + base64.StdEncoding.EncodeToString(initial)
	}
	if err := c.conn.WriteLine("%s", cmd); err != nil {
		return err
	}
	for {
		line, err := c.conn.ReadLine()
		if err != nil {
			return err
		}
		if strings.HasPrefix(line, "+ ") || line == "+" {
			challengeB64 := strings.TrimPrefix(strings.TrimPrefix(line, "+"), " ")
			challenge, err := base64.StdEncoding.DecodeString(challengeB64)
			if err != nil {
				return &store.ProtocolError{Msg: "imap: bad sasl challenge encoding"}
			}
			reply, err := mech.RespondToChallenge(challenge)
			if err != nil {
				return err
			}
			if err := c.conn.WriteLine("%s", base64.StdEncoding.EncodeToString(reply)); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, tag+" ") {
			rest := line[len(tag)+1:]
			if strings.HasPrefix(rest, "OK") {
				return nil
			}
			return &store.AuthRejected{Msg: rest}
		}
		// Untagged noise between challenges is legal; skip it.
	}
}

// quote renders an IMAP quoted string.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return "", false
}
