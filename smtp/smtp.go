// Package smtp is the SMTP submission transport: a persistent EHLO'd,
// STARTTLS-upgraded, SASL-authenticated session behind an idle timer, with
// a MIME builder translating SendPayloads to RFC 822 on the wire. Server
// replies carrying enhanced status codes are classified through the
// response package rather than by the bare 3-digit code alone.
package smtp

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/gumdropmail/core/internal/events"
	"github.com/gumdropmail/core/internal/lineproto"
	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/message"
	"github.com/gumdropmail/core/response"
	"github.com/gumdropmail/core/sasl"
	"github.com/gumdropmail/core/store"
	"github.com/gumdropmail/core/uri"
)

// Config shapes one SMTP transport.
type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	OAuthToken string
	TLSMode    lineproto.TLSMode
	IdleTimeout int // seconds; 0 means the package default

	// Hostname is the EHLO name; defaults to "localhost".
	Hostname string
}

func (c Config) helo() string {
	if c.Hostname != "" {
		return c.Hostname
	}
	return "localhost"
}

var _ store.Transport = (*Transport)(nil)

// Transport is one SMTP submission account.
type Transport struct {
	cfg Config
	lg  log.Logger
	bus *events.Bus
	mgr *lineproto.Manager
}

// NewTransport prepares a transport; the session opens on first send.
func NewTransport(cfg Config, lg log.Logger) *Transport {
	t := &Transport{cfg: cfg, lg: lg, bus: events.New()}
	lcfg := lineproto.Config{Host: cfg.Host, Port: cfg.Port, TLSMode: cfg.TLSMode}
	if cfg.IdleTimeout > 0 {
		lcfg.IdleTimeout = time.Duration(cfg.IdleTimeout) * time.Second
	}
	t.mgr = lineproto.NewManager(lcfg, lg, t.setup)
	t.mgr.OnIdleClose = func() { t.bus.Publish(events.StoreIdleTimeout) }
	t.mgr.OnReconnect = func() { t.bus.Publish(events.StoreReconnected) }
	return t
}

// Bus exposes the transport's lifecycle event bus.
func (t *Transport) Bus() *events.Bus { return t.bus }

// URI returns the transport identity.
func (t *Transport) URI() string {
	return uri.StoreURI("smtp", t.cfg.User, t.cfg.Host, t.cfg.Port)
}

// SetCredential installs fresh credentials and drops the session.
func (t *Transport) SetCredential(username, password string) {
	if username != "" {
		t.cfg.User = username
	}
	t.cfg.Password = password
	t.mgr.Drop()
}

// SetOAuthCredential swaps the bearer and drops the cached session so the
// next send reconnects with the new token.
func (t *Transport) SetOAuthCredential(email, token string) {
	if email != "" {
		t.cfg.User = email
	}
	t.cfg.OAuthToken = token
	t.mgr.Drop()
}

// Close drops the session.
func (t *Transport) Close() error {
	t.mgr.Drop()
	t.bus.Publish(events.StoreClosed)
	return nil
}

// reply is one (possibly multi-line) SMTP response.
type reply struct {
	code  int
	lines []string
}

func (r *reply) text() string { return strings.Join(r.lines, " / ") }

// enhanced digs the x.y.z enhanced status code out of the first reply
// line when the server sends one.
func (r *reply) enhanced() (response.Enhanced, bool) {
	if len(r.lines) == 0 {
		return response.Enhanced{}, false
	}
	return response.ParseEnhanced(r.lines[0])
}

func readReply(conn *lineproto.Conn) (*reply, error) {
	r := &reply{}
	for {
		line, err := conn.ReadLine()
		if err != nil {
			return nil, err
		}
		if len(line) < 4 {
			return nil, &store.ProtocolError{Msg: "smtp: short reply line: " + line}
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return nil, &store.ProtocolError{Msg: "smtp: bad reply code: " + line}
		}
		r.code = code
		r.lines = append(r.lines, strings.TrimSpace(line[4:]))
		if line[3] == ' ' {
			return r, nil
		}
	}
}

// classify maps a non-2xx reply onto the module's error kinds, consulting
// the enhanced status code's class and subject where present.
func classify(r *reply) error {
	if e, ok := r.enhanced(); ok {
		if e.AuthFailure() {
			return &store.AuthRejected{Msg: e.Describe() + ": " + r.text()}
		}
		if e.Transient() {
			return &store.TransportError{Err: &store.ProtocolError{Msg: e.Describe() + ": " + r.text()}}
		}
	}
	switch {
	case r.code == 530 || r.code == 535 || r.code == 534:
		return &store.AuthRejected{Msg: r.text()}
	case response.ClassOfCode(r.code) == response.ClassTransientFailure:
		return &store.TransportError{Err: &store.ProtocolError{Msg: r.text()}}
	default:
		return &store.ProtocolError{Msg: "smtp: " + r.text()}
	}
}

func cmd(conn *lineproto.Conn, want int, format string, args ...interface{}) (*reply, error) {
	if err := conn.WriteLine(format, args...); err != nil {
		return nil, err
	}
	r, err := readReply(conn)
	if err != nil {
		return nil, err
	}
	if r.code/100 != want {
		return r, classify(r)
	}
	return r, nil
}

// setup greets, upgrades to TLS when offered, and authenticates.
func (t *Transport) setup(conn *lineproto.Conn) error {
	if _, err := readReply(conn); err != nil {
		return err
	}
	exts, err := t.ehlo(conn)
	if err != nil {
		return err
	}

	wantsTLS := t.cfg.TLSMode == lineproto.TLSStartTLSOptional || t.cfg.TLSMode == lineproto.TLSStartTLSRequired
	if wantsTLS && !conn.IsTLS() {
		if _, ok := exts["STARTTLS"]; ok {
			if _, err := cmd(conn, 2, "STARTTLS"); err != nil {
				return err
			}
			if err := conn.StartTLS(t.cfg.Host); err != nil {
				return err
			}
			if exts, err = t.ehlo(conn); err != nil {
				return err
			}
		} else if t.cfg.TLSMode == lineproto.TLSStartTLSRequired {
			return &store.ProtocolError{Msg: "smtp: server does not offer STARTTLS"}
		}
	}

	if t.cfg.User == "" {
		return nil // open relay / already-authorized submission path
	}
	if t.cfg.Password == "" && t.cfg.OAuthToken == "" {
		t.bus.Publish(events.StoreCredentialNeeded)
		return &store.NeedsCredential{Username: t.cfg.User, Plaintext: !conn.IsTLS()}
	}
	return t.authenticate(conn, exts)
}

// ehlo returns the advertised extensions keyed by name, with the remainder
// of each line as the value.
func (t *Transport) ehlo(conn *lineproto.Conn) (map[string]string, error) {
	r, err := cmd(conn, 2, "EHLO %s", t.cfg.helo())
	if err != nil {
		return nil, err
	}
	exts := make(map[string]string)
	for _, line := range r.lines[1:] {
		fields := strings.SplitN(line, " ", 2)
		value := ""
		if len(fields) == 2 {
			value = fields[1]
		}
		exts[strings.ToUpper(fields[0])] = value
	}
	return exts, nil
}

func (t *Transport) authenticate(conn *lineproto.Conn, exts map[string]string) error {
	offered := make(map[string]bool)
	for _, m := range strings.Fields(exts["AUTH"]) {
		offered[strings.ToUpper(m)] = true
	}
	var mech sasl.Mechanism
	switch {
	case t.cfg.OAuthToken != "":
		mech = &sasl.XOAUTH2Mechanism{Username: t.cfg.User, AccessToken: t.cfg.OAuthToken}
	case offered["SCRAM-SHA-256"]:
		mech = &sasl.ScramSHA256Mechanism{Username: t.cfg.User, Password: t.cfg.Password}
	case offered["CRAM-MD5"]:
		mech = &sasl.CRAMMD5Mechanism{Username: t.cfg.User, Password: t.cfg.Password}
	case offered["PLAIN"]:
		mech = &sasl.PlainMechanism{Username: t.cfg.User, Password: t.cfg.Password}
	case offered["LOGIN"]:
		mech = &sasl.LoginMechanism{Username: t.cfg.User, Password: t.cfg.Password}
	default:
		return &store.Unsupported{Feature: "smtp auth mechanisms: " + exts["AUTH"]}
	}
	if mech.RequiresTLS() && !conn.IsTLS() {
		return &store.NeedsCredential{Username: t.cfg.User, Plaintext: true}
	}

	initial, err := mech.InitialClientResponse()
	if err != nil {
		return err
	}
	line := "AUTH " + mech.Name()
	if len(initial) > 0 {
		line += " " + base64.StdEncoding.EncodeToString(initial)
	}
	if err := conn.WriteLine("%s", line); err != nil {
		return err
	}
	for {
		r, err := readReply(conn)
		if err != nil {
			return err
		}
		switch r.code / 100 {
		case 2:
			return nil
		case 3:
			challenge, derr := base64.StdEncoding.DecodeString(r.lines[0])
			if derr != nil {
				return &store.ProtocolError{Msg: "smtp: bad auth challenge encoding"}
			}
			resp, merr := mech.RespondToChallenge(challenge)
			if merr != nil {
				return merr
			}
			if err := conn.WriteLine("%s", base64.StdEncoding.EncodeToString(resp)); err != nil {
				return err
			}
		default:
			return &store.AuthRejected{Msg: r.text()}
		}
	}
}

// Send submits one payload over the managed session.
func (t *Transport) Send(payload message.SendPayload, onComplete func(error)) {
	go func() {
		onComplete(t.mgr.Use(func(conn *lineproto.Conn) error {
			return t.submit(conn, payload)
		}))
	}()
}

func (t *Transport) submit(conn *lineproto.Conn, payload message.SendPayload) error {
	from := payload.From.Local
	if payload.From.Domain != "" {
		from += "@" + payload.From.Domain
	}
	if _, err := cmd(conn, 2, "MAIL FROM:<%s>", from); err != nil {
		return err
	}
	for _, rcpt := range append(append([]message.Address{}, payload.To...), payload.Cc...) {
		addr := rcpt.Local
		if rcpt.Domain != "" {
			addr += "@" + rcpt.Domain
		}
		if _, err := cmd(conn, 2, "RCPT TO:<%s>", addr); err != nil {
			return err
		}
	}
	if _, err := cmd(conn, 3, "DATA"); err != nil {
		return err
	}
	raw, err := BuildMIME(payload, time.Now(), t.cfg.helo())
	if err != nil {
		return err
	}
	if len(raw) > 0 && !strings.HasSuffix(string(raw), "\r\n") {
		raw = append(raw, '\r', '\n')
	}
	if err := conn.WriteRaw(raw); err != nil {
		return err
	}
	if _, err := cmd(conn, 2, "."); err != nil {
		return err
	}
	return nil
}

// StartSend buffers the session into a payload; BuildMIME preserves the
// declared chunk and attachment order in the emitted bytes.
func (t *Transport) StartSend() (store.SendSession, error) {
	return store.NewBufferedSession(func(p message.SendPayload, done func(error)) {
		t.Send(p, done)
	}), nil
}
