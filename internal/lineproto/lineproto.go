// Package lineproto is the shared plumbing under the IMAP, SMTP, NNTP and
// POP3 adapters: a buffered line-oriented connection with an optional TLS
// layer (implicit or upgraded in place via STARTTLS), and a Manager that
// holds one authenticated session behind an idle timer, reconnecting
// transparently on the next use after the timer fires.
package lineproto

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/store"
)

// DefaultIdleTimeout applies when a Config leaves IdleTimeout zero.
const DefaultIdleTimeout = 300 * time.Second

// ConnectTimeout bounds the TCP connect phase.
const ConnectTimeout = 15 * time.Second

// TLSMode selects how the connection is secured.
type TLSMode int

const (
	// TLSOff never negotiates TLS.
	TLSOff TLSMode = iota
	// TLSImplicit handshakes immediately after connect (imaps/pop3s/smtps).
	TLSImplicit
	// TLSStartTLSOptional upgrades if the server advertises STARTTLS.
	TLSStartTLSOptional
	// TLSStartTLSRequired fails unless the upgrade succeeds.
	TLSStartTLSRequired
)

// Config shapes one adapter connection.
type Config struct {
	Host        string
	Port        int
	TLSMode     TLSMode
	IdleTimeout time.Duration
}

func (c Config) idle() time.Duration {
	if c.IdleTimeout > 0 {
		return c.IdleTimeout
	}
	return DefaultIdleTimeout
}

// Conn is one open line-protocol connection.
type Conn struct {
	nc  net.Conn
	r   *bufio.Reader
	w   *bufio.Writer
	lg  log.Logger
	tls bool
}

// Dial opens the TCP (and, for TLSImplicit, TLS) connection.
func Dial(cfg Config, lg log.Logger) (*Conn, error) {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	nc, err := net.DialTimeout("tcp", addr, ConnectTimeout)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, &store.TimedOut{Op: "connect " + addr}
		}
		return nil, &store.TransportError{Err: err}
	}
	c := &Conn{nc: nc, lg: lg}
	if cfg.TLSMode == TLSImplicit {
		if err := c.handshakeTLS(cfg.Host); err != nil {
			nc.Close()
			return nil, err
		}
	}
	c.r = bufio.NewReader(c.nc)
	c.w = bufio.NewWriter(c.nc)
	lg.WithConn(nc).Debug("connection established")
	return c, nil
}

func (c *Conn) handshakeTLS(serverName string) error {
	tc := tls.Client(c.nc, &tls.Config{ServerName: serverName})
	tc.SetDeadline(time.Now().Add(ConnectTimeout))
	if err := tc.Handshake(); err != nil {
		return &store.TransportError{Err: err}
	}
	tc.SetDeadline(time.Time{})
	c.nc = tc
	c.tls = true
	return nil
}

// StartTLS re-handshakes TLS over the same TCP stream and swaps the
// buffered reader/writer onto it. The caller re-fetches capabilities
// afterwards.
func (c *Conn) StartTLS(serverName string) error {
	if c.tls {
		return nil
	}
	if err := c.handshakeTLS(serverName); err != nil {
		return err
	}
	c.r = bufio.NewReader(c.nc)
	c.w = bufio.NewWriter(c.nc)
	c.lg.WithConn(c.nc).Debug("starttls upgrade complete")
	return nil
}

// IsTLS reports whether the stream is currently encrypted.
func (c *Conn) IsTLS() bool { return c.tls }

// ReadLine reads one CRLF-terminated line without the terminator.
func (c *Conn) ReadLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", &store.TransportError{Err: err}
	}
	line = strings.TrimRight(line, "\r\n")
	return line, nil
}

// WriteLine writes one formatted line plus CRLF and flushes.
func (c *Conn) WriteLine(format string, args ...interface{}) error {
	if _, err := fmt.Fprintf(c.w, format, args...); err != nil {
		return &store.TransportError{Err: err}
	}
	if _, err := c.w.WriteString("\r\n"); err != nil {
		return &store.TransportError{Err: err}
	}
	if err := c.w.Flush(); err != nil {
		return &store.TransportError{Err: err}
	}
	return nil
}

// WriteRaw writes bytes without a terminator and flushes.
func (c *Conn) WriteRaw(data []byte) error {
	if _, err := c.w.Write(data); err != nil {
		return &store.TransportError{Err: err}
	}
	if err := c.w.Flush(); err != nil {
		return &store.TransportError{Err: err}
	}
	return nil
}

// ReadDotBlock reads a multi-line response terminated by a lone ".",
// undoing ".." dot-stuffing at line starts. Used by POP3 RETR/TOP/UIDL
// and every NNTP multi-line response.
func (c *Conn) ReadDotBlock() ([]string, error) {
	var lines []string
	for {
		line, err := c.ReadLine()
		if err != nil {
			return nil, err
		}
		if line == "." {
			return lines, nil
		}
		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}
		lines = append(lines, line)
	}
}

// ReadLiteral reads exactly n bytes (an IMAP {n} literal).
func (c *Conn) ReadLiteral(n int) ([]byte, error) {
	buf := make([]byte, n)
	for filled := 0; filled < n; {
		m, err := c.r.Read(buf[filled:])
		if err != nil {
			return nil, &store.TransportError{Err: err}
		}
		filled += m
	}
	return buf, nil
}

// Close tears the connection down.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// Manager owns one persistent authenticated session behind an idle timer.
// On timer expiry the session closes; the next Use dials and sets up a
// fresh one, invisibly to the caller.
type Manager struct {
	cfg   Config
	lg    log.Logger
	setup func(*Conn) error

	mu    sync.Mutex
	conn  *Conn
	timer *time.Timer

	// OnIdleClose and OnReconnect let the owning store publish lifecycle
	// events; both may be nil.
	OnIdleClose func()
	OnReconnect func()
}

// NewManager wires the dial configuration to a setup function that greets
// and authenticates a fresh connection.
func NewManager(cfg Config, lg log.Logger, setup func(*Conn) error) *Manager {
	return &Manager{cfg: cfg, lg: lg, setup: setup}
}

// Use runs fn against the live session, dialing and setting up first when
// none is open. A transport-level failure inside fn drops the session so
// the next Use reconnects.
func (m *Manager) Use(fn func(*Conn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reconnected := false
	if m.conn == nil {
		conn, err := Dial(m.cfg, m.lg)
		if err != nil {
			return err
		}
		if err := m.setup(conn); err != nil {
			conn.Close()
			return err
		}
		m.conn = conn
		reconnected = true
	}
	m.stopTimerLocked()
	err := fn(m.conn)
	if _, isTransport := err.(*store.TransportError); isTransport {
		m.conn.Close()
		m.conn = nil
		return err
	}
	m.armTimerLocked()
	if reconnected && m.OnReconnect != nil {
		m.OnReconnect()
	}
	return err
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) armTimerLocked() {
	m.stopTimerLocked()
	m.timer = time.AfterFunc(m.cfg.idle(), func() {
		m.mu.Lock()
		if m.conn != nil {
			m.lg.Debug("closing idle session")
			m.conn.Close()
			m.conn = nil
		}
		m.mu.Unlock()
		if m.OnIdleClose != nil {
			m.OnIdleClose()
		}
	})
}

// Drop closes the session immediately (e.g. after a credential change).
func (m *Manager) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}
