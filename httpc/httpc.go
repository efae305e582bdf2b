// Package httpc is the client-side HTTP engine: an ALPN-negotiating
// connection facade over a push-parsed HTTP/1.1 path and a frame-multiplexed
// HTTP/2 path with an HPACK codec. TLS session handling itself is stdlib
// crypto/tls; this package only reads the negotiated protocol back out.
package httpc

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/store"
)

// ConnectTimeout bounds the TCP connect (and TLS handshake) phase.
const ConnectTimeout = 15 * time.Second

// Request is one HTTP request to submit on a connection.
type Request struct {
	Method  string
	Path    string
	Headers []HeaderField
	Body    []byte
}

// ResponseHandler receives the response event sequence for one request:
// exactly one of OK or Error first, then headers, then the optional body
// bracketed by StartBody/EndBody, then trailers, then exactly one of
// Complete or Failed.
type ResponseHandler interface {
	OK(status int)
	Error(status int)
	Header(name, value string)
	StartBody()
	BodyChunk(chunk []byte)
	EndBody()
	Complete()
	Failed(err error)
}

var (
	tlsOnce sync.Once
	tlsConf *tls.Config
)

// clientTLSConfig is the once-initialized ALPN-aware connector shared by
// every TLS connection this process opens.
func clientTLSConfig() *tls.Config {
	tlsOnce.Do(func() {
		tlsConf = &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		}
	})
	return tlsConf
}

// driver is the per-protocol request submitter behind a Conn.
type driver interface {
	submit(req Request, h ResponseHandler)
	close() error
}

// Conn is one open HTTP connection. The protocol negotiated at dial time
// (via ALPN, or HTTP/1.1 for plain connections) dictates the parser for
// the connection's whole lifetime.
type Conn struct {
	host  string
	port  int
	proto string
	d     driver
}

// Dial opens a connection against (host, port, useTLS) and negotiates the
// protocol. Connect timeouts surface as the TimedOut error kind.
func Dial(host string, port int, useTLS bool, lg log.Logger) (*Conn, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	nc, err := net.DialTimeout("tcp", addr, ConnectTimeout)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, &store.TimedOut{Op: "connect " + addr}
		}
		return nil, &store.TransportError{Err: err}
	}

	proto := "http/1.1"
	if useTLS {
		cfg := clientTLSConfig().Clone()
		cfg.ServerName = host
		tc := tls.Client(nc, cfg)
		tc.SetDeadline(time.Now().Add(ConnectTimeout))
		if err := tc.Handshake(); err != nil {
			nc.Close()
			return nil, &store.TransportError{Err: err}
		}
		tc.SetDeadline(time.Time{})
		if np := tc.ConnectionState().NegotiatedProtocol; np != "" {
			proto = np
		}
		nc = tc
	}

	c := &Conn{host: host, port: port, proto: proto}
	authority := host
	if (useTLS && port != 443) || (!useTLS && port != 80) {
		authority = addr
	}
	scheme := "http"
	if useTLS {
		scheme = "https"
	}
	switch proto {
	case "h2":
		h2, err := newH2Conn(nc, scheme, authority, lg)
		if err != nil {
			nc.Close()
			return nil, err
		}
		c.d = h2
	default:
		c.d = newH1Conn(nc, authority, lg)
	}
	lg.WithConn(nc).WithField("proto", proto).Debug("http connection established")
	return c, nil
}

// Protocol returns the negotiated application protocol, "h2" or "http/1.1".
func (c *Conn) Protocol() string { return c.proto }

// Do submits a request. The handler's events fire from the connection's
// read task; Do itself never blocks on the network.
func (c *Conn) Do(req Request, h ResponseHandler) {
	c.d.submit(req, h)
}

// Close shuts the connection down. In-flight requests fail with a
// TransportError.
func (c *Conn) Close() error { return c.d.close() }
