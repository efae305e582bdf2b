package matrix

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gumdropmail/core/httpc"
	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/store"
)

// Client speaks the client-server API to one homeserver over the HTTP
// engine, reconnecting when the connection drops.
type Client struct {
	homeserver string
	port       int
	lg         log.Logger

	mu          sync.Mutex
	conn        *httpc.Conn
	accessToken string
	txnCounter  int
}

// NewClient prepares a client for homeserver (host only; port 443 TLS).
func NewClient(homeserver string, lg log.Logger) *Client {
	return &Client{homeserver: homeserver, port: 443, lg: lg}
}

// SetAccessToken installs the bearer used on every request and drops any
// cached connection so the next request reconnects fresh.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// TxnID returns a fresh transaction id for /send.
func (c *Client) TxnID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txnCounter++
	return fmt.Sprintf("txn%d", c.txnCounter)
}

func (c *Client) getConn() (*httpc.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := httpc.Dial(c.homeserver, c.port, true, c.lg)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) dropConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// apiError is the body shape of Matrix error responses.
type apiError struct {
	Errcode string `json:"errcode"`
	Error_  string `json:"error"`
}

// Do runs one request, delivering the collected body asynchronously. The
// completion callback fires exactly once.
func (c *Client) Do(method, path string, body []byte, onComplete func(status int, body []byte, err error)) {
	conn, err := c.getConn()
	if err != nil {
		onComplete(0, nil, err)
		return
	}
	headers := []httpc.HeaderField{
		{Name: "accept", Value: "application/json"},
	}
	c.mu.Lock()
	if c.accessToken != "" {
		headers = append(headers, httpc.HeaderField{Name: "authorization", Value: "Bearer " + c.accessToken})
	}
	c.mu.Unlock()
	if len(body) > 0 {
		headers = append(headers, httpc.HeaderField{Name: "content-type", Value: "application/json"})
	}
	conn.Do(httpc.Request{Method: method, Path: path, Headers: headers, Body: body}, &collector{
		done: func(status int, payload []byte, err error) {
			if err != nil {
				c.dropConn()
			}
			onComplete(status, payload, err)
		},
	})
}

// DoJSON runs a request and unmarshals a 2xx body into out; non-2xx
// responses are classified into the module's error kinds.
func (c *Client) DoJSON(method, path string, body []byte, out interface{}, onComplete func(error)) {
	c.Do(method, path, body, func(status int, payload []byte, err error) {
		if err != nil {
			onComplete(err)
			return
		}
		if status < 200 || status >= 300 {
			onComplete(classifyStatus(status, payload))
			return
		}
		if out != nil {
			if jerr := json.Unmarshal(payload, out); jerr != nil {
				onComplete(&store.ParseError{Msg: "matrix: response json: " + jerr.Error()})
				return
			}
		}
		onComplete(nil)
	})
}

func classifyStatus(status int, body []byte) error {
	var ae apiError
	json.Unmarshal(body, &ae)
	switch {
	case status == 401 || ae.Errcode == "M_UNKNOWN_TOKEN" || ae.Errcode == "M_MISSING_TOKEN":
		return &store.AuthRejected{Msg: ae.Errcode}
	case status == 404:
		return &store.NotFound{Entity: ae.Error_}
	default:
		return &store.ProtocolError{Msg: fmt.Sprintf("matrix: status %d %s", status, ae.Errcode)}
	}
}

// jsonUnmarshal wraps decode failures in the module's ParseError kind.
func jsonUnmarshal(data []byte, out interface{}) error {
	if err := json.Unmarshal(data, out); err != nil {
		return &store.ParseError{Msg: "matrix: response json: " + err.Error()}
	}
	return nil
}

// collector buffers one response for whole-body consumers.
type collector struct {
	status int
	body   []byte
	done   func(status int, body []byte, err error)
	fired  bool
}

func (h *collector) OK(status int)              { h.status = status }
func (h *collector) Error(status int)           { h.status = status }
func (h *collector) Header(name, value string)  {}
func (h *collector) StartBody()                 {}
func (h *collector) BodyChunk(chunk []byte)     { h.body = append(h.body, chunk...) }
func (h *collector) EndBody()                   {}
func (h *collector) Complete() {
	if !h.fired {
		h.fired = true
		h.done(h.status, h.body, nil)
	}
}
func (h *collector) Failed(err error) {
	if !h.fired {
		h.fired = true
		h.done(h.status, h.body, err)
	}
}
