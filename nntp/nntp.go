// Package nntp is the NNTP adapter: newsgroups as folders over a strictly
// sequential request/response session, multi-line responses terminated by
// a lone "." with dot-unstuffing, plus the nntp+post:// posting transport.
package nntp

import (
	"strconv"
	"strings"
	"time"

	"github.com/gumdropmail/core/internal/events"
	"github.com/gumdropmail/core/internal/lineproto"
	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/message"
	"github.com/gumdropmail/core/rfc5322"
	"github.com/gumdropmail/core/smtp"
	"github.com/gumdropmail/core/store"
	"github.com/gumdropmail/core/uri"
)

// Config shapes one NNTP store or posting transport.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	TLSMode     lineproto.TLSMode
	IdleTimeout int // seconds; 0 means the package default
}

var (
	_ store.Store     = (*Store)(nil)
	_ store.Folder    = (*Folder)(nil)
	_ store.Transport = (*PostTransport)(nil)
)

// Store is one news server account.
type Store struct {
	cfg Config
	lg  log.Logger
	bus *events.Bus
	mgr *lineproto.Manager
}

func NewStore(cfg Config, lg log.Logger) *Store {
	s := &Store{cfg: cfg, lg: lg, bus: events.New()}
	lcfg := lineproto.Config{Host: cfg.Host, Port: cfg.Port, TLSMode: cfg.TLSMode}
	if cfg.IdleTimeout > 0 {
		lcfg.IdleTimeout = time.Duration(cfg.IdleTimeout) * time.Second
	}
	s.mgr = lineproto.NewManager(lcfg, lg, func(conn *lineproto.Conn) error {
		return setup(conn, s.cfg, s.bus)
	})
	s.mgr.OnIdleClose = func() { s.bus.Publish(events.StoreIdleTimeout) }
	s.mgr.OnReconnect = func() { s.bus.Publish(events.StoreReconnected) }
	return s
}

// Bus exposes the store's lifecycle event bus.
func (s *Store) Bus() *events.Bus { return s.bus }

func (s *Store) URI() string {
	return uri.StoreURI("nntp", s.cfg.User, s.cfg.Host, s.cfg.Port)
}

func (s *Store) Kind() uri.StoreKind { return uri.KindEmail }

func (s *Store) SetCredential(username, password string) {
	if username != "" {
		s.cfg.User = username
	}
	s.cfg.Password = password
	s.mgr.Drop()
}

func (s *Store) Close() error {
	s.mgr.Drop()
	s.bus.Publish(events.StoreClosed)
	return nil
}

// statusLine reads one "NNN text" response line.
func statusLine(conn *lineproto.Conn) (int, string, error) {
	line, err := conn.ReadLine()
	if err != nil {
		return 0, "", err
	}
	if len(line) < 3 {
		return 0, "", &store.ProtocolError{Msg: "nntp: short response: " + line}
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil {
		return 0, "", &store.ProtocolError{Msg: "nntp: bad response code: " + line}
	}
	return code, strings.TrimSpace(line[3:]), nil
}

func command(conn *lineproto.Conn, wantClass int, format string, args ...interface{}) (int, string, error) {
	if err := conn.WriteLine(format, args...); err != nil {
		return 0, "", err
	}
	code, text, err := statusLine(conn)
	if err != nil {
		return 0, "", err
	}
	if code/100 != wantClass {
		return code, text, &store.ProtocolError{Msg: "nntp: " + strconv.Itoa(code) + " " + text}
	}
	return code, text, nil
}

// setup greets and runs AUTHINFO when credentials are configured.
func setup(conn *lineproto.Conn, cfg Config, bus *events.Bus) error {
	code, _, err := statusLine(conn)
	if err != nil {
		return err
	}
	if code != 200 && code != 201 {
		return &store.ProtocolError{Msg: "nntp: unexpected greeting code " + strconv.Itoa(code)}
	}
	if cfg.User == "" {
		return nil
	}
	if cfg.Password == "" {
		if bus != nil {
			bus.Publish(events.StoreCredentialNeeded)
		}
		return &store.NeedsCredential{Username: cfg.User, Plaintext: !conn.IsTLS()}
	}
	if err := conn.WriteLine("AUTHINFO USER %s", cfg.User); err != nil {
		return err
	}
	code, text, err := statusLine(conn)
	if err != nil {
		return err
	}
	if code == 381 {
		if err := conn.WriteLine("AUTHINFO PASS %s", cfg.Password); err != nil {
			return err
		}
		code, text, err = statusLine(conn)
		if err != nil {
			return err
		}
	}
	if code != 281 {
		return &store.AuthRejected{Msg: text}
	}
	return nil
}

// ListFolders issues LIST ACTIVE; each newsgroup is a folder whose size is
// the high-low article estimate.
func (s *Store) ListFolders(onFolder func(store.FolderInfo), onComplete func(error)) {
	go func() {
		onComplete(s.mgr.Use(func(conn *lineproto.Conn) error {
			if _, _, err := command(conn, 2, "LIST ACTIVE"); err != nil {
				return err
			}
			lines, err := conn.ReadDotBlock()
			if err != nil {
				return err
			}
			for _, line := range lines {
				fields := strings.Fields(line)
				if len(fields) < 3 {
					continue
				}
				high, _ := strconv.ParseInt(fields[1], 10, 64)
				low, _ := strconv.ParseInt(fields[2], 10, 64)
				size := high - low + 1
				if size < 0 {
					size = 0
				}
				onFolder(store.FolderInfo{Name: fields[0], Delimiter: ".", Size: size})
			}
			return nil
		}))
	}()
}

// OpenFolder issues GROUP, reporting the article count.
func (s *Store) OpenFolder(name string, onEvent func(store.FolderEvent), onComplete func(store.Folder, error)) {
	go func() {
		var count, low, high uint64
		err := s.mgr.Use(func(conn *lineproto.Conn) error {
			_, text, err := command(conn, 2, "GROUP %s", name)
			if err != nil {
				return &store.NotFound{Entity: name}
			}
			fields := strings.Fields(text)
			if len(fields) >= 3 {
				count, _ = strconv.ParseUint(fields[0], 10, 64)
				low, _ = strconv.ParseUint(fields[1], 10, 64)
				high, _ = strconv.ParseUint(fields[2], 10, 64)
			}
			return nil
		})
		if err != nil {
			onComplete(nil, err)
			return
		}
		onEvent(store.FolderEvent{Kind: store.EventExists, Number: count})
		onComplete(&Folder{store: s, group: name, low: low, high: high, count: count}, nil)
	}()
}

// Folder is one newsgroup.
type Folder struct {
	store *Store
	group string
	low   uint64
	high  uint64
	count uint64
}

func (f *Folder) Name() string { return f.group }

// regroup re-issues GROUP so the session's current group matches even
// after a transparent reconnect.
func (f *Folder) regroup(conn *lineproto.Conn) error {
	_, text, err := command(conn, 2, "GROUP %s", f.group)
	if err != nil {
		return err
	}
	fields := strings.Fields(text)
	if len(fields) >= 3 {
		f.count, _ = strconv.ParseUint(fields[0], 10, 64)
		f.low, _ = strconv.ParseUint(fields[1], 10, 64)
		f.high, _ = strconv.ParseUint(fields[2], 10, 64)
	}
	return nil
}

func (f *Folder) MessageCount(onComplete func(int64, error)) {
	go func() {
		var count int64
		err := f.store.mgr.Use(func(conn *lineproto.Conn) error {
			if err := f.regroup(conn); err != nil {
				return err
			}
			count = int64(f.count)
			return nil
		})
		onComplete(count, err)
	}()
}

// ListConversations HEADs each article in the window.
func (f *Folder) ListConversations(start, end uint64, onSummary func(message.ConversationSummary), onComplete func(error)) {
	go func() {
		onComplete(f.store.mgr.Use(func(conn *lineproto.Conn) error {
			if err := f.regroup(conn); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				article := f.low + i
				if article > f.high {
					break
				}
				if _, _, err := command(conn, 2, "HEAD %d", article); err != nil {
					continue // expired article numbers leave gaps
				}
				lines, err := conn.ReadDotBlock()
				if err != nil {
					return err
				}
				raw := []byte(strings.Join(lines, "\r\n") + "\r\n\r\n")
				env, perr := rfc5322.ParseEnvelope(raw)
				if perr != nil {
					env = message.Envelope{}
				}
				onSummary(message.ConversationSummary{
					ID:       message.ID(f.articleID(article)),
					Envelope: env,
					Flags:    message.NewFlagSet(),
					Size:     int64(len(raw)),
				})
			}
			return nil
		}))
	}()
}

func (f *Folder) articleID(article uint64) string {
	return uri.StoreURI("nntp", f.store.cfg.User, f.store.cfg.Host, f.store.cfg.Port) +
		"/" + uri.EscapeFolderSegment(f.group) + "/" + strconv.FormatUint(article, 10)
}

// GetMessage fetches one article with ARTICLE.
func (f *Folder) GetMessage(id message.ID, onMetadata func(message.Envelope), onContentChunk func([]byte), onComplete func(*message.Message, error)) {
	go func() {
		raw := string(id)
		slash := strings.LastIndexByte(raw, '/')
		if slash < 0 {
			onComplete(nil, &store.NotFound{Entity: raw})
			return
		}
		article, err := strconv.ParseUint(raw[slash+1:], 10, 64)
		if err != nil {
			onComplete(nil, &store.NotFound{Entity: raw})
			return
		}
		var msg *message.Message
		err = f.store.mgr.Use(func(conn *lineproto.Conn) error {
			if err := f.regroup(conn); err != nil {
				return err
			}
			if _, _, err := command(conn, 2, "ARTICLE %d", article); err != nil {
				return &store.NotFound{Entity: raw}
			}
			lines, err := conn.ReadDotBlock()
			if err != nil {
				return err
			}
			body := []byte(strings.Join(lines, "\r\n"))
			env, perr := rfc5322.ParseEnvelope(body)
			if perr != nil {
				return perr
			}
			onMetadata(env)
			onContentChunk(body)
			msg = &message.Message{
				ConversationSummary: message.ConversationSummary{
					ID:       id,
					Envelope: env,
					Flags:    message.NewFlagSet(),
					Size:     int64(len(body)),
				},
				Raw:    body,
				HasRaw: true,
			}
			return nil
		})
		onComplete(msg, err)
	}()
}

// PostTransport posts articles via POST; its identity is the nntp+post://
// form.
type PostTransport struct {
	cfg    Config
	lg     log.Logger
	bus    *events.Bus
	mgr    *lineproto.Manager
	groups []string
}

// NewPostTransport prepares a posting transport for the given newsgroups.
func NewPostTransport(cfg Config, groups []string, lg log.Logger) *PostTransport {
	t := &PostTransport{cfg: cfg, lg: lg, bus: events.New(), groups: groups}
	lcfg := lineproto.Config{Host: cfg.Host, Port: cfg.Port, TLSMode: cfg.TLSMode}
	if cfg.IdleTimeout > 0 {
		lcfg.IdleTimeout = time.Duration(cfg.IdleTimeout) * time.Second
	}
	t.mgr = lineproto.NewManager(lcfg, lg, func(conn *lineproto.Conn) error {
		return setup(conn, t.cfg, t.bus)
	})
	return t
}

// URI returns the nntp+post transport identity.
func (t *PostTransport) URI() string {
	return uri.NNTPPostURI(t.cfg.User, t.cfg.Host, t.cfg.Port)
}

// Send posts the payload as one article. The Newsgroups header comes from
// the configured group list; recipients are ignored by the wire protocol.
func (t *PostTransport) Send(payload message.SendPayload, onComplete func(error)) {
	go func() {
		onComplete(t.mgr.Use(func(conn *lineproto.Conn) error {
			code, text, err := command(conn, 3, "POST")
			if err != nil {
				if code == 440 {
					return &store.AuthRejected{Msg: text}
				}
				return err
			}
			raw, err := smtp.BuildMIME(payload, time.Now(), t.cfg.Host)
			if err != nil {
				return err
			}
			article := "Newsgroups: " + strings.Join(t.groups, ",") + "\r\n" + string(raw)
			if !strings.HasSuffix(article, "\r\n") {
				article += "\r\n"
			}
			if err := conn.WriteRaw([]byte(article)); err != nil {
				return err
			}
			if _, _, err := command(conn, 2, "."); err != nil {
				return err
			}
			return nil
		}))
	}()
}

// StartSend buffers into a payload and submits through Send.
func (t *PostTransport) StartSend() (store.SendSession, error) {
	return store.NewBufferedSession(func(p message.SendPayload, done func(error)) {
		t.Send(p, done)
	}), nil
}
