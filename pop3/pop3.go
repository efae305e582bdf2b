// Package pop3 is the POP3 adapter. Unlike the persistent IMAP/SMTP/NNTP
// sessions, every operation runs its own connect → USER/PASS → command →
// QUIT exchange. Opening the folder sends only STAT; ListConversations and
// GetMessage fetch the UIDL listing afresh in their own sessions.
package pop3

import (
	"strconv"
	"strings"

	"github.com/gumdropmail/core/extract"
	"github.com/gumdropmail/core/internal/events"
	"github.com/gumdropmail/core/internal/lineproto"
	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/message"
	"github.com/gumdropmail/core/rfc5322"
	"github.com/gumdropmail/core/store"
	"github.com/gumdropmail/core/uri"
)

// Config shapes one POP3 store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	TLSMode  lineproto.TLSMode
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Folder = (*Folder)(nil)
)

// Store is one POP3 account. POP3 has exactly one folder, "INBOX".
type Store struct {
	cfg Config
	lg  log.Logger
	bus *events.Bus
}

func NewStore(cfg Config, lg log.Logger) *Store {
	return &Store{cfg: cfg, lg: lg, bus: events.New()}
}

// Bus exposes the store's lifecycle event bus.
func (s *Store) Bus() *events.Bus { return s.bus }

func (s *Store) URI() string {
	return uri.StoreURI("pop3", s.cfg.User, s.cfg.Host, s.cfg.Port)
}

func (s *Store) Kind() uri.StoreKind { return uri.KindEmail }

func (s *Store) userHost() string { return s.cfg.User + "@" + s.cfg.Host }

func (s *Store) SetCredential(username, password string) {
	if username != "" {
		s.cfg.User = username
	}
	s.cfg.Password = password
}

func (s *Store) Close() error {
	s.bus.Publish(events.StoreClosed)
	return nil
}

// session is one connect-to-QUIT exchange.
type session struct {
	conn *lineproto.Conn
}

// expectOK reads one status line and fails on -ERR.
func (t *session) expectOK() (string, error) {
	line, err := t.conn.ReadLine()
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(line, "+OK") {
		return strings.TrimSpace(strings.TrimPrefix(line, "+OK")), nil
	}
	if strings.HasPrefix(line, "-ERR") {
		return "", &store.ProtocolError{Msg: "pop3: " + strings.TrimSpace(strings.TrimPrefix(line, "-ERR"))}
	}
	return "", &store.ProtocolError{Msg: "pop3: malformed status line: " + line}
}

func (t *session) cmd(format string, args ...interface{}) (string, error) {
	if err := t.conn.WriteLine(format, args...); err != nil {
		return "", err
	}
	return t.expectOK()
}

// withSession opens a session, authenticates, runs fn, and QUITs.
func (s *Store) withSession(fn func(*session) error) error {
	if s.cfg.Password == "" {
		s.bus.Publish(events.StoreCredentialNeeded)
		return &store.NeedsCredential{Username: s.cfg.User, Plaintext: s.cfg.TLSMode == lineproto.TLSOff}
	}
	conn, err := lineproto.Dial(lineproto.Config{
		Host: s.cfg.Host, Port: s.cfg.Port, TLSMode: s.cfg.TLSMode,
	}, s.lg)
	if err != nil {
		return err
	}
	defer conn.Close()
	t := &session{conn: conn}
	if _, err := t.expectOK(); err != nil {
		return err
	}
	if s.cfg.TLSMode == lineproto.TLSStartTLSOptional || s.cfg.TLSMode == lineproto.TLSStartTLSRequired {
		if _, err := t.cmd("STLS"); err != nil {
			if s.cfg.TLSMode == lineproto.TLSStartTLSRequired {
				return err
			}
		} else if err := conn.StartTLS(s.cfg.Host); err != nil {
			return err
		}
	}
	if _, err := t.cmd("USER %s", s.cfg.User); err != nil {
		return &store.AuthRejected{Msg: "pop3: USER rejected"}
	}
	if _, err := t.cmd("PASS %s", s.cfg.Password); err != nil {
		return &store.AuthRejected{Msg: "pop3: PASS rejected"}
	}
	ferr := fn(t)
	t.cmd("QUIT")
	return ferr
}

// uidlMap fetches the UIDL listing: message number → unique id.
func (t *session) uidlMap() (map[int]string, []int, error) {
	if _, err := t.cmd("UIDL"); err != nil {
		return nil, nil, err
	}
	lines, err := t.conn.ReadDotBlock()
	if err != nil {
		return nil, nil, err
	}
	m := make(map[int]string, len(lines))
	var order []int
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		m[n] = fields[1]
		order = append(order, n)
	}
	return m, order, nil
}

// ListFolders reports the single INBOX.
func (s *Store) ListFolders(onFolder func(store.FolderInfo), onComplete func(error)) {
	go func() {
		onFolder(store.FolderInfo{Name: "INBOX"})
		onComplete(nil)
	}()
}

// OpenFolder runs STAT and reports the message count; it does not fetch
// the UIDL listing.
func (s *Store) OpenFolder(name string, onEvent func(store.FolderEvent), onComplete func(store.Folder, error)) {
	go func() {
		if !strings.EqualFold(name, "INBOX") {
			onComplete(nil, &store.NotFound{Entity: name})
			return
		}
		var count uint64
		err := s.withSession(func(t *session) error {
			stat, err := t.cmd("STAT")
			if err != nil {
				return err
			}
			fields := strings.Fields(stat)
			if len(fields) >= 1 {
				if n, err := strconv.ParseUint(fields[0], 10, 64); err == nil {
					count = n
				}
			}
			return nil
		})
		if err != nil {
			onComplete(nil, err)
			return
		}
		onEvent(store.FolderEvent{Kind: store.EventExists, Number: count})
		onComplete(&Folder{store: s}, nil)
	}()
}

// Folder is the INBOX.
type Folder struct {
	store *Store
}

func (f *Folder) Name() string { return "INBOX" }

func (f *Folder) MessageCount(onComplete func(int64, error)) {
	go func() {
		var count int64
		err := f.store.withSession(func(t *session) error {
			stat, err := t.cmd("STAT")
			if err != nil {
				return err
			}
			fields := strings.Fields(stat)
			if len(fields) >= 1 {
				n, perr := strconv.ParseInt(fields[0], 10, 64)
				if perr != nil {
					return &store.ProtocolError{Msg: "pop3: bad STAT line: " + stat}
				}
				count = n
			}
			return nil
		})
		onComplete(count, err)
	}()
}

// ListConversations TOPs each message in the [start, end) window for its
// headers; sizes come from LIST.
func (f *Folder) ListConversations(start, end uint64, onSummary func(message.ConversationSummary), onComplete func(error)) {
	go func() {
		onComplete(f.store.withSession(func(t *session) error {
			uidls, order, err := t.uidlMap()
			if err != nil {
				return err
			}
			sizes, err := t.sizeMap()
			if err != nil {
				return err
			}
			if end > uint64(len(order)) {
				end = uint64(len(order))
			}
			for i := start; i < end; i++ {
				n := order[i]
				if _, err := t.cmd("TOP %d 0", n); err != nil {
					return err
				}
				lines, err := t.conn.ReadDotBlock()
				if err != nil {
					return err
				}
				raw := []byte(strings.Join(lines, "\r\n") + "\r\n\r\n")
				env, perr := rfc5322.ParseEnvelope(raw)
				if perr != nil {
					env = message.Envelope{}
				}
				onSummary(message.ConversationSummary{
					ID:       message.ID(uri.POP3MessageId(f.store.userHost(), uidls[n])),
					Envelope: env,
					Flags:    message.NewFlagSet(),
					Size:     sizes[n],
				})
			}
			return nil
		}))
	}()
}

func (t *session) sizeMap() (map[int]int64, error) {
	if _, err := t.cmd("LIST"); err != nil {
		return nil, err
	}
	lines, err := t.conn.ReadDotBlock()
	if err != nil {
		return nil, err
	}
	m := make(map[int]int64, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		n, err1 := strconv.Atoi(fields[0])
		size, err2 := strconv.ParseInt(fields[1], 10, 64)
		if err1 == nil && err2 == nil {
			m[n] = size
		}
	}
	return m, nil
}

// GetMessage RETRs the message whose UIDL matches the id.
func (f *Folder) GetMessage(id message.ID, onMetadata func(message.Envelope), onContentChunk func([]byte), onComplete func(*message.Message, error)) {
	go func() {
		wantUIDL, ok := uidlFromMessageID(string(id))
		if !ok {
			onComplete(nil, &store.NotFound{Entity: string(id)})
			return
		}
		var msg *message.Message
		err := f.store.withSession(func(t *session) error {
			uidls, order, err := t.uidlMap()
			if err != nil {
				return err
			}
			for _, n := range order {
				if uidls[n] != wantUIDL {
					continue
				}
				if _, err := t.cmd("RETR %d", n); err != nil {
					return err
				}
				lines, err := t.conn.ReadDotBlock()
				if err != nil {
					return err
				}
				raw := []byte(strings.Join(lines, "\r\n"))
				env, perr := rfc5322.ParseEnvelope(raw)
				if perr != nil {
					return perr
				}
				onMetadata(env)
				onContentChunk(raw)
				msg = &message.Message{
					ConversationSummary: message.ConversationSummary{
						ID:       id,
						Envelope: env,
						Flags:    message.NewFlagSet(),
						Size:     int64(len(raw)),
					},
					Raw:    raw,
					HasRaw: true,
				}
				if xerr := extract.Apply(msg); xerr != nil {
					f.store.lg.WithError(xerr).Debug("body extraction failed, raw only")
				}
				return nil
			}
			return &store.NotFound{Entity: string(id)}
		})
		onComplete(msg, err)
	}()
}

// uidlFromMessageID strips the pop3://user@host/ prefix.
func uidlFromMessageID(raw string) (string, bool) {
	const prefix = "pop3://"
	if !strings.HasPrefix(raw, prefix) {
		return "", false
	}
	rest := raw[len(prefix):]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 || slash == len(rest)-1 {
		return "", false
	}
	return rest[slash+1:], true
}
