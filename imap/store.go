package imap

import (
	"strconv"
	"strings"
	"time"

	"github.com/gumdropmail/core/extract"
	"github.com/gumdropmail/core/internal/events"
	"github.com/gumdropmail/core/internal/lineproto"
	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/message"
	"github.com/gumdropmail/core/rfc5322"
	"github.com/gumdropmail/core/store"
	"github.com/gumdropmail/core/uri"
)

// Config shapes one IMAP store.
type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	OAuthToken string
	TLSMode    lineproto.TLSMode
	IdleTimeout int // seconds; 0 means the package default

	// RedisAddr enables the shared UID-index cache when non-empty.
	RedisAddr string
}

var (
	_ store.Store              = (*Store)(nil)
	_ store.OAuthStore         = (*Store)(nil)
	_ store.DeleteConfigurable = (*Store)(nil)
	_ store.Folder             = (*Folder)(nil)
)

// Store is one IMAP account.
type Store struct {
	cfg Config
	lg  log.Logger
	bus *events.Bus
	mgr *lineproto.Manager

	cache       *uidCache
	deleteMode  store.DeleteMode
	trashFolder string
}

// NewStore prepares a store; the connection opens on first use.
func NewStore(cfg Config, lg log.Logger) *Store {
	s := &Store{cfg: cfg, lg: lg, bus: events.New()}
	s.cache = newUIDCache(cfg.RedisAddr, lg)
	s.mgr = lineproto.NewManager(s.lineConfig(), lg, func(conn *lineproto.Conn) error {
		_, err := greetAndAuth(conn, s.cfg, lg)
		return err
	})
	s.mgr.OnIdleClose = func() { s.bus.Publish(events.StoreIdleTimeout) }
	s.mgr.OnReconnect = func() { s.bus.Publish(events.StoreReconnected) }
	return s
}

func (s *Store) lineConfig() lineproto.Config {
	cfg := lineproto.Config{Host: s.cfg.Host, Port: s.cfg.Port, TLSMode: s.cfg.TLSMode}
	if s.cfg.IdleTimeout > 0 {
		cfg.IdleTimeout = secondsToDuration(s.cfg.IdleTimeout)
	}
	return cfg
}

// Bus exposes the store's lifecycle event bus.
func (s *Store) Bus() *events.Bus { return s.bus }

func (s *Store) URI() string {
	return uri.StoreURI("imap", s.cfg.User, s.cfg.Host, s.cfg.Port)
}

func (s *Store) Kind() uri.StoreKind { return uri.KindEmail }

func (s *Store) userHost() string {
	return s.cfg.User + "@" + s.cfg.Host
}

// SetCredential installs fresh credentials and drops the dead session so
// the retried operation reconnects.
func (s *Store) SetCredential(username, password string) {
	if username != "" {
		s.cfg.User = username
	}
	s.cfg.Password = password
	s.mgr.Drop()
}

// SetOAuthCredential swaps the bearer token and drops any cached
// connection so the next operation reconnects with it.
func (s *Store) SetOAuthCredential(email, token string) {
	if email != "" {
		s.cfg.User = email
	}
	s.cfg.OAuthToken = token
	s.mgr.Drop()
}

// SetDeleteConfig chooses between flag-only deletion and move-to-trash.
func (s *Store) SetDeleteConfig(mode store.DeleteMode, trashFolder string) {
	s.deleteMode = mode
	s.trashFolder = trashFolder
}

func (s *Store) Close() error {
	s.mgr.Drop()
	s.bus.Publish(events.StoreClosed)
	return nil
}

// withClient runs fn inside the managed session.
func (s *Store) withClient(fn func(*client) error) error {
	return s.mgr.Use(func(conn *lineproto.Conn) error {
		return fn(&client{conn: conn, lg: s.lg})
	})
}

// ListFolders issues LIST "" "*".
func (s *Store) ListFolders(onFolder func(store.FolderInfo), onComplete func(error)) {
	go func() {
		err := s.withClient(func(c *client) error {
			resp, err := c.command(`LIST "" "*"`)
			if err != nil {
				return err
			}
			if resp.status != "OK" {
				return &store.ProtocolError{Msg: "imap: LIST failed: " + resp.text}
			}
			for _, line := range resp.untagged {
				info, ok := parseListLine(line)
				if ok {
					onFolder(info)
				}
			}
			return nil
		})
		onComplete(err)
	}()
}

// parseListLine decodes `* LIST (\Attr ...) "delim" name`.
func parseListLine(line string) (store.FolderInfo, bool) {
	rest, ok := cutPrefixFold(line, "* LIST ")
	if !ok {
		return store.FolderInfo{}, false
	}
	var info store.FolderInfo
	if !strings.HasPrefix(rest, "(") {
		return info, false
	}
	close := strings.IndexByte(rest, ')')
	if close < 0 {
		return info, false
	}
	for _, attr := range strings.Fields(rest[1:close]) {
		info.Attributes = append(info.Attributes, attr)
	}
	rest = strings.TrimSpace(rest[close+1:])

	delim, rest, ok := takeAtomOrQuoted(rest)
	if !ok {
		return info, false
	}
	if delim != "NIL" {
		info.Delimiter = delim
	}
	name, _, ok := takeAtomOrQuoted(strings.TrimSpace(rest))
	if !ok {
		return info, false
	}
	info.Name = name
	return info, true
}

// takeAtomOrQuoted consumes either a quoted string (honoring backslash
// escapes) or a space-delimited atom.
func takeAtomOrQuoted(s string) (value, rest string, ok bool) {
	if s == "" {
		return "", "", false
	}
	if s[0] == '"' {
		var b strings.Builder
		i := 1
		for i < len(s) {
			switch s[i] {
			case '\\':
				if i+1 >= len(s) {
					return "", "", false
				}
				b.WriteByte(s[i+1])
				i += 2
			case '"':
				return b.String(), s[i+1:], true
			default:
				b.WriteByte(s[i])
				i++
			}
		}
		return "", "", false
	}
	sp := strings.IndexByte(s, ' ')
	if sp < 0 {
		return s, "", true
	}
	return s[:sp], s[sp:], true
}

// OpenFolder SELECTs the mailbox, reporting each status item as an event.
// A UIDVALIDITY different from the cached one invalidates the mailbox's
// UID-keyed index.
func (s *Store) OpenFolder(name string, onEvent func(store.FolderEvent), onComplete func(store.Folder, error)) {
	go func() {
		var folder *Folder
		err := s.withClient(func(c *client) error {
			resp, err := c.command("SELECT %s", quote(name))
			if err != nil {
				return err
			}
			if resp.status != "OK" {
				return &store.NotFound{Entity: name}
			}
			folder = &Folder{store: s, name: name}
			for _, line := range resp.untagged {
				ev, ok := parseStatusItem(line)
				if !ok {
					continue
				}
				if ev.Kind == store.EventUidValidity {
					if s.cache.checkValidity(s.userHost(), name, uint32(ev.Number)) {
						s.lg.WithField("mailbox", name).Info("uidvalidity changed, dropping uid index")
					}
					folder.uidValidity = uint32(ev.Number)
				}
				if ev.Kind == store.EventExists {
					folder.exists = ev.Number
				}
				onEvent(ev)
			}
			return nil
		})
		if err != nil {
			onComplete(nil, err)
			return
		}
		onComplete(folder, nil)
	}()
}

// parseStatusItem maps SELECT's untagged responses onto folder events.
func parseStatusItem(line string) (store.FolderEvent, bool) {
	fields := strings.Fields(line)
	if len(fields) >= 3 && fields[0] == "*" {
		if n, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
			switch strings.ToUpper(fields[2]) {
			case "EXISTS":
				return store.FolderEvent{Kind: store.EventExists, Number: n}, true
			case "RECENT":
				return store.FolderEvent{Kind: store.EventRecent, Number: n}, true
			}
		}
	}
	if rest, ok := cutPrefixFold(line, "* FLAGS "); ok {
		return store.FolderEvent{Kind: store.EventFlags, Flags: parseFlagList(rest)}, true
	}
	if rest, ok := cutPrefixFold(line, "* OK ["); ok {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return store.FolderEvent{}, false
		}
		inner := rest[:end]
		fields := strings.Fields(inner)
		if len(fields) == 2 {
			if n, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				switch strings.ToUpper(fields[0]) {
				case "UIDVALIDITY":
					return store.FolderEvent{Kind: store.EventUidValidity, Number: n}, true
				case "UIDNEXT":
					return store.FolderEvent{Kind: store.EventUidNext, Number: n}, true
				}
			}
		}
		return store.FolderEvent{Kind: store.EventOther, Text: inner}, true
	}
	return store.FolderEvent{}, false
}

// parseFlagList decodes "(\Seen \Draft custom)" into a FlagSet.
func parseFlagList(s string) message.FlagSet {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	fs := message.NewFlagSet()
	for _, f := range strings.Fields(s) {
		fs.Add(flagFromIMAP(f))
	}
	return fs
}

func flagFromIMAP(f string) message.Flag {
	switch strings.ToLower(f) {
	case `\seen`:
		return message.Seen
	case `\answered`:
		return message.Answered
	case `\flagged`:
		return message.Flagged
	case `\deleted`:
		return message.Deleted
	case `\draft`:
		return message.Draft
	default:
		return message.Custom(strings.TrimPrefix(f, `\`))
	}
}

// Folder is one selected mailbox.
type Folder struct {
	store       *Store
	name        string
	uidValidity uint32
	exists      uint64
}

func (f *Folder) Name() string { return f.name }

// reselect re-issues SELECT inside a fresh session (the manager may have
// reconnected since the folder was opened).
func (f *Folder) reselect(c *client) error {
	resp, err := c.command("SELECT %s", quote(f.name))
	if err != nil {
		return err
	}
	if resp.status != "OK" {
		return &store.NotFound{Entity: f.name}
	}
	for _, line := range resp.untagged {
		ev, ok := parseStatusItem(line)
		if !ok {
			continue
		}
		switch ev.Kind {
		case store.EventExists:
			f.exists = ev.Number
		case store.EventUidValidity:
			if f.store.cache.checkValidity(f.store.userHost(), f.name, uint32(ev.Number)) {
				f.store.lg.WithField("mailbox", f.name).Info("uidvalidity changed, dropping uid index")
			}
			f.uidValidity = uint32(ev.Number)
		}
	}
	return nil
}

// MessageCount reports the EXISTS count from a fresh SELECT.
func (f *Folder) MessageCount(onComplete func(int64, error)) {
	go func() {
		var count int64
		err := f.store.withClient(func(c *client) error {
			if err := f.reselect(c); err != nil {
				return err
			}
			count = int64(f.exists)
			return nil
		})
		onComplete(count, err)
	}()
}

// ListConversations FETCHes envelope headers for the [start, end) window
// of sequence positions.
func (f *Folder) ListConversations(start, end uint64, onSummary func(message.ConversationSummary), onComplete func(error)) {
	go func() {
		err := f.store.withClient(func(c *client) error {
			if err := f.reselect(c); err != nil {
				return err
			}
			if end > f.exists {
				end = f.exists
			}
			if start >= end {
				return nil
			}
			resp, err := c.command(
				"FETCH %d:%d (UID FLAGS RFC822.SIZE BODY.PEEK[HEADER.FIELDS (FROM TO CC SUBJECT DATE MESSAGE-ID)])",
				start+1, end)
			if err != nil {
				return err
			}
			if resp.status != "OK" {
				return &store.ProtocolError{Msg: "imap: FETCH failed: " + resp.text}
			}
			for _, line := range resp.untagged {
				summary, ok := f.parseFetchSummary(line)
				if ok {
					onSummary(summary)
				}
			}
			return nil
		})
		onComplete(err)
	}()
}

// parseFetchSummary digs UID, FLAGS, RFC822.SIZE and the header literal
// out of one logical FETCH response line.
func (f *Folder) parseFetchSummary(line string) (message.ConversationSummary, bool) {
	var summary message.ConversationSummary
	if !strings.HasPrefix(line, "* ") || !strings.Contains(line, " FETCH ") {
		return summary, false
	}
	uid, ok := fetchNumberItem(line, "UID")
	if !ok {
		return summary, false
	}
	summary.ID = message.ID(uri.IMAPMessageId(f.store.userHost(), f.name, uint32(uid)))
	f.store.cache.remember(f.store.userHost(), f.name, f.uidValidity, uint32(uid), string(summary.ID))
	if size, ok := fetchNumberItem(line, "RFC822.SIZE"); ok {
		summary.Size = int64(size)
	}
	if idx := strings.Index(line, "FLAGS ("); idx >= 0 {
		if close := strings.IndexByte(line[idx:], ')'); close >= 0 {
			summary.Flags = parseFlagList(line[idx+len("FLAGS") : idx+close+1])
		}
	}
	if summary.Flags.List() == nil {
		summary.Flags = message.NewFlagSet()
	}
	if headerBytes, ok := literalAfter(line); ok {
		if env, err := rfc5322.ParseEnvelope(headerBytes); err == nil {
			summary.Envelope = env
		}
	}
	return summary, true
}

// fetchNumberItem finds "NAME <digits>" in a FETCH line.
func fetchNumberItem(line, name string) (uint64, bool) {
	idx := strings.Index(line, name+" ")
	if idx < 0 {
		return 0, false
	}
	rest := line[idx+len(name)+1:]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(rest[:end], 10, 64)
	return n, err == nil
}

// literalAfter extracts the literal bytes that readLogicalLine spliced in
// after the first {n} marker.
func literalAfter(line string) ([]byte, bool) {
	open := strings.Index(line, "{")
	if open < 0 {
		return nil, false
	}
	close := strings.Index(line[open:], "}")
	if close < 0 {
		return nil, false
	}
	n, err := strconv.Atoi(line[open+1 : open+close])
	if err != nil {
		return nil, false
	}
	dataStart := open + close + 1
	// readLogicalLine writes a CRLF between the announcing line and the
	// literal bytes.
	if dataStart+2 <= len(line) && line[dataStart] == '\r' && line[dataStart+1] == '\n' {
		dataStart += 2
	}
	if dataStart+n > len(line) {
		return nil, false
	}
	return []byte(line[dataStart : dataStart+n]), true
}

// GetMessage UID-FETCHes the full message body.
func (f *Folder) GetMessage(id message.ID, onMetadata func(message.Envelope), onContentChunk func([]byte), onComplete func(*message.Message, error)) {
	go func() {
		_, mailbox, uid, err := uri.ParseIMAPMessageId(string(id))
		if err != nil {
			onComplete(nil, &store.NotFound{Entity: string(id)})
			return
		}
		if mailbox != f.name {
			onComplete(nil, &store.NotFound{Entity: string(id)})
			return
		}
		var msg *message.Message
		err = f.store.withClient(func(c *client) error {
			if err := f.reselect(c); err != nil {
				return err
			}
			resp, err := c.command("UID FETCH %d (FLAGS RFC822.SIZE BODY.PEEK[])", uid)
			if err != nil {
				return err
			}
			if resp.status != "OK" {
				return &store.ProtocolError{Msg: "imap: UID FETCH failed: " + resp.text}
			}
			for _, line := range resp.untagged {
				raw, ok := literalAfter(line)
				if !ok {
					continue
				}
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
				if idx := strings.Index(line, "FLAGS ("); idx >= 0 {
					if close := strings.IndexByte(line[idx:], ')'); close >= 0 {
						msg.Flags = parseFlagList(line[idx+len("FLAGS") : idx+close+1])
					}
				}
				if xerr := extract.Apply(msg); xerr != nil {
					f.store.lg.WithError(xerr).Debug("body extraction failed, raw only")
				}
				return nil
			}
			return &store.NotFound{Entity: string(id)}
		})
		if err != nil {
			onComplete(nil, err)
			return
		}
		onComplete(msg, nil)
	}()
}

// DeleteMessage applies the configured delete semantics: flag with
// \Deleted, or copy to the trash folder then flag.
func (f *Folder) DeleteMessage(id message.ID, onComplete func(error)) {
	go func() {
		_, _, uid, err := uri.ParseIMAPMessageId(string(id))
		if err != nil {
			onComplete(&store.NotFound{Entity: string(id)})
			return
		}
		onComplete(f.store.withClient(func(c *client) error {
			if err := f.reselect(c); err != nil {
				return err
			}
			if f.store.deleteMode == store.DeleteMoveToTrash && f.store.trashFolder != "" {
				resp, err := c.command("UID COPY %d %s", uid, quote(f.store.trashFolder))
				if err != nil {
					return err
				}
				if resp.status != "OK" {
					return &store.ProtocolError{Msg: "imap: UID COPY failed: " + resp.text}
				}
			}
			resp, err := c.command(`UID STORE %d +FLAGS (\Deleted)`, uid)
			if err != nil {
				return err
			}
			if resp.status != "OK" {
				return &store.ProtocolError{Msg: "imap: UID STORE failed: " + resp.text}
			}
			return nil
		}))
	}()
}

func secondsToDuration(s int) time.Duration { return time.Duration(s) * time.Second }
