package matrix

import (
	"fmt"
	"sync"
	"time"

	"github.com/gumdropmail/core/internal/events"
	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/jsonpush"
	"github.com/gumdropmail/core/message"
	"github.com/gumdropmail/core/store"
	"github.com/gumdropmail/core/uri"
)

var (
	_ store.Store      = (*Store)(nil)
	_ store.OAuthStore = (*Store)(nil)
	_ store.Folder     = (*Folder)(nil)
	_ store.Transport  = (*Transport)(nil)
)

// Store is one Matrix account on one homeserver. Rooms appear as folders.
type Store struct {
	homeserver string
	userID     string
	client     *Client
	devices    *DeviceTracker
	lg         log.Logger
	bus        *events.Bus

	mu       sync.Mutex
	password string
	loggedIn bool
}

// NewStore prepares an unauthenticated store; the first operation will
// fail with NeedsCredential until SetCredential (or a token via
// SetOAuthCredential) arrives.
func NewStore(homeserver, userID string, lg log.Logger) *Store {
	return &Store{
		homeserver: homeserver,
		userID:     userID,
		client:     NewClient(homeserver, lg),
		devices:    NewDeviceTracker(),
		lg:         lg,
		bus:        events.New(),
	}
}

// Bus exposes the store's lifecycle event bus.
func (s *Store) Bus() *events.Bus { return s.bus }

// Devices exposes the device tracker for verification front-ends.
func (s *Store) Devices() *DeviceTracker { return s.devices }

func (s *Store) URI() string        { return uri.MatrixStoreURI(s.homeserver, s.userID) }
func (s *Store) Kind() uri.StoreKind { return uri.KindMatrix }

func (s *Store) SetCredential(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if username != "" {
		s.userID = username
	}
	s.password = password
	s.loggedIn = false
}

// SetOAuthCredential installs an access token directly, bypassing the
// password login, and drops any cached connection.
func (s *Store) SetOAuthCredential(email, token string) {
	s.client.SetAccessToken(token)
	s.mu.Lock()
	s.loggedIn = true
	s.mu.Unlock()
}

// ensureLogin performs the password login once; callers without any
// credential get NeedsCredential.
func (s *Store) ensureLogin(onReady func(error)) {
	s.mu.Lock()
	if s.loggedIn {
		s.mu.Unlock()
		onReady(nil)
		return
	}
	if s.password == "" {
		user := s.userID
		s.mu.Unlock()
		s.bus.Publish(events.StoreCredentialNeeded)
		onReady(&store.NeedsCredential{Username: user, Plaintext: false})
		return
	}
	user, pass := s.userID, s.password
	s.mu.Unlock()

	w := jsonpush.NewWriter(nil)
	w.StartObject()
	w.Key("type")
	w.StringValue("m.login.password")
	w.Key("identifier")
	w.StartObject()
	w.Key("type")
	w.StringValue("m.id.user")
	w.Key("user")
	w.StringValue(user)
	w.EndObject()
	w.Key("password")
	w.StringValue(pass)
	w.EndObject()

	var resp struct {
		AccessToken string `json:"access_token"`
		UserID      string `json:"user_id"`
		DeviceID    string `json:"device_id"`
	}
	s.client.DoJSON("POST", pathLogin(), w.Bytes(), &resp, func(err error) {
		if err != nil {
			if _, ok := err.(*store.AuthRejected); ok {
				onReady(&store.AuthRejected{Msg: "matrix login failed"})
				return
			}
			onReady(err)
			return
		}
		s.client.SetAccessToken(resp.AccessToken)
		s.mu.Lock()
		s.loggedIn = true
		if resp.UserID != "" {
			s.userID = resp.UserID
		}
		s.mu.Unlock()
		s.bus.Publish(events.StoreConnected)
		onReady(nil)
	})
}

// ListFolders lists joined rooms; each room id is a folder name.
func (s *Store) ListFolders(onFolder func(store.FolderInfo), onComplete func(error)) {
	s.ensureLogin(func(err error) {
		if err != nil {
			onComplete(err)
			return
		}
		var resp struct {
			JoinedRooms []string `json:"joined_rooms"`
		}
		s.client.DoJSON("GET", pathJoinedRooms(), nil, &resp, func(err error) {
			if err != nil {
				onComplete(err)
				return
			}
			for _, roomID := range resp.JoinedRooms {
				onFolder(store.FolderInfo{Name: roomID})
			}
			onComplete(nil)
		})
	})
}

// OpenFolder opens one room by id.
func (s *Store) OpenFolder(name string, onEvent func(store.FolderEvent), onComplete func(store.Folder, error)) {
	s.ensureLogin(func(err error) {
		if err != nil {
			onComplete(nil, err)
			return
		}
		folder := &Folder{store: s, roomID: name}
		folder.fetchPage("", 64, func(page *messagesPage, err error) {
			if err != nil {
				onComplete(nil, err)
				return
			}
			onEvent(store.FolderEvent{Kind: store.EventExists, Number: uint64(len(page.Chunk))})
			onComplete(folder, nil)
		})
	})
}

func (s *Store) Close() error {
	s.client.dropConn()
	s.bus.Publish(events.StoreClosed)
	return nil
}

// roomEvent is the subset of a timeline event the folder needs.
type roomEvent struct {
	EventID        string `json:"event_id"`
	Sender         string `json:"sender"`
	Type           string `json:"type"`
	OriginServerTS int64  `json:"origin_server_ts"`
	Content        struct {
		MsgType       string         `json:"msgtype"`
		Body          string         `json:"body"`
		Format        string         `json:"format"`
		FormattedBody string         `json:"formatted_body"`
		URL           string         `json:"url"`
		File          *EncryptedFile `json:"file"`
		Info          struct {
			MimeType string `json:"mimetype"`
			Size     int64  `json:"size"`
		} `json:"info"`
	} `json:"content"`
}

type messagesPage struct {
	Chunk []roomEvent `json:"chunk"`
	End   string      `json:"end"`
}

// Folder is one joined room.
type Folder struct {
	store  *Store
	roomID string
}

func (f *Folder) Name() string { return f.roomID }

func (f *Folder) fetchPage(from string, limit int, onDone func(*messagesPage, error)) {
	path := pathRoomMessages(f.roomID) + fmt.Sprintf("?dir=b&limit=%d", limit)
	if from != "" {
		path += "&from=" + from
	}
	var page messagesPage
	f.store.client.DoJSON("GET", path, nil, &page, func(err error) {
		if err != nil {
			onDone(nil, err)
			return
		}
		onDone(&page, nil)
	})
}

func (f *Folder) envelope(ev *roomEvent) message.Envelope {
	return message.Envelope{
		From:    []message.Address{{Local: ev.Sender}},
		To:      []message.Address{{Local: f.roomID}},
		Date:    time.UnixMilli(ev.OriginServerTS).UTC(),
		HasDate: true,
		Subject: firstLine(ev.Content.Body),
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

// collectMessages pages backwards through /messages until max messages are
// gathered or history runs out.
func (f *Folder) collectMessages(max uint64, onDone func([]roomEvent, error)) {
	var all []roomEvent
	var step func(from string)
	step = func(from string) {
		f.fetchPage(from, 64, func(page *messagesPage, err error) {
			if err != nil {
				onDone(nil, err)
				return
			}
			for _, ev := range page.Chunk {
				if ev.Type == "m.room.message" {
					all = append(all, ev)
				}
			}
			if uint64(len(all)) >= max || page.End == "" || len(page.Chunk) == 0 {
				onDone(all, nil)
				return
			}
			step(page.End)
		})
	}
	step("")
}

// ListConversations walks [start, end) over the room's messages, most
// recent first (the server's backwards pagination order).
func (f *Folder) ListConversations(start, end uint64, onSummary func(message.ConversationSummary), onComplete func(error)) {
	f.collectMessages(end, func(evs []roomEvent, err error) {
		if err != nil {
			onComplete(err)
			return
		}
		if end > uint64(len(evs)) {
			end = uint64(len(evs))
		}
		for i := start; i < end; i++ {
			ev := evs[i]
			onSummary(message.ConversationSummary{
				ID:       f.messageID(ev.EventID),
				Envelope: f.envelope(&ev),
				Flags:    message.NewFlagSet(message.Seen),
				Size:     int64(len(ev.Content.Body)),
			})
		}
		onComplete(nil)
	})
}

func (f *Folder) messageID(eventID string) message.ID {
	return message.ID(fmt.Sprintf("matrix://%s/%s/%s",
		f.store.homeserver, message.EscapeFolderName(f.roomID), message.EscapeFolderName(eventID)))
}

// MessageCount walks the full history; rooms have no cheap count endpoint.
func (f *Folder) MessageCount(onComplete func(int64, error)) {
	f.collectMessages(^uint64(0), func(evs []roomEvent, err error) {
		if err != nil {
			onComplete(0, err)
			return
		}
		onComplete(int64(len(evs)), nil)
	})
}

// GetMessage fetches one event by its matrix:// message id.
func (f *Folder) GetMessage(id message.ID, onMetadata func(message.Envelope), onContentChunk func([]byte), onComplete func(*message.Message, error)) {
	eventID, err := eventIDFromMessageID(string(id))
	if err != nil {
		onComplete(nil, err)
		return
	}
	var ev roomEvent
	f.store.client.DoJSON("GET", pathRoomEvent(f.roomID, eventID), nil, &ev, func(err error) {
		if err != nil {
			onComplete(nil, err)
			return
		}
		env := f.envelope(&ev)
		onMetadata(env)
		body := []byte(ev.Content.Body)
		if len(body) > 0 {
			onContentChunk(body)
		}
		msg := &message.Message{
			ConversationSummary: message.ConversationSummary{
				ID:       id,
				Envelope: env,
				Flags:    message.NewFlagSet(message.Seen),
				Size:     int64(len(body)),
			},
			PlainText: ev.Content.Body,
			HasPlain:  true,
		}
		if ev.Content.Format == "org.matrix.custom.html" && ev.Content.FormattedBody != "" {
			msg.HTML = ev.Content.FormattedBody
			msg.HasHTML = true
		}
		onComplete(msg, nil)
	})
}

func eventIDFromMessageID(raw string) (string, error) {
	last := -1
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i] == '/' {
			last = i
			break
		}
	}
	if last < 0 || last == len(raw)-1 {
		return "", &store.ParseError{Msg: "matrix: bad message id: " + raw}
	}
	return unescapeSegment(raw[last+1:])
}

func unescapeSegment(s string) (string, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' {
			if i+2 >= len(s) {
				return "", &store.ParseError{Msg: "matrix: truncated percent escape"}
			}
			hi, lo := hexVal(s[i+1]), hexVal(s[i+2])
			if hi < 0 || lo < 0 {
				return "", &store.ParseError{Msg: "matrix: bad percent escape"}
			}
			out = append(out, byte(hi<<4|lo))
			i += 2
			continue
		}
		out = append(out, s[i])
	}
	return string(out), nil
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

// Transport sends m.room.message events into one room.
type Transport struct {
	s      *Store
	roomID string
}

// NewTransport binds a store to a destination room.
func NewTransport(s *Store, roomID string) *Transport {
	return &Transport{s: s, roomID: roomID}
}

// Send posts the payload as an m.room.message (m.text, with an HTML
// formatted body when present), then uploads and posts each attachment.
func (t *Transport) Send(payload message.SendPayload, onComplete func(error)) {
	t.s.ensureLogin(func(err error) {
		if err != nil {
			onComplete(err)
			return
		}
		t.sendText(payload, func(err error) {
			if err != nil {
				onComplete(err)
				return
			}
			t.sendAttachments(payload.Attachments, 0, onComplete)
		})
	})
}

func (t *Transport) sendText(payload message.SendPayload, onDone func(error)) {
	if !payload.HasPlain && !payload.HasHTML {
		onDone(nil)
		return
	}
	body := payload.PlainText
	if body == "" {
		body = payload.HTML
	}
	w := jsonpush.NewWriter(nil)
	w.StartObject()
	w.Key("msgtype")
	w.StringValue("m.text")
	w.Key("body")
	w.StringValue(body)
	if payload.HasHTML {
		w.Key("format")
		w.StringValue("org.matrix.custom.html")
		w.Key("formatted_body")
		w.StringValue(payload.HTML)
	}
	w.EndObject()
	path := pathSendEvent(t.roomID, "m.room.message", t.s.client.TxnID())
	t.s.client.DoJSON("PUT", path, w.Bytes(), nil, onDone)
}

// sendAttachments uploads each attachment in declared order and posts an
// m.file event referencing it.
func (t *Transport) sendAttachments(atts []message.Attachment, idx int, onDone func(error)) {
	if idx >= len(atts) {
		onDone(nil)
		return
	}
	att := atts[idx]
	t.s.client.Do("POST", pathUpload(att.Filename), att.Content, func(status int, body []byte, err error) {
		if err != nil {
			onDone(err)
			return
		}
		if status < 200 || status >= 300 {
			onDone(classifyStatus(status, body))
			return
		}
		var up struct {
			ContentURI string `json:"content_uri"`
		}
		if jerr := jsonUnmarshal(body, &up); jerr != nil {
			onDone(jerr)
			return
		}
		w := jsonpush.NewWriter(nil)
		w.StartObject()
		w.Key("msgtype")
		w.StringValue("m.file")
		w.Key("body")
		w.StringValue(att.Filename)
		w.Key("url")
		w.StringValue(up.ContentURI)
		w.Key("info")
		w.StartObject()
		w.Key("mimetype")
		w.StringValue(att.MIMEType)
		w.Key("size")
		w.IntValue(int64(len(att.Content)))
		w.EndObject()
		w.EndObject()
		path := pathSendEvent(t.roomID, "m.room.message", t.s.client.TxnID())
		t.s.client.DoJSON("PUT", path, w.Bytes(), nil, func(err error) {
			if err != nil {
				onDone(err)
				return
			}
			t.sendAttachments(atts, idx+1, onDone)
		})
	})
}

// StartSend buffers into a payload and submits through Send.
func (t *Transport) StartSend() (store.SendSession, error) {
	return store.NewBufferedSession(func(p message.SendPayload, done func(error)) {
		t.Send(p, done)
	}), nil
}
