package nostr

import (
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gumdropmail/core/internal/events"
	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/message"
	"github.com/gumdropmail/core/store"
	"github.com/gumdropmail/core/uri"
)

// Config shapes one Nostr store/transport pair.
type Config struct {
	SecretKeyHex string
	Relays       []string
	ConfigDir    string

	// UseNIP04 sends legacy kind-4 DMs instead of gift-wrapped kind-14.
	UseNIP04 bool
}

var (
	_ store.Store     = (*Store)(nil)
	_ store.Folder    = (*Folder)(nil)
	_ store.Transport = (*Transport)(nil)
)

// Store is a Nostr account: DM conversations live in the local cache, kept
// current by relay subscriptions; sending publishes to every configured
// relay.
type Store struct {
	cfg    Config
	pubkey string
	cache  *Cache
	lg     log.Logger
	bus    *events.Bus

	mu     sync.Mutex
	relays []*Relay
	closed bool
}

// NewStore derives the account pubkey and prepares the cache. Relay
// connections are opened lazily by Connect.
func NewStore(cfg Config, lg log.Logger) (*Store, error) {
	pub, err := PublicKeyHex(cfg.SecretKeyHex)
	if err != nil {
		return nil, err
	}
	return &Store{
		cfg:    cfg,
		pubkey: pub,
		cache:  NewCache(cfg.ConfigDir, pub),
		lg:     lg,
		bus:    events.New(),
	}, nil
}

// Bus exposes the store's lifecycle event bus.
func (s *Store) Bus() *events.Bus { return s.bus }

// Pubkey returns the account's x-only public key, lowercase hex.
func (s *Store) Pubkey() string { return s.pubkey }

// Connect dials every configured relay and subscribes to inbound DMs
// (kind-4 and gift-wrapped kind-1059 events p-tagged to us). Incoming
// events land in the cache still encrypted.
func (s *Store) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.relays) > 0 {
		return nil
	}
	var firstErr error
	for _, u := range s.cfg.Relays {
		relay, err := DialRelay(u, s.lg, &storeRelaySink{s: s})
		if err != nil {
			s.lg.WithField("relay", u).WithError(err).Warn("relay dial failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, err := relay.Subscribe(Filter{
			Kinds: []int{KindEncryptedDM, KindGiftWrap},
			PTags: []string{s.pubkey},
		}); err != nil {
			relay.Close()
			continue
		}
		s.relays = append(s.relays, relay)
	}
	if len(s.relays) == 0 && firstErr != nil {
		return firstErr
	}
	s.bus.Publish(events.StoreConnected)
	return nil
}

// storeRelaySink routes relay traffic into the cache.
type storeRelaySink struct {
	s *Store
}

func (k *storeRelaySink) EventReceived(subID string, ev *Event) {
	s := k.s
	if !ev.Verify() {
		s.lg.WithField("event", ev.ID).Warn("dropping event with bad signature")
		return
	}
	peer := ev.Pubkey
	if peer == s.pubkey {
		// Our own event echoed back; file it under the recipient.
		peer = ev.TagValue("p")
	}
	if peer == "" {
		return
	}
	if err := s.cache.Append(peer, ev); err != nil {
		s.lg.WithError(err).Warn("cache append failed")
	}
}

func (k *storeRelaySink) EndOfStoredEvents(subID string) {}
func (k *storeRelaySink) PublishResult(eventID string, accepted bool, msg string) {
	if !accepted {
		k.s.lg.WithField("event", eventID).WithField("msg", msg).Warn("relay rejected publish")
	}
}
func (k *storeRelaySink) Notice(msg string)                  { k.s.lg.WithField("notice", msg).Debug("relay notice") }
func (k *storeRelaySink) SubscriptionClosed(subID, r string) {}
func (k *storeRelaySink) AuthChallenge(challenge string)     {}
func (k *storeRelaySink) Disconnected(err error) {
	k.s.lg.WithError(err).Debug("relay disconnected")
}

// URI returns the nostr:store:<pubkey> identity.
func (s *Store) URI() string { return uri.NostrStoreURI(s.pubkey) }

// Kind returns the Nostr discriminant.
func (s *Store) Kind() uri.StoreKind { return uri.KindNostr }

// SetCredential replaces the account secret key (passed as password, hex).
func (s *Store) SetCredential(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.SecretKeyHex = password
	if pub, err := PublicKeyHex(password); err == nil {
		s.pubkey = pub
		s.cache = NewCache(s.cfg.ConfigDir, pub)
	}
}

// ListFolders reports one folder per cached conversation, most recently
// active first.
func (s *Store) ListFolders(onFolder func(store.FolderInfo), onComplete func(error)) {
	go func() {
		convs, err := s.cache.ListConversations()
		if err != nil {
			onComplete(err)
			return
		}
		sort.Slice(convs, func(i, j int) bool { return convs[i].LastActive > convs[j].LastActive })
		for _, conv := range convs {
			onFolder(store.FolderInfo{Name: conv.TheirPubkey})
		}
		onComplete(nil)
	}()
}

// OpenFolder opens one conversation by peer pubkey.
func (s *Store) OpenFolder(name string, onEvent func(store.FolderEvent), onComplete func(store.Folder, error)) {
	go func() {
		evs, err := s.cache.Load(name)
		if err != nil {
			onComplete(nil, err)
			return
		}
		onEvent(store.FolderEvent{Kind: store.EventExists, Number: uint64(len(evs))})
		onComplete(&Folder{store: s, peer: name}, nil)
	}()
}

// Close drops every relay connection.
func (s *Store) Close() error {
	s.mu.Lock()
	relays := s.relays
	s.relays = nil
	s.closed = true
	s.mu.Unlock()
	for _, r := range relays {
		r.Close()
	}
	s.bus.Publish(events.StoreClosed)
	return nil
}

// Folder is one DM conversation.
type Folder struct {
	store *Store
	peer  string
}

func (f *Folder) Name() string { return f.peer }

// load returns the conversation's events sorted oldest-first.
func (f *Folder) load() ([]*Event, error) {
	evs, err := f.store.cache.Load(f.peer)
	if err != nil {
		return nil, err
	}
	sort.Slice(evs, func(i, j int) bool { return evs[i].CreatedAt < evs[j].CreatedAt })
	return evs, nil
}

// decrypt recovers one event's plaintext: kind-4 via its NIP-04 content,
// kind-1059 via gift-wrap unwrapping. The returned event for a wrap is the
// inner rumor.
func (f *Folder) decrypt(ev *Event) (plain string, inner *Event, err error) {
	sec := f.store.cfg.SecretKeyHex
	switch ev.Kind {
	case KindEncryptedDM:
		peer := ev.Pubkey
		if peer == f.store.pubkey {
			peer = ev.TagValue("p")
		}
		plain, err = NIP04Decrypt(sec, peer, ev.Content)
		return plain, ev, err
	case KindGiftWrap:
		rumor, err := Unwrap(sec, ev)
		if err != nil {
			return "", nil, err
		}
		return rumor.Content, rumor, nil
	default:
		return ev.Content, ev, nil
	}
}

func (f *Folder) envelope(ev *Event, inner *Event) message.Envelope {
	author := inner.Pubkey
	env := message.Envelope{
		From:    []message.Address{{Local: author}},
		Date:    time.Unix(inner.CreatedAt, 0).UTC(),
		HasDate: true,
	}
	if to := inner.TagValue("p"); to != "" {
		env.To = []message.Address{{Local: to}}
	} else {
		env.To = []message.Address{{Local: f.store.pubkey}}
	}
	if subject := inner.TagValue("subject"); subject != "" {
		env.Subject = subject
	}
	return env
}

func (f *Folder) messageID(ev *Event) message.ID {
	if ev.Kind == KindGiftWrap || ev.Kind == KindEncryptedDM {
		return message.ID(uri.NostrDMMessageId(strings.ToLower(ev.ID)))
	}
	return message.ID(uri.NostrEventMessageId(strings.ToLower(ev.ID)))
}

// ListConversations walks the [start, end) window oldest-first.
func (f *Folder) ListConversations(start, end uint64, onSummary func(message.ConversationSummary), onComplete func(error)) {
	go func() {
		evs, err := f.load()
		if err != nil {
			onComplete(err)
			return
		}
		if end > uint64(len(evs)) {
			end = uint64(len(evs))
		}
		for i := start; i < end; i++ {
			ev := evs[i]
			_, inner, derr := f.decrypt(ev)
			if derr != nil {
				// An undecryptable event still occupies its position.
				inner = ev
			}
			onSummary(message.ConversationSummary{
				ID:       f.messageID(ev),
				Envelope: f.envelope(ev, inner),
				Flags:    message.NewFlagSet(message.Seen),
				Size:     int64(len(ev.Content)),
			})
		}
		onComplete(nil)
	}()
}

// MessageCount reports the cached event count.
func (f *Folder) MessageCount(onComplete func(int64, error)) {
	go func() {
		evs, err := f.load()
		if err != nil {
			onComplete(0, err)
			return
		}
		onComplete(int64(len(evs)), nil)
	}()
}

// GetMessage decrypts one cached event by its nostr:dm:/nostr:nevent: id.
func (f *Folder) GetMessage(id message.ID, onMetadata func(message.Envelope), onContentChunk func([]byte), onComplete func(*message.Message, error)) {
	go func() {
		raw := string(id)
		wantID := raw
		for _, prefix := range []string{"nostr:dm:", "nostr:nevent:"} {
			if strings.HasPrefix(raw, prefix) {
				wantID = raw[len(prefix):]
				break
			}
		}
		evs, err := f.load()
		if err != nil {
			onComplete(nil, err)
			return
		}
		for _, ev := range evs {
			if !strings.EqualFold(ev.ID, wantID) {
				continue
			}
			plain, inner, derr := f.decrypt(ev)
			if derr != nil {
				onComplete(nil, derr)
				return
			}
			env := f.envelope(ev, inner)
			onMetadata(env)
			onContentChunk([]byte(plain))
			msg := &message.Message{
				ConversationSummary: message.ConversationSummary{
					ID:       id,
					Envelope: env,
					Flags:    message.NewFlagSet(message.Seen),
					Size:     int64(len(plain)),
				},
				PlainText: plain,
				HasPlain:  true,
			}
			onComplete(msg, nil)
			return
		}
		onComplete(nil, &store.NotFound{Entity: raw})
	}()
}

// Transport publishes DMs for one account. It shares the store's relay set.
type Transport struct {
	s *Store
}

// NewTransport wraps a connected store for sending.
func NewTransport(s *Store) *Transport { return &Transport{s: s} }

// URI returns the nostr:transport:<pubkey> identity.
func (t *Transport) URI() string { return uri.NostrTransportURI(t.s.pubkey) }

// Send encrypts the payload for every recipient and publishes. Recipient
// addresses carry the peer pubkey in their local part (domain empty).
func (t *Transport) Send(payload message.SendPayload, onComplete func(error)) {
	go func() {
		onComplete(t.sendSync(payload))
	}()
}

func (t *Transport) sendSync(payload message.SendPayload) error {
	s := t.s
	if err := s.Connect(); err != nil {
		return err
	}
	body := payload.PlainText
	now := time.Now()

	recipients := append([]message.Address{}, payload.To...)
	recipients = append(recipients, payload.Cc...)
	for _, rcpt := range recipients {
		peer, err := normalizePubkey(rcpt.Local)
		if err != nil {
			return err
		}
		var ev *Event
		if s.cfg.UseNIP04 {
			content, err := NIP04Encrypt(s.cfg.SecretKeyHex, peer, body)
			if err != nil {
				return err
			}
			ev = &Event{
				CreatedAt: now.Unix(),
				Kind:      KindEncryptedDM,
				Tags:      [][]string{{"p", peer}},
				Content:   content,
			}
			if err := ev.Sign(s.cfg.SecretKeyHex); err != nil {
				return err
			}
		} else {
			tags := [][]string{{"p", peer}}
			if payload.Subject != "" {
				tags = append(tags, []string{"subject", payload.Subject})
			}
			ev, err = WrapMessage(s.cfg.SecretKeyHex, peer, KindChatMessage, tags, body, now)
			if err != nil {
				return err
			}
		}

		s.mu.Lock()
		relays := append([]*Relay{}, s.relays...)
		s.mu.Unlock()
		for _, r := range relays {
			if err := r.Publish(ev); err != nil {
				s.lg.WithField("relay", r.URL()).WithError(err).Warn("publish failed")
			}
		}
		if err := s.cache.Append(peer, ev); err != nil {
			return err
		}
	}
	return nil
}

// normalizePubkey accepts lowercase hex or an npub1 bech32 form.
func normalizePubkey(s string) (string, error) {
	if strings.HasPrefix(s, "npub1") {
		hrp, hexKey, err := DecodeBech32Entity(s)
		if err != nil {
			return "", err
		}
		if hrp != "npub" {
			return "", &store.ParseError{Msg: "nostr: expected npub entity"}
		}
		return hexKey, nil
	}
	if _, err := hex.DecodeString(s); err != nil || len(s) != 64 {
		return "", &store.ParseError{Msg: "nostr: recipient must be 64 hex chars or npub1..."}
	}
	return strings.ToLower(s), nil
}

// StartSend returns a buffering session that submits through Send at
// EndSend time; Nostr has no streaming wire format to preserve beyond
// chunk order.
func (t *Transport) StartSend() (store.SendSession, error) {
	return store.NewBufferedSession(func(p message.SendPayload, done func(error)) {
		t.Send(p, done)
	}), nil
}
