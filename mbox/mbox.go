// Package mbox is the read-only mbox file store: one file, messages
// separated by "From " lines, ">From " unquoting applied to body text.
// Message identity is the ordinal anchor in the mbox:// URI's fragment.
package mbox

import (
	"bytes"
	"os"
	"strconv"
	"strings"

	"github.com/gumdropmail/core/extract"
	"github.com/gumdropmail/core/internal/events"
	"github.com/gumdropmail/core/internal/log"
	"github.com/gumdropmail/core/message"
	"github.com/gumdropmail/core/rfc5322"
	"github.com/gumdropmail/core/store"
	"github.com/gumdropmail/core/uri"
)

var (
	_ store.Store  = (*Store)(nil)
	_ store.Folder = (*Folder)(nil)
)

// Store is one mbox file.
type Store struct {
	path string
	lg   log.Logger
	bus  *events.Bus
}

func NewStore(path string, lg log.Logger) *Store {
	return &Store{path: path, lg: lg, bus: events.New()}
}

// Bus exposes the store's lifecycle event bus.
func (s *Store) Bus() *events.Bus { return s.bus }

func (s *Store) URI() string        { return uri.MboxStoreURI(s.path) }
func (s *Store) Kind() uri.StoreKind { return uri.KindEmail }

// SetCredential is a no-op: the filesystem carries no credentials.
func (s *Store) SetCredential(username, password string) {}

func (s *Store) Close() error {
	s.bus.Publish(events.StoreClosed)
	return nil
}

// split carves the file into per-message byte ranges on "From " separator
// lines, un-quoting ">From " at line starts inside bodies.
func (s *Store) split() ([][]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, &store.IOError{Err: err}
	}
	var msgs [][]byte
	var current []byte
	flush := func() {
		if current != nil {
			msgs = append(msgs, current)
			current = nil
		}
	}
	for _, line := range bytes.SplitAfter(data, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		if bytes.HasPrefix(line, []byte("From ")) {
			flush()
			current = []byte{}
			continue
		}
		if current == nil {
			// Content before the first separator is not a message.
			continue
		}
		if bytes.HasPrefix(line, []byte(">From ")) {
			line = line[1:]
		}
		current = append(current, line...)
	}
	flush()
	return msgs, nil
}

// ListFolders reports the single folder, INBOX.
func (s *Store) ListFolders(onFolder func(store.FolderInfo), onComplete func(error)) {
	go func() {
		if _, err := os.Stat(s.path); err != nil {
			onComplete(&store.IOError{Err: err})
			return
		}
		onFolder(store.FolderInfo{Name: "INBOX"})
		onComplete(nil)
	}()
}

func (s *Store) OpenFolder(name string, onEvent func(store.FolderEvent), onComplete func(store.Folder, error)) {
	go func() {
		if !strings.EqualFold(name, "INBOX") {
			onComplete(nil, &store.NotFound{Entity: name})
			return
		}
		msgs, err := s.split()
		if err != nil {
			onComplete(nil, err)
			return
		}
		onEvent(store.FolderEvent{Kind: store.EventExists, Number: uint64(len(msgs))})
		onComplete(&Folder{store: s}, nil)
	}()
}

// Folder is the file's single message sequence.
type Folder struct {
	store *Store
}

func (f *Folder) Name() string { return "INBOX" }

func (f *Folder) MessageCount(onComplete func(int64, error)) {
	go func() {
		msgs, err := f.store.split()
		if err != nil {
			onComplete(0, err)
			return
		}
		onComplete(int64(len(msgs)), nil)
	}()
}

func (f *Folder) ListConversations(start, end uint64, onSummary func(message.ConversationSummary), onComplete func(error)) {
	go func() {
		msgs, err := f.store.split()
		if err != nil {
			onComplete(err)
			return
		}
		if end > uint64(len(msgs)) {
			end = uint64(len(msgs))
		}
		for i := start; i < end; i++ {
			env, perr := rfc5322.ParseEnvelope(msgs[i])
			if perr != nil {
				env = message.Envelope{}
			}
			onSummary(message.ConversationSummary{
				ID:       message.ID(uri.MboxMessageId(f.store.path, strconv.FormatUint(i, 10))),
				Envelope: env,
				Flags:    message.NewFlagSet(),
				Size:     int64(len(msgs[i])),
			})
		}
		onComplete(nil)
	}()
}

func (f *Folder) GetMessage(id message.ID, onMetadata func(message.Envelope), onContentChunk func([]byte), onComplete func(*message.Message, error)) {
	go func() {
		raw := string(id)
		hash := strings.LastIndexByte(raw, '#')
		if hash < 0 {
			onComplete(nil, &store.NotFound{Entity: raw})
			return
		}
		idx, err := strconv.ParseUint(raw[hash+1:], 10, 64)
		if err != nil {
			onComplete(nil, &store.NotFound{Entity: raw})
			return
		}
		msgs, serr := f.store.split()
		if serr != nil {
			onComplete(nil, serr)
			return
		}
		if idx >= uint64(len(msgs)) {
			onComplete(nil, &store.NotFound{Entity: raw})
			return
		}
		body := msgs[idx]
		env, perr := rfc5322.ParseEnvelope(body)
		if perr != nil {
			onComplete(nil, perr)
			return
		}
		onMetadata(env)
		onContentChunk(body)
		msg := &message.Message{
			ConversationSummary: message.ConversationSummary{
				ID:       id,
				Envelope: env,
				Flags:    message.NewFlagSet(),
				Size:     int64(len(body)),
			},
			Raw:    body,
			HasRaw: true,
		}
		if xerr := extract.Apply(msg); xerr != nil {
			f.store.lg.WithError(xerr).Debug("body extraction failed, raw only")
		}
		onComplete(msg, nil)
	}()
}
